package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/machineguard/machineguard/monitor/internal/alerts"
	"github.com/machineguard/machineguard/monitor/internal/api"
	"github.com/machineguard/machineguard/monitor/internal/compute"
	"github.com/machineguard/machineguard/monitor/internal/config"
	"github.com/machineguard/machineguard/monitor/internal/dynamosink"
	"github.com/machineguard/machineguard/monitor/internal/healthsrv"
	"github.com/machineguard/machineguard/monitor/internal/history"
	"github.com/machineguard/machineguard/monitor/internal/ingest"
	"github.com/machineguard/machineguard/monitor/internal/kafkasink"
	"github.com/machineguard/machineguard/monitor/internal/metrics"
	"github.com/machineguard/machineguard/monitor/internal/pipeline"
	"github.com/machineguard/machineguard/monitor/internal/reaper"
	"github.com/machineguard/machineguard/monitor/internal/shipper"
	"github.com/machineguard/machineguard/monitor/internal/store"
	"github.com/machineguard/machineguard/monitor/internal/validate"
	"github.com/machineguard/machineguard/monitor/internal/ws"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	watch := flag.Bool("watch", true, "reload engine and alert settings when the config file changes")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("machineguard-monitor starting", "config", *configPath, "version", version)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.Log.SlogLevel())

	slog.Info("config loaded",
		"broker", cfg.MQTT.Broker,
		"topic", cfg.MQTT.Topic,
		"http_port", cfg.Server.HTTPPort,
		"grpc_port", cfg.Server.GRPCPort,
		"window_size", cfg.Engine.WindowSize,
		"device_ttl", cfg.Store.DeviceTTL,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	validator, err := validate.New(cfg.ValidatorConfig())
	if err != nil {
		slog.Error("invalid validation config", "err", err)
		os.Exit(1)
	}

	reg := metrics.New()
	hist := history.New(cfg.Engine.WindowSize)
	reg.TrackDevices(hist.Len)
	engine := compute.NewEngine(hist, cfg.Engine.Settings())

	// Report store, alert state and idle-device reaping.
	reports := store.New(cfg.Store.DeviceTTL, cfg.Store.HistorySize)
	alertEngine := alerts.New(cfg.Alerts)
	go reaper.New(cfg.Store.DeviceTTL, map[string]reaper.Evictor{
		"history": hist,
		"reports": reports,
		"alerts":  alertEngine,
	}).Run(ctx)

	hub := ws.New(reports, cfg.Server.WSInterval)
	go hub.Run(ctx)

	pipe := pipeline.New(validator, engine, alertEngine, reg)
	pipe.AddReportSink("store", reports)
	pipe.AddReportSink("ws", hub)
	pipe.AddAlertSink("alerts", alertEngine)
	pipe.AddReportSink("alerts", alertEngine)

	// Remote sinks ship asynchronously so a slow backend never stalls ingestion.
	var closers []func() error
	if kc := cfg.Sinks.Kafka; kc.Enabled {
		sink, err := kafkasink.New(kc)
		if err != nil {
			slog.Error("failed to create kafka sink", "err", err)
			os.Exit(1)
		}
		sh := shipper.New("kafka", sink, kc.BufferSize)
		go sh.Run(ctx)
		pipe.AddReportSink("kafka", sh)
		closers = append(closers, sink.Close)
		slog.Info("kafka sink enabled", "brokers", kc.Brokers, "topic", kc.Topic)
	}
	if dc := cfg.Sinks.DynamoDB; dc.Enabled {
		sink, err := dynamosink.New(dc)
		if err != nil {
			slog.Error("failed to create dynamodb sink", "err", err)
			os.Exit(1)
		}
		sh := shipper.New("dynamodb", sink, dc.BufferSize)
		go sh.Run(ctx)
		pipe.AddReportSink("dynamodb", sh)
		slog.Info("dynamodb sink enabled", "table", dc.Table, "region", dc.Region)
	}

	// gRPC health follows the broker connection.
	healthSrv := healthsrv.New()
	go func() {
		if err := healthSrv.ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.Server.GRPCPort)); err != nil {
			slog.Error("gRPC health server stopped", "err", err)
		}
	}()

	sub := ingest.New(cfg.MQTT, validator.SubscribeTopic(),
		func(ctx context.Context, topic string, payload []byte) { pipe.Handle(ctx, topic, payload) },
		healthSrv.SetConnected)
	go func() {
		if err := sub.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("MQTT subscriber stopped", "err", err)
		}
	}()

	httpSrv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: api.New(api.Deps{
			Reports:   reports,
			History:   hist,
			Metrics:   reg,
			Alerts:    alertEngine,
			Publisher: sub,
			Connected: sub.Connected,
			Stream:    hub,
			Version:   version,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	if *watch {
		go func() {
			err := config.Watch(ctx, *configPath, func(next *config.Config) {
				applyReload(cfg, next, engine, alertEngine, pipe, level)
			})
			if err != nil {
				slog.Error("config watcher stopped", "err", err)
			}
		}()
	}

	<-ctx.Done()
	slog.Info("machineguard-monitor shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
	healthSrv.Stop()
	alertEngine.Wait()
	for _, c := range closers {
		if err := c(); err != nil {
			slog.Warn("sink close failed", "err", err)
		}
	}
}

// applyReload pushes hot-reloadable settings into the running components.
// Broker, topic, ports and store sizing need a restart.
func applyReload(cur, next *config.Config, engine *compute.Engine, alertEngine *alerts.Engine, pipe *pipeline.Pipeline, level *slog.LevelVar) {
	engine.Reconfigure(next.Engine.Settings())
	alertEngine.Reconfigure(next.Alerts)
	level.Set(next.Log.SlogLevel())

	if next.MQTT.Topic != cur.MQTT.Topic || next.Engine.WindowSize != cur.Engine.WindowSize {
		slog.Warn("config: mqtt.topic and engine.window_size changes need a restart")
	} else if v, err := validate.New(next.ValidatorConfig()); err != nil {
		slog.Error("config: invalid validation settings, keeping previous", "err", err)
	} else {
		pipe.SetValidator(v)
	}
	slog.Info("config: applied", "z_threshold", next.Engine.ZThreshold, "min_samples", next.Engine.MinSamples)
}
