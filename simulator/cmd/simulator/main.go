package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/machineguard/machineguard/simulator/internal/generator"
)

func main() {
	broker := flag.String("broker", "tcp://localhost:1883", "MQTT broker URL")
	devices := flag.Int("devices", 5, "number of simulated devices")
	prefix := flag.String("prefix", "machine", "device id prefix")
	interval := flag.Duration("interval", 2*time.Second, "publish interval per device")
	faultRate := flag.Float64("fault-rate", 0.02, "per-tick probability of injecting a fault")
	qos := flag.Int("qos", 1, "MQTT QoS for published readings")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fleet := make(map[string]*generator.Device, *devices)
	for i := 1; i <= *devices; i++ {
		id := fmt.Sprintf("%s-%02d", *prefix, i)
		fleet[id] = generator.NewDevice(id, time.Now().UnixNano()+int64(i))
	}

	opts := mqtt.NewClientOptions().
		AddBroker(*broker).
		SetClientID(fmt.Sprintf("machineguard-simulator-%d", os.Getpid())).
		SetAutoReconnect(true).
		SetOnConnectHandler(func(c mqtt.Client) {
			tok := c.Subscribe("control/+/command", 1, func(_ mqtt.Client, m mqtt.Message) {
				handleCommand(fleet, m.Topic(), m.Payload())
			})
			tok.Wait()
			if err := tok.Error(); err != nil {
				slog.Error("simulator: subscribe failed", "err", err)
			}
		})
	client := mqtt.NewClient(opts)
	if tok := client.Connect(); tok.Wait() && tok.Error() != nil {
		slog.Error("simulator: connect failed", "broker", *broker, "err", tok.Error())
		os.Exit(1)
	}
	defer client.Disconnect(250)

	slog.Info("simulator: publishing", "broker", *broker, "devices", *devices, "interval", *interval)

	t := time.NewTicker(*interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("simulator: stopping")
			return
		case now := <-t.C:
			for id, d := range fleet {
				if f := d.MaybeFault(*faultRate); f != generator.FaultNone {
					slog.Debug("simulator: fault active", "device", id, "fault", f)
				}
				payload, err := json.Marshal(d.Payload(now))
				if err != nil {
					slog.Error("simulator: encode reading", "device", id, "err", err)
					continue
				}
				client.Publish("sensors/"+id+"/data", byte(*qos), false, payload)
			}
		}
	}
}

// handleCommand applies a control command published by the monitor.
// Supported commands: stop, start, clear and fault:<name>.
func handleCommand(fleet map[string]*generator.Device, topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 {
		return
	}
	d, ok := fleet[parts[1]]
	if !ok {
		return
	}
	var cmd struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(payload, &cmd); err != nil {
		slog.Warn("simulator: bad command payload", "topic", topic, "err", err)
		return
	}

	switch c := cmd.Command; {
	case c == "stop" || c == "shutdown":
		d.Stop()
	case c == "start":
		d.Start()
	case c == "clear":
		d.SetFault(generator.FaultNone)
	case strings.HasPrefix(c, "fault:"):
		d.SetFault(generator.Fault(strings.TrimPrefix(c, "fault:")))
	default:
		slog.Warn("simulator: unknown command", "device", d.ID, "command", c)
		return
	}
	slog.Info("simulator: command applied", "device", d.ID, "command", cmd.Command)
}
