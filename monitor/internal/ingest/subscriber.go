package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/machineguard/machineguard/monitor/internal/backoff"
	"github.com/machineguard/machineguard/monitor/internal/config"
)

const (
	disconnectQuiesce = 250 // ms
	subscribeTimeout  = 10 * time.Second
)

// ErrNotConnected is returned by Publish while the broker is unreachable.
var ErrNotConnected = errors.New("ingest: not connected to broker")

// Handler processes one inbound message.
type Handler func(ctx context.Context, topic string, payload []byte)

// StatusFunc is called whenever the broker connection goes up or down.
type StatusFunc func(connected bool)

// Command is the payload published on a device control topic.
type Command struct {
	Command  string    `json:"command"`
	IssuedAt time.Time `json:"issued_at"`
}

// Subscriber owns the MQTT client.
type Subscriber struct {
	cfg      config.MQTTConfig
	topic    string
	handle   Handler
	onStatus StatusFunc

	ctx       context.Context // set by Run, used by message callbacks
	mu        sync.Mutex
	client    mqtt.Client
	connected atomic.Bool

	newClient func(*mqtt.ClientOptions) mqtt.Client           // injectable for tests
	sleep     func(ctx context.Context, d time.Duration) bool // injectable for tests
	now       func() time.Time
}

// New creates a Subscriber that delivers messages on topic to handle.
// onStatus may be nil.
func New(cfg config.MQTTConfig, topic string, handle Handler, onStatus StatusFunc) *Subscriber {
	if onStatus == nil {
		onStatus = func(bool) {}
	}
	return &Subscriber{
		cfg:       cfg,
		topic:     topic,
		handle:    handle,
		onStatus:  onStatus,
		ctx:       context.Background(),
		newClient: mqtt.NewClient,
		sleep:     backoff.Sleep,
		now:       time.Now,
	}
}

// Connected reports whether the broker connection is currently up.
func (s *Subscriber) Connected() bool { return s.connected.Load() }

func (s *Subscriber) options() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetConnectTimeout(s.cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(s.cfg.ReconnectMax).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(s.onConnectionLost).
		SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
			slog.Info("ingest: reconnecting", "broker", s.cfg.Broker)
		})
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password())
	}
	return opts
}

// Run connects to the broker, retrying with exponential backoff until the
// first connection succeeds, then blocks until ctx is cancelled. Later
// drops are handled by the client's auto-reconnect.
func (s *Subscriber) Run(ctx context.Context) error {
	s.ctx = ctx
	client := s.newClient(s.options())
	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	bo := backoff.New(s.cfg.ReconnectMin, s.cfg.ReconnectMax)
	for {
		tok := client.Connect()
		tok.Wait()
		err := tok.Error()
		if err == nil {
			break
		}
		wait := bo.Next()
		slog.Error("ingest: connect failed, will retry",
			"broker", s.cfg.Broker, "err", err, "retry_in", wait)
		if !s.sleep(ctx, wait) {
			return ctx.Err()
		}
	}

	<-ctx.Done()
	client.Disconnect(disconnectQuiesce)
	s.setConnected(false)
	slog.Info("ingest: disconnected", "broker", s.cfg.Broker)
	return nil
}

func (s *Subscriber) onConnect(c mqtt.Client) {
	tok := c.Subscribe(s.topic, s.cfg.QoS, s.onMessage)
	if !tok.WaitTimeout(subscribeTimeout) {
		slog.Error("ingest: subscribe timed out", "topic", s.topic)
		return
	}
	if err := tok.Error(); err != nil {
		slog.Error("ingest: subscribe failed", "topic", s.topic, "err", err)
		return
	}
	slog.Info("ingest: connected", "broker", s.cfg.Broker, "topic", s.topic, "qos", s.cfg.QoS)
	s.setConnected(true)
}

func (s *Subscriber) onConnectionLost(_ mqtt.Client, err error) {
	slog.Warn("ingest: connection lost", "broker", s.cfg.Broker, "err", err)
	s.setConnected(false)
}

func (s *Subscriber) onMessage(_ mqtt.Client, m mqtt.Message) {
	s.handle(s.ctx, m.Topic(), m.Payload())
}

func (s *Subscriber) setConnected(v bool) {
	if s.connected.Swap(v) != v {
		s.onStatus(v)
	}
}

// Publish sends command to deviceID on the configured control topic.
func (s *Subscriber) Publish(ctx context.Context, deviceID, command string) error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil || !s.Connected() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(Command{Command: command, IssuedAt: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("ingest: encode command: %w", err)
	}
	topic := s.cfg.ControlTopicFor(deviceID)
	tok := client.Publish(topic, s.cfg.QoS, false, payload)
	select {
	case <-tok.Done():
	case <-ctx.Done():
		return fmt.Errorf("ingest: publish %s: %w", topic, ctx.Err())
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("ingest: publish %s: %w", topic, err)
	}
	slog.Info("ingest: control command published", "device", deviceID, "topic", topic, "command", command)
	return nil
}
