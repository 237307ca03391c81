// Package kafkasink publishes health reports to a Kafka topic as JSON,
// keyed by device id so every device's reports land on one partition in
// order.
package kafkasink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/machineguard/machineguard/monitor/internal/config"
	"github.com/machineguard/machineguard/monitor/internal/shipper"
	"github.com/machineguard/machineguard/pkg/types"
)

// messageWriter is the subset of *kafka.Writer used by Sink.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink writes reports to Kafka. It implements shipper.Sender.
type Sink struct {
	topic  string
	writer messageWriter
}

// New creates a Sink for cfg.
func New(cfg config.KafkaConfig) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafkasink: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafkasink: topic is required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	return &Sink{topic: cfg.Topic, writer: w}, nil
}

// Send publishes r. Encoding failures are permanent; broker errors are retried
// by the shipper.
func (s *Sink) Send(ctx context.Context, r *types.HealthReport) error {
	value, err := json.Marshal(r)
	if err != nil {
		return shipper.Permanent(fmt.Errorf("kafkasink: encode report: %w", err))
	}
	msg := kafka.Message{
		Key:   []byte(r.DeviceID),
		Value: value,
		Time:  r.Timestamp,
		Headers: []kafka.Header{
			{Key: "band", Value: []byte(r.Band)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		if errors.Is(err, kafka.MessageSizeTooLarge) {
			return shipper.Permanent(fmt.Errorf("kafkasink: write %s: %w", s.topic, err))
		}
		return fmt.Errorf("kafkasink: write %s: %w", s.topic, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (s *Sink) Close() error {
	return s.writer.Close()
}
