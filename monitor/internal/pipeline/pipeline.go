// Package pipeline is the ingestion boundary of the monitor. It turns raw
// transport messages into health reports and fans each report out to the
// configured sinks.
package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/machineguard/machineguard/monitor/internal/alerts"
	"github.com/machineguard/machineguard/monitor/internal/compute"
	"github.com/machineguard/machineguard/monitor/internal/metrics"
	"github.com/machineguard/machineguard/monitor/internal/validate"
	"github.com/machineguard/machineguard/pkg/types"
)

// excerptLen caps how much of a rejected payload is logged.
const excerptLen = 128

// ReportSink receives every health report the engine produces.
type ReportSink interface {
	Put(ctx context.Context, r *types.HealthReport) error
}

// AlertSink receives reports whose alert decision is warning or critical.
type AlertSink interface {
	Notify(ctx context.Context, d alerts.Decision, r *types.HealthReport) error
}

// Classifier maps a report to an alert decision.
type Classifier interface {
	Classify(r *types.HealthReport) alerts.Decision
}

type namedReportSink struct {
	name string
	sink ReportSink
}

type namedAlertSink struct {
	name string
	sink AlertSink
}

// Pipeline validates inbound messages, scores them and dispatches the
// results. Handle must be called from a single goroutine per device to keep
// per-device ordering; the MQTT client delivers messages that way.
type Pipeline struct {
	engine     *compute.Engine
	classifier Classifier
	metrics    *metrics.Registry

	mu          sync.RWMutex
	validator   *validate.Validator
	reportSinks []namedReportSink
	alertSinks  []namedAlertSink
}

// New creates a Pipeline. classifier may be nil, in which case the default
// alert policy is used.
func New(v *validate.Validator, engine *compute.Engine, classifier Classifier, reg *metrics.Registry) *Pipeline {
	if reg == nil {
		reg = metrics.New()
	}
	return &Pipeline{
		engine:     engine,
		classifier: classifier,
		metrics:    reg,
		validator:  v,
	}
}

// AddReportSink registers a report sink. name labels its error counter.
func (p *Pipeline) AddReportSink(name string, s ReportSink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reportSinks = append(p.reportSinks, namedReportSink{name: name, sink: s})
}

// AddAlertSink registers an alert sink. name labels its error counter.
func (p *Pipeline) AddAlertSink(name string, s AlertSink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alertSinks = append(p.alertSinks, namedAlertSink{name: name, sink: s})
}

// SetValidator swaps the validator, e.g. after a configuration reload.
func (p *Pipeline) SetValidator(v *validate.Validator) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.validator = v
}

// Validator returns the validator currently in use.
func (p *Pipeline) Validator() *validate.Validator {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.validator
}

// Handle processes one inbound message. Invalid messages are logged, counted
// and dropped; the returned report is nil in that case.
func (p *Pipeline) Handle(ctx context.Context, topic string, payload []byte) *types.HealthReport {
	p.mu.RLock()
	v := p.validator
	reportSinks := p.reportSinks
	alertSinks := p.alertSinks
	p.mu.RUnlock()

	reading, err := v.Validate(topic, payload)
	if err != nil {
		reason := validate.Reason(err)
		p.metrics.ValidationFailures.With(reason).Inc()
		slog.Warn("pipeline: reading rejected",
			"topic", topic,
			"reason", reason,
			"err", err,
			"payload", validate.Excerpt(payload, excerptLen),
		)
		return nil
	}

	report := p.engine.Process(reading)
	p.record(report)

	for _, s := range reportSinks {
		if err := s.sink.Put(ctx, report); err != nil {
			p.metrics.SinkErrors.With(s.name).Inc()
			slog.Warn("pipeline: report sink failed", "sink", s.name, "device", report.DeviceID, "err", err)
		}
	}

	d := p.classify(report)
	if d.Level == alerts.LevelNone {
		return report
	}
	p.metrics.Alerts.With(string(d.Level)).Inc()
	for _, s := range alertSinks {
		if err := s.sink.Notify(ctx, d, report); err != nil {
			p.metrics.SinkErrors.With(s.name).Inc()
			slog.Warn("pipeline: alert sink failed", "sink", s.name, "device", report.DeviceID, "err", err)
		}
	}
	return report
}

func (p *Pipeline) classify(r *types.HealthReport) alerts.Decision {
	if p.classifier == nil {
		return alerts.Classify(r)
	}
	return p.classifier.Classify(r)
}

func (p *Pipeline) record(r *types.HealthReport) {
	p.metrics.ReadingsProcessed.Inc()
	for _, a := range r.Anomalies {
		p.metrics.Anomalies.With(string(a.Reason)).Inc()
	}
	for _, pr := range r.Predictions {
		p.metrics.Predictions.With(pr.Name).Inc()
	}
}
