package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/machineguard/machineguard/monitor/internal/alerts"
	"github.com/machineguard/machineguard/monitor/internal/compute"
	"github.com/machineguard/machineguard/monitor/internal/history"
	"github.com/machineguard/machineguard/monitor/internal/metrics"
	"github.com/machineguard/machineguard/monitor/internal/validate"
	"github.com/machineguard/machineguard/pkg/types"
)

const (
	nominal = `{"temperature":25,"humidity":50,"gas":500,"power":100}`
	gasLeak = `{"temperature":25,"humidity":50,"gas":1600,"power":100}`
)

type recordingSink struct {
	mu      sync.Mutex
	reports []*types.HealthReport
	alerts  []alerts.Decision
	err     error
}

func (s *recordingSink) Put(_ context.Context, r *types.HealthReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	return s.err
}

func (s *recordingSink) Notify(_ context.Context, d alerts.Decision, _ *types.HealthReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, d)
	return s.err
}

func newPipeline(t *testing.T) (*Pipeline, *metrics.Registry) {
	t.Helper()
	p, reg, _ := newPipelineWithHistory(t)
	return p, reg
}

func newPipelineWithHistory(t *testing.T) (*Pipeline, *metrics.Registry, *history.Store) {
	t.Helper()
	v, err := validate.New(validate.Config{})
	if err != nil {
		t.Fatalf("validate.New: %v", err)
	}
	reg := metrics.New()
	hist := history.New(100)
	eng := compute.NewEngine(hist, compute.DefaultSettings())
	return New(v, eng, nil, reg), reg, hist
}

func TestHandle_ValidReading(t *testing.T) {
	p, reg := newPipeline(t)
	sink := &recordingSink{}
	p.AddReportSink("mem", sink)
	p.AddAlertSink("alerts", sink)

	r := p.Handle(context.Background(), "sensors/press-1/data", []byte(nominal))
	if r == nil {
		t.Fatal("Handle returned nil report for a valid reading")
	}
	if r.DeviceID != "press-1" || r.Score != 100 || r.Band != types.BandGood {
		t.Errorf("report = %+v", r)
	}
	if len(sink.reports) != 1 {
		t.Errorf("report sink got %d reports, want 1", len(sink.reports))
	}
	if len(sink.alerts) != 0 {
		t.Errorf("alert sink called for a healthy report: %v", sink.alerts)
	}
	if got := reg.ReadingsProcessed.Value(); got != 1 {
		t.Errorf("readings processed = %d, want 1", got)
	}
}

func TestHandle_InvalidReadingDropped(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
		reason  string
	}{
		{"bad topic", "sensors/data", nominal, "malformed_topic"},
		{"not json", "sensors/d1/data", "{nope", "malformed_payload"},
		{"trailing data", "sensors/d1/data", nominal + " trailing", "malformed_payload"},
		{"missing power", "sensors/d1/data", `{"temperature":25,"humidity":50,"gas":500}`, "missing_field"},
		{"string metric", "sensors/d1/data", `{"temperature":"hot","humidity":50,"gas":500,"power":1}`, "invalid_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, reg, hist := newPipelineWithHistory(t)
			sink := &recordingSink{}
			p.AddReportSink("mem", sink)

			if r := p.Handle(context.Background(), tt.topic, []byte(tt.payload)); r != nil {
				t.Fatalf("Handle = %+v, want nil", r)
			}
			if len(sink.reports) != 0 {
				t.Error("report sink called for an invalid reading")
			}
			if got := reg.ValidationFailures.Snapshot()[tt.reason]; got != 1 {
				t.Errorf("failures[%s] = %d, want 1 (all: %v)", tt.reason, got, reg.ValidationFailures.Snapshot())
			}
			if reg.ReadingsProcessed.Value() != 0 {
				t.Error("invalid reading counted as processed")
			}
			if n := hist.Len(); n != 0 {
				t.Errorf("history tracks %d devices after an invalid reading, want 0", n)
			}
		})
	}
}

func TestHandle_CriticalAlertDispatched(t *testing.T) {
	p, reg := newPipeline(t)
	sink := &recordingSink{}
	p.AddAlertSink("alerts", sink)

	r := p.Handle(context.Background(), "sensors/d1/data", []byte(gasLeak))
	if r == nil {
		t.Fatal("nil report")
	}
	if len(sink.alerts) != 1 || sink.alerts[0].Level != alerts.LevelCritical {
		t.Fatalf("alerts = %+v, want one critical", sink.alerts)
	}
	if reg.Alerts.Snapshot()["critical"] != 1 {
		t.Errorf("alert counter = %v", reg.Alerts.Snapshot())
	}
	if reg.Predictions.Snapshot()["gas_hazard"] != 1 {
		t.Errorf("prediction counter = %v", reg.Predictions.Snapshot())
	}
	if reg.Anomalies.Snapshot()["RANGE"] != 1 {
		t.Errorf("anomaly counter = %v", reg.Anomalies.Snapshot())
	}
}

func TestHandle_SinkErrorsCountedNotPropagated(t *testing.T) {
	p, reg := newPipeline(t)
	failing := &recordingSink{err: errors.New("boom")}
	ok := &recordingSink{}
	p.AddReportSink("failing", failing)
	p.AddReportSink("ok", ok)

	if r := p.Handle(context.Background(), "sensors/d1/data", []byte(nominal)); r == nil {
		t.Fatal("sink failure dropped the report")
	}
	if len(ok.reports) != 1 {
		t.Error("later sink skipped after an earlier failure")
	}
	if reg.SinkErrors.Snapshot()["failing"] != 1 {
		t.Errorf("sink errors = %v", reg.SinkErrors.Snapshot())
	}
}

type fixedClassifier alerts.Decision

func (f fixedClassifier) Classify(*types.HealthReport) alerts.Decision { return alerts.Decision(f) }

func TestHandle_CustomClassifier(t *testing.T) {
	v, _ := validate.New(validate.Config{})
	eng := compute.NewEngine(history.New(10), compute.DefaultSettings())
	p := New(v, eng, fixedClassifier{Level: alerts.LevelWarning, Notify: true}, nil)
	sink := &recordingSink{}
	p.AddAlertSink("alerts", sink)

	p.Handle(context.Background(), "sensors/d1/data", []byte(nominal))
	if len(sink.alerts) != 1 || sink.alerts[0].Level != alerts.LevelWarning {
		t.Errorf("alerts = %+v", sink.alerts)
	}
}

func TestHandle_OrderPreservedPerDevice(t *testing.T) {
	p, _ := newPipeline(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		p.Handle(ctx, "sensors/d1/data", []byte(nominal))
	}
	st := p.engine.History().Stats("d1", types.MetricTemperature)
	if st.Count != 5 {
		t.Errorf("history count = %d, want 5", st.Count)
	}
}
