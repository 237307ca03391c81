package compute

import (
	"log/slog"
	"sync/atomic"

	"github.com/machineguard/machineguard/monitor/internal/anomaly"
	"github.com/machineguard/machineguard/monitor/internal/history"
	"github.com/machineguard/machineguard/monitor/internal/predict"
	"github.com/machineguard/machineguard/pkg/types"
)

// Settings are the tunable thresholds of the engine.
type Settings struct {
	Ranges      map[string]anomaly.Range
	ZThreshold  float64
	MinSamples  int
	Predictions predict.Thresholds
	Scorer      Scorer

	// ExtraPredictions run after the built-in prediction rules.
	ExtraPredictions []predict.Rule
}

// DefaultSettings returns the stock engine thresholds.
func DefaultSettings() Settings {
	return Settings{
		Ranges:      anomaly.DefaultRanges(),
		ZThreshold:  anomaly.DefaultZThreshold,
		MinSamples:  anomaly.DefaultMinSamples,
		Predictions: predict.DefaultThresholds(),
		Scorer:      DefaultScorer(),
	}
}

// ruleset is an immutable bundle swapped as a whole on reconfigure.
type ruleset struct {
	evaluator *anomaly.Evaluator
	predictor *predict.Predictor
	scorer    Scorer
}

func newRuleset(s Settings) *ruleset {
	p := predict.New(predict.BuiltinRules(s.Predictions)...)
	p.Append(s.ExtraPredictions...)
	return &ruleset{
		evaluator: anomaly.New(
			anomaly.RangeRule{Ranges: s.Ranges},
			anomaly.DeviationRule{ZThreshold: s.ZThreshold, MinSamples: s.MinSamples},
		),
		predictor: p,
		scorer:    s.Scorer,
	}
}

// Engine produces one HealthReport per Reading.
//
// Process is safe for concurrent use; readings for the same device are
// serialized by the history store.
type Engine struct {
	history *history.Store
	rules   atomic.Pointer[ruleset]
}

// NewEngine returns an Engine backed by hs.
func NewEngine(hs *history.Store, s Settings) *Engine {
	e := &Engine{history: hs}
	e.rules.Store(newRuleset(s))
	return e
}

// History returns the store the engine reads and appends to.
func (e *Engine) History() *history.Store { return e.history }

// Reconfigure replaces the engine thresholds. Readings already in flight
// finish with the previous set.
func (e *Engine) Reconfigure(s Settings) {
	e.rules.Store(newRuleset(s))
	slog.Info("compute: engine reconfigured",
		"z_threshold", s.ZThreshold,
		"min_samples", s.MinSamples,
		"ranges", len(s.Ranges),
	)
}

// Process evaluates r and returns its HealthReport.
//
// Every metric is judged against the window of prior observations and only
// then appended, so a value never inflates its own baseline. r must come from
// the validator; a reading without a device id is a caller bug and panics.
func (e *Engine) Process(r types.Reading) *types.HealthReport {
	if r.DeviceID == "" {
		panic("compute: Process called with a reading that has no device id")
	}
	rs := e.rules.Load()

	var anomalies []types.AnomalyRecord
	e.history.Apply(r.DeviceID, func(tx *history.Tx) {
		anomalies = rs.evaluator.Evaluate(r, tx)
		for _, m := range r.MetricNames() {
			tx.Record(m, r.Metrics[m])
		}
	})

	predictions := rs.predictor.Predict(r)
	risks := make([]types.Risk, len(predictions))
	for i, p := range predictions {
		risks[i] = p.Risk
	}
	out := rs.scorer.Compute(Input{Anomalies: len(anomalies), Risks: risks})

	if anomalies == nil {
		anomalies = []types.AnomalyRecord{}
	}
	if predictions == nil {
		predictions = []types.Prediction{}
	}

	slog.Debug("compute: reading scored",
		"device", r.DeviceID,
		"score", out.Score,
		"band", out.Band,
		"anomalies", len(anomalies),
		"predictions", len(predictions),
	)

	return &types.HealthReport{
		DeviceID:       r.DeviceID,
		Timestamp:      r.Timestamp,
		ReceivedAt:     r.ReceivedAt,
		Score:          out.Score,
		Band:           out.Band,
		Anomalies:      anomalies,
		Predictions:    predictions,
		Recommendation: out.Recommendation,
	}
}
