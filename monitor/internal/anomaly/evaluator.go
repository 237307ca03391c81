package anomaly

import (
	"github.com/machineguard/machineguard/monitor/internal/history"
	"github.com/machineguard/machineguard/pkg/types"
)

// Baseline supplies the prior window statistics for a metric.
// *history.Tx satisfies it.
type Baseline interface {
	Stats(metric string) history.Stats
}

// Evaluator applies an ordered list of rules to every metric of a reading.
type Evaluator struct {
	rules []Rule
}

// New returns an Evaluator running rules in the given order.
func New(rules ...Rule) *Evaluator {
	return &Evaluator{rules: rules}
}

// Default returns an Evaluator with the built-in range and deviation rules.
func Default() *Evaluator {
	return New(
		RangeRule{Ranges: DefaultRanges()},
		DeviationRule{ZThreshold: DefaultZThreshold, MinSamples: DefaultMinSamples},
	)
}

// Rules returns the evaluator's rules in evaluation order.
func (e *Evaluator) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Evaluate returns the anomalies found in r, ordered by metric (canonical
// order) and then by rule. It never fails; an empty result means no anomaly.
func (e *Evaluator) Evaluate(r types.Reading, baseline Baseline) []types.AnomalyRecord {
	var out []types.AnomalyRecord
	for _, metric := range r.MetricNames() {
		value := r.Metrics[metric]
		stats := baseline.Stats(metric)
		for _, rule := range e.rules {
			if rec, ok := rule.Evaluate(metric, value, stats); ok {
				out = append(out, rec)
			}
		}
	}
	return out
}
