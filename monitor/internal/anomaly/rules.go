package anomaly

import (
	"math"

	"github.com/machineguard/machineguard/monitor/internal/history"
	"github.com/machineguard/machineguard/pkg/types"
)

// Default deviation settings.
const (
	DefaultZThreshold = 2.0
	DefaultMinSamples = 10
)

// Rule inspects one metric value against its prior baseline.
type Rule interface {
	Name() string
	Evaluate(metric string, value float64, baseline history.Stats) (types.AnomalyRecord, bool)
}

// Range is a closed interval of normal values for one metric.
type Range struct {
	Low      float64
	High     float64
	Severity types.Severity // defaults to warning
}

// DefaultRanges returns the built-in normal ranges. Vibration and power are
// only checked statistically.
func DefaultRanges() map[string]Range {
	return map[string]Range{
		types.MetricTemperature: {Low: 15, High: 40},
		types.MetricHumidity:    {Low: 20, High: 80},
		types.MetricGas:         {Low: 300, High: 1500},
	}
}

// RangeRule fires when a metric leaves its configured range.
// Metrics without a configured range are ignored.
type RangeRule struct {
	Ranges map[string]Range
}

func (RangeRule) Name() string { return "range" }

func (r RangeRule) Evaluate(metric string, value float64, _ history.Stats) (types.AnomalyRecord, bool) {
	rg, ok := r.Ranges[metric]
	if !ok {
		return types.AnomalyRecord{}, false
	}
	var bound float64
	switch {
	case value < rg.Low:
		bound = rg.Low
	case value > rg.High:
		bound = rg.High
	default:
		return types.AnomalyRecord{}, false
	}
	sev := rg.Severity
	if sev == "" {
		sev = types.SeverityWarning
	}
	return types.AnomalyRecord{
		Metric:    metric,
		Value:     value,
		Reason:    types.ReasonRange,
		Severity:  sev,
		Threshold: bound,
	}, true
}

// DeviationRule fires when |z| exceeds ZThreshold. It is skipped while the
// window holds fewer than MinSamples values or has zero spread.
type DeviationRule struct {
	ZThreshold float64
	MinSamples int
}

func (DeviationRule) Name() string { return "deviation" }

func (r DeviationRule) Evaluate(metric string, value float64, baseline history.Stats) (types.AnomalyRecord, bool) {
	if baseline.Count < r.MinSamples || baseline.StdDev == 0 {
		return types.AnomalyRecord{}, false
	}
	z := (value - baseline.Mean) / baseline.StdDev
	if math.Abs(z) <= r.ZThreshold {
		return types.AnomalyRecord{}, false
	}
	return types.AnomalyRecord{
		Metric:    metric,
		Value:     value,
		Reason:    types.ReasonDeviation,
		Severity:  types.SeverityWarning,
		Threshold: r.ZThreshold,
		ZScore:    z,
	}, true
}
