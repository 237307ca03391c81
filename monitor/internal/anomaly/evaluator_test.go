package anomaly

import (
	"testing"
	"time"

	"github.com/machineguard/machineguard/monitor/internal/history"
	"github.com/machineguard/machineguard/pkg/types"
)

// statsMap is a fixed Baseline for tests.
type statsMap map[string]history.Stats

func (m statsMap) Stats(metric string) history.Stats { return m[metric] }

func reading(metrics map[string]float64) types.Reading {
	return types.NewReading("dev-1", time.Time{}, time.Time{}, metrics)
}

func nominal() map[string]float64 {
	return map[string]float64{
		types.MetricTemperature: 25,
		types.MetricHumidity:    50,
		types.MetricGas:         500,
		types.MetricVibration:   10,
		types.MetricPower:       2,
	}
}

func TestEvaluate_NominalInRangeNoAnomalies(t *testing.T) {
	// Flat history: stddev 0, so no deviation can fire either.
	flat := statsMap{}
	for m, v := range nominal() {
		flat[m] = history.Stats{Count: 50, Mean: v, StdDev: 0}
	}
	got := Default().Evaluate(reading(nominal()), flat)
	if len(got) != 0 {
		t.Errorf("Evaluate() = %+v, want none", got)
	}
}

func TestEvaluate_TemperatureOutOfRange(t *testing.T) {
	m := nominal()
	m[types.MetricTemperature] = 42

	got := Default().Evaluate(reading(m), statsMap{})
	if len(got) != 1 {
		t.Fatalf("Evaluate() returned %d anomalies, want 1: %+v", len(got), got)
	}
	a := got[0]
	if a.Metric != types.MetricTemperature || a.Reason != types.ReasonRange {
		t.Errorf("anomaly = %+v, want RANGE on temperature", a)
	}
	if a.Severity != types.SeverityWarning {
		t.Errorf("Severity = %q, want warning", a.Severity)
	}
	if a.Threshold != 40 {
		t.Errorf("Threshold = %v, want the crossed high bound 40", a.Threshold)
	}
}

func TestRangeRule_Bounds(t *testing.T) {
	rule := RangeRule{Ranges: DefaultRanges()}
	tests := []struct {
		name   string
		metric string
		value  float64
		fires  bool
		bound  float64
	}{
		{"low edge inclusive", types.MetricTemperature, 15, false, 0},
		{"high edge inclusive", types.MetricTemperature, 40, false, 0},
		{"below low", types.MetricHumidity, 19.9, true, 20},
		{"above high", types.MetricGas, 1501, true, 1500},
		{"vibration unchecked", types.MetricVibration, 1e6, false, 0},
		{"power unchecked", types.MetricPower, -5, false, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec, ok := rule.Evaluate(tc.metric, tc.value, history.Stats{})
			if ok != tc.fires {
				t.Fatalf("fires = %v, want %v", ok, tc.fires)
			}
			if ok && rec.Threshold != tc.bound {
				t.Errorf("Threshold = %v, want %v", rec.Threshold, tc.bound)
			}
		})
	}
}

func TestRangeRule_ConfiguredSeverity(t *testing.T) {
	rule := RangeRule{Ranges: map[string]Range{
		types.MetricGas: {Low: 0, High: 1000, Severity: types.SeverityCritical},
	}}
	rec, ok := rule.Evaluate(types.MetricGas, 1100, history.Stats{})
	if !ok || rec.Severity != types.SeverityCritical {
		t.Errorf("Evaluate = (%+v, %v), want critical RANGE", rec, ok)
	}
}

func TestDeviationRule_ClusteredHistory(t *testing.T) {
	hs := history.New(100)
	for _, v := range []float64{50, 51, 49, 50, 50, 51, 49, 50, 51, 50} {
		hs.Record("dev-1", types.MetricVibration, v)
	}
	base := hs.Stats("dev-1", types.MetricVibration)
	rule := DeviationRule{ZThreshold: DefaultZThreshold, MinSamples: DefaultMinSamples}

	rec, ok := rule.Evaluate(types.MetricVibration, 90, base)
	if !ok {
		t.Fatal("value 90 did not produce a DEVIATION anomaly")
	}
	if rec.Reason != types.ReasonDeviation || rec.Threshold != DefaultZThreshold {
		t.Errorf("anomaly = %+v", rec)
	}
	if rec.ZScore <= DefaultZThreshold {
		t.Errorf("ZScore = %v, want > %v", rec.ZScore, DefaultZThreshold)
	}

	if _, ok := rule.Evaluate(types.MetricVibration, 50, base); ok {
		t.Error("value 50 produced a DEVIATION anomaly, want none")
	}
}

func TestDeviationRule_SkippedBelowMinSamples(t *testing.T) {
	rule := DeviationRule{ZThreshold: 2, MinSamples: 10}
	if _, ok := rule.Evaluate("vibration", 1000, history.Stats{Count: 9, Mean: 1, StdDev: 0.1}); ok {
		t.Error("deviation fired with 9 samples")
	}
}

func TestDeviationRule_SkippedOnZeroStdDev(t *testing.T) {
	rule := DeviationRule{ZThreshold: 2, MinSamples: 10}
	if _, ok := rule.Evaluate("vibration", 1000, history.Stats{Count: 100, Mean: 1}); ok {
		t.Error("deviation fired with zero stddev")
	}
}

func TestEvaluate_OrderIsMetricThenRule(t *testing.T) {
	m := nominal()
	m[types.MetricTemperature] = 100
	m[types.MetricGas] = 5000
	base := statsMap{
		types.MetricTemperature: {Count: 20, Mean: 25, StdDev: 1},
		types.MetricGas:         {Count: 20, Mean: 500, StdDev: 10},
	}

	got := Default().Evaluate(reading(m), base)
	want := []struct {
		metric string
		reason types.Reason
	}{
		{types.MetricTemperature, types.ReasonRange},
		{types.MetricTemperature, types.ReasonDeviation},
		{types.MetricGas, types.ReasonRange},
		{types.MetricGas, types.ReasonDeviation},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d anomalies, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		if got[i].Metric != w.metric || got[i].Reason != w.reason {
			t.Errorf("anomaly[%d] = %s/%s, want %s/%s", i, got[i].Metric, got[i].Reason, w.metric, w.reason)
		}
	}
}
