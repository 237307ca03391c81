package types

import (
	"sort"
	"time"
)

// Canonical metric names.
const (
	MetricTemperature = "temperature"
	MetricHumidity    = "humidity"
	MetricGas         = "gas"
	MetricVibration   = "vibration"
	MetricPower       = "power"
)

// KnownMetrics is the canonical evaluation order for metrics.
var KnownMetrics = []string{
	MetricTemperature,
	MetricHumidity,
	MetricGas,
	MetricVibration,
	MetricPower,
}

// Reading is one validated telemetry sample for a device.
// Build it with NewReading; the metrics map is never shared with the caller.
type Reading struct {
	DeviceID   string             `json:"device_id"`
	Timestamp  time.Time          `json:"timestamp"`
	ReceivedAt time.Time          `json:"received_at"`
	Metrics    map[string]float64 `json:"metrics"`
}

// NewReading returns a Reading holding a private copy of metrics.
func NewReading(deviceID string, ts, receivedAt time.Time, metrics map[string]float64) Reading {
	cp := make(map[string]float64, len(metrics))
	for k, v := range metrics {
		cp[k] = v
	}
	return Reading{
		DeviceID:   deviceID,
		Timestamp:  ts,
		ReceivedAt: receivedAt,
		Metrics:    cp,
	}
}

// Value returns the value of metric and whether the reading carries it.
func (r Reading) Value(metric string) (float64, bool) {
	v, ok := r.Metrics[metric]
	return v, ok
}

// MetricNames returns the metrics present in r: known metrics first in
// canonical order, then any other keys sorted by name.
func (r Reading) MetricNames() []string {
	out := make([]string, 0, len(r.Metrics))
	known := make(map[string]bool, len(KnownMetrics))
	for _, m := range KnownMetrics {
		known[m] = true
		if _, ok := r.Metrics[m]; ok {
			out = append(out, m)
		}
	}
	var extra []string
	for m := range r.Metrics {
		if !known[m] {
			extra = append(extra, m)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}
