// Package metrics counts pipeline events and exposes them in the Prometheus
// exposition format.
//
// Every Registry owns its own prometheus.Registry, so tests and multiple
// monitors in one process never collide on the default registerer.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "machineguard"

// Counter is a monotonically increasing value.
type Counter struct {
	c prometheus.Counter
}

// Inc adds one.
func (c *Counter) Inc() { c.c.Inc() }

// Value returns the current count.
func (c *Counter) Value() uint64 { return counterValue(c.c) }

// CounterVec is a set of counters partitioned by one label.
type CounterVec struct {
	vec *prometheus.CounterVec
}

// With returns the counter for the given label value, creating it on first use.
func (v *CounterVec) With(value string) prometheus.Counter {
	return v.vec.WithLabelValues(value)
}

// Snapshot returns the current value of every label.
func (v *CounterVec) Snapshot() map[string]uint64 {
	ch := make(chan prometheus.Metric, 16)
	go func() {
		v.vec.Collect(ch)
		close(ch)
	}()
	out := make(map[string]uint64)
	for m := range ch {
		var pb dto.Metric
		if err := m.Write(&pb); err != nil {
			continue
		}
		for _, lp := range pb.GetLabel() {
			out[lp.GetValue()] = uint64(pb.GetCounter().GetValue())
		}
	}
	return out
}

// Total returns the sum over all labels.
func (v *CounterVec) Total() uint64 {
	var n uint64
	for _, c := range v.Snapshot() {
		n += c
	}
	return n
}

func counterValue(c prometheus.Counter) uint64 {
	var pb dto.Metric
	if err := c.Write(&pb); err != nil {
		return 0
	}
	return uint64(pb.GetCounter().GetValue())
}

// Registry holds every monitor metric.
type Registry struct {
	ReadingsProcessed  *Counter
	ValidationFailures *CounterVec
	Anomalies          *CounterVec
	Predictions        *CounterVec
	Alerts             *CounterVec
	SinkErrors         *CounterVec

	reg         *prometheus.Registry
	devices     atomic.Pointer[func() int]
	devicesOnce sync.Once
}

func newCounterVec(reg prometheus.Registerer, name, help, label string) *CounterVec {
	v := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, []string{label})
	reg.MustRegister(v)
	return &CounterVec{vec: v}
}

// New returns a Registry with all counters at zero.
func New() *Registry {
	reg := prometheus.NewRegistry()
	processed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "readings_processed_total",
		Help:      "Readings scored by the engine.",
	})
	reg.MustRegister(processed)

	return &Registry{
		reg:                reg,
		ReadingsProcessed:  &Counter{c: processed},
		ValidationFailures: newCounterVec(reg, "validation_failures_total", "Inbound messages dropped by validation.", "reason"),
		Anomalies:          newCounterVec(reg, "anomalies_total", "Anomaly records produced.", "reason"),
		Predictions:        newCounterVec(reg, "predictions_total", "Failure predictions fired.", "name"),
		Alerts:             newCounterVec(reg, "alerts_total", "Non-none alert decisions.", "level"),
		SinkErrors:         newCounterVec(reg, "sink_errors_total", "Report or alert sink failures.", "sink"),
	}
}

// TrackDevices sets the callback backing the devices gauge. The gauge is
// registered on the first call; later calls only swap the callback.
func (r *Registry) TrackDevices(fn func() int) {
	r.devices.Store(&fn)
	r.devicesOnce.Do(func() {
		r.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices_tracked",
			Help:      "Devices with live history windows.",
		}, func() float64 {
			if fn := r.devices.Load(); fn != nil {
				return float64((*fn)())
			}
			return 0
		}))
	})
}

// Gather returns all metrics as client_model families, sorted by name.
// Vectors without samples are omitted.
func (r *Registry) Gather() ([]*dto.MetricFamily, error) {
	return r.reg.Gather()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
