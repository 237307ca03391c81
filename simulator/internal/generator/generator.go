// Package generator produces synthetic machine telemetry with optional
// injected faults, for exercising the monitor end to end.
package generator

import (
	"math/rand"
	"sync"
	"time"

	"github.com/machineguard/machineguard/pkg/types"
)

// Fault is a failure mode the generator can inject.
type Fault string

const (
	FaultNone        Fault = ""
	FaultOverheat    Fault = "overheat"
	FaultGasLeak     Fault = "gas_leak"
	FaultBearingWear Fault = "bearing_wear"
	FaultPowerLoss   Fault = "power_loss"
)

// Faults lists the injectable failure modes.
var Faults = []Fault{FaultOverheat, FaultGasLeak, FaultBearingWear, FaultPowerLoss}

// nominal operating point and noise amplitude per metric.
var nominal = map[string][2]float64{
	types.MetricTemperature: {26, 2},
	types.MetricHumidity:    {45, 5},
	types.MetricGas:         {600, 60},
	types.MetricPower:       {120, 8},
	types.MetricVibration:   {30, 4},
}

// Device simulates one machine. It is safe for concurrent use.
type Device struct {
	ID string

	mu      sync.Mutex
	rng     *rand.Rand
	fault   Fault
	stopped bool
}

// NewDevice returns a Device seeded with seed.
func NewDevice(id string, seed int64) *Device {
	return &Device{ID: id, rng: rand.New(rand.NewSource(seed))} //nolint:gosec // not crypto
}

// SetFault switches the device into fault f; FaultNone restores normal output.
func (d *Device) SetFault(f Fault) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fault = f
}

// Fault returns the active fault.
func (d *Device) Fault() Fault {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fault
}

// Stop makes the device report zero power until Start is called.
func (d *Device) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
}

// Start resumes normal operation.
func (d *Device) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = false
}

// Payload returns one reading as the JSON object the monitor expects.
func (d *Device) Payload(now time.Time) map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()

	p := make(map[string]any, len(nominal)+1)
	for metric, op := range nominal {
		p[metric] = round(op[0] + (d.rng.Float64()*2-1)*op[1])
	}

	switch d.fault {
	case FaultOverheat:
		p[types.MetricTemperature] = round(42 + d.rng.Float64()*6)
	case FaultGasLeak:
		p[types.MetricGas] = round(1300 + d.rng.Float64()*400)
	case FaultBearingWear:
		p[types.MetricVibration] = round(65 + d.rng.Float64()*15)
		p[types.MetricTemperature] = round(36 + d.rng.Float64()*3)
	case FaultPowerLoss:
		p[types.MetricPower] = 0.0
	}
	if d.stopped {
		p[types.MetricPower] = 0.0
		p[types.MetricVibration] = 0.0
	}

	p["timestamp"] = now.UTC().Format(time.RFC3339Nano)
	return p
}

// MaybeFault picks a random fault with probability rate, or clears the
// current one with probability 0.5 when a fault is active.
func (d *Device) MaybeFault(rate float64) Fault {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.fault != FaultNone:
		if d.rng.Float64() < 0.5 {
			d.fault = FaultNone
		}
	case d.rng.Float64() < rate:
		d.fault = Faults[d.rng.Intn(len(Faults))]
	}
	return d.fault
}

func round(v float64) float64 {
	return float64(int64(v*100)) / 100
}
