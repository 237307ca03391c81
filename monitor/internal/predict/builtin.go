package predict

import (
	"github.com/machineguard/machineguard/pkg/types"
)

// Built-in rule names.
const (
	RuleBearingFailure    = "bearing_failure"
	RuleGasHazard         = "gas_hazard"
	RuleSensorMalfunction = "sensor_malfunction"
)

// Thresholds parameterise the built-in rules.
type Thresholds struct {
	BearingVibration   float64
	BearingTemperature float64
	GasHazard          float64
	PowerFloor         float64
}

// DefaultThresholds returns the stock thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		BearingVibration:   60,
		BearingTemperature: 35,
		GasHazard:          1200,
		PowerFloor:         0.1,
	}
}

// BuiltinRules returns bearing_failure, gas_hazard and sensor_malfunction in
// that order. A rule whose inputs are missing from the reading does not fire.
func BuiltinRules(th Thresholds) []Rule {
	return []Rule{
		RuleFunc{RuleName: RuleBearingFailure, Fn: func(r types.Reading) (types.Prediction, bool) {
			vib, ok1 := r.Value(types.MetricVibration)
			temp, ok2 := r.Value(types.MetricTemperature)
			if !ok1 || !ok2 || vib <= th.BearingVibration || temp <= th.BearingTemperature {
				return types.Prediction{}, false
			}
			return types.NewPrediction(RuleBearingFailure, types.RiskHigh,
				"Inspect bearings immediately",
				types.MetricVibration, types.MetricTemperature), true
		}},
		RuleFunc{RuleName: RuleGasHazard, Fn: func(r types.Reading) (types.Prediction, bool) {
			gas, ok := r.Value(types.MetricGas)
			if !ok || gas <= th.GasHazard {
				return types.Prediction{}, false
			}
			return types.NewPrediction(RuleGasHazard, types.RiskCritical,
				"Activate ventilation system", types.MetricGas), true
		}},
		RuleFunc{RuleName: RuleSensorMalfunction, Fn: func(r types.Reading) (types.Prediction, bool) {
			power, ok := r.Value(types.MetricPower)
			if !ok || power >= th.PowerFloor {
				return types.Prediction{}, false
			}
			return types.NewPrediction(RuleSensorMalfunction, types.RiskMedium,
				"Check sensor connections", types.MetricPower), true
		}},
	}
}
