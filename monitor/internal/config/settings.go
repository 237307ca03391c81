package config

import (
	"log/slog"
	"strings"

	"github.com/machineguard/machineguard/monitor/internal/anomaly"
	"github.com/machineguard/machineguard/monitor/internal/compute"
	"github.com/machineguard/machineguard/monitor/internal/predict"
	"github.com/machineguard/machineguard/monitor/internal/validate"
	"github.com/machineguard/machineguard/pkg/types"
)

// Settings converts the engine section into compute.Settings.
func (e EngineConfig) Settings() compute.Settings {
	ranges := make(map[string]anomaly.Range, len(e.Ranges))
	for metric, r := range e.Ranges {
		ranges[metric] = anomaly.Range{
			Low:      r.Low,
			High:     r.High,
			Severity: types.Severity(r.Severity),
		}
	}
	return compute.Settings{
		Ranges:     ranges,
		ZThreshold: e.ZThreshold,
		MinSamples: e.MinSamples,
		Predictions: predict.Thresholds{
			BearingVibration:   e.Predictions.BearingVibration,
			BearingTemperature: e.Predictions.BearingTemperature,
			GasHazard:          e.Predictions.GasHazard,
			PowerFloor:         e.Predictions.PowerFloor,
		},
		Scorer: compute.Scorer{
			Penalties: compute.Penalties{
				Anomaly: e.Penalties.Anomaly,
				Risk: map[types.Risk]int{
					types.RiskMedium:   e.Penalties.Medium,
					types.RiskHigh:     e.Penalties.High,
					types.RiskCritical: e.Penalties.Critical,
				},
			},
			Bands: compute.Bands{Good: e.Bands.Good, Fair: e.Bands.Fair, Poor: e.Bands.Poor},
		},
	}
}

// ValidatorConfig builds the validate.Config for the subscription topic.
func (c *Config) ValidatorConfig() validate.Config {
	aliases := c.Validation.Aliases
	if aliases == nil {
		aliases = map[string]string{}
	}
	return validate.Config{
		Topic:    c.MQTT.Topic,
		Required: c.Validation.Required,
		Aliases:  aliases,
		Extra:    c.Validation.Extra,
	}
}

// SlogLevel returns the configured slog level. Unknown values map to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
