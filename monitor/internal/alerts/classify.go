package alerts

import (
	"fmt"

	"github.com/machineguard/machineguard/pkg/types"
)

// Level is the alert level of a decision.
type Level string

const (
	LevelNone     Level = "none"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Default score thresholds.
const (
	DefaultCriticalBelow = 40
	DefaultWarningBelow  = 60
)

// Decision is the classifier verdict for one report.
type Decision struct {
	Level   Level    `json:"level"`
	Notify  bool     `json:"notify"`
	Reasons []string `json:"reasons,omitempty"`
}

// Policy parameterises the classifier.
type Policy struct {
	CriticalBelow  int
	WarningBelow   int
	NotifyWarnings bool
}

// DefaultPolicy returns the stock thresholds with warning notifications on.
func DefaultPolicy() Policy {
	return Policy{
		CriticalBelow:  DefaultCriticalBelow,
		WarningBelow:   DefaultWarningBelow,
		NotifyWarnings: true,
	}
}

// Classify applies the default policy to r.
func Classify(r *types.HealthReport) Decision {
	return DefaultPolicy().Classify(r)
}

// Classify maps r to an alert decision.
func (p Policy) Classify(r *types.HealthReport) Decision {
	var reasons []string
	for _, pred := range r.Predictions {
		if pred.Risk == types.RiskCritical {
			reasons = append(reasons, fmt.Sprintf("critical prediction %s", pred.Name))
		}
	}
	if r.Score < p.CriticalBelow {
		reasons = append([]string{fmt.Sprintf("score %d below %d", r.Score, p.CriticalBelow)}, reasons...)
	}
	if len(reasons) > 0 {
		return Decision{Level: LevelCritical, Notify: true, Reasons: reasons}
	}
	if r.Score < p.WarningBelow {
		return Decision{
			Level:   LevelWarning,
			Notify:  p.NotifyWarnings,
			Reasons: []string{fmt.Sprintf("score %d below %d", r.Score, p.WarningBelow)},
		}
	}
	return Decision{Level: LevelNone}
}
