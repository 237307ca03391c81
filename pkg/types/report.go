package types

import (
	"sort"
	"time"
)

// Reason identifies which anomaly rule produced an AnomalyRecord.
type Reason string

const (
	ReasonRange     Reason = "RANGE"
	ReasonDeviation Reason = "DEVIATION"
)

// Severity of a single-metric anomaly.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Risk of a failure prediction.
type Risk string

const (
	RiskMedium   Risk = "medium"
	RiskHigh     Risk = "high"
	RiskCritical Risk = "critical"
)

// Band is the qualitative bucket derived from a health score.
type Band string

const (
	BandGood     Band = "good"
	BandFair     Band = "fair"
	BandPoor     Band = "poor"
	BandCritical Band = "critical"
)

// AnomalyRecord describes one metric that left its expected range or
// historical baseline.
type AnomalyRecord struct {
	Metric    string   `json:"metric"`
	Value     float64  `json:"value"`
	Reason    Reason   `json:"reason"`
	Severity  Severity `json:"severity"`
	Threshold float64  `json:"threshold"`
	// ZScore is set for DEVIATION anomalies only.
	ZScore float64 `json:"z_score,omitempty"`
}

// Prediction is a compound rule firing that points to a specific failure mode.
type Prediction struct {
	Name              string   `json:"name"`
	Risk              Risk     `json:"risk"`
	Action            string   `json:"action"`
	TriggeringMetrics []string `json:"triggering_metrics"`
}

// NewPrediction builds a Prediction whose triggering metrics are a sorted set.
func NewPrediction(name string, risk Risk, action string, metrics ...string) Prediction {
	seen := make(map[string]bool, len(metrics))
	set := make([]string, 0, len(metrics))
	for _, m := range metrics {
		if !seen[m] {
			seen[m] = true
			set = append(set, m)
		}
	}
	sort.Strings(set)
	return Prediction{Name: name, Risk: risk, Action: action, TriggeringMetrics: set}
}

// HealthReport is the assessment produced for one processed Reading.
type HealthReport struct {
	DeviceID       string          `json:"device_id"`
	Timestamp      time.Time       `json:"timestamp"`
	ReceivedAt     time.Time       `json:"received_at"`
	Score          int             `json:"score"`
	Band           Band            `json:"band"`
	Anomalies      []AnomalyRecord `json:"anomalies"`
	Predictions    []Prediction    `json:"predictions"`
	Recommendation string          `json:"recommendation"`
}

// HasRisk reports whether any prediction in r carries the given risk.
func (r *HealthReport) HasRisk(risk Risk) bool {
	for _, p := range r.Predictions {
		if p.Risk == risk {
			return true
		}
	}
	return false
}
