package api

import (
	"fmt"
	"sort"
	"strings"

	"github.com/machineguard/machineguard/pkg/types"
)

// DiagnosticHint is one human-readable insight about a device's latest report.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier (used for dedup/ordering).
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level string `json:"level"`
	// Title is a short label (≤ 5 words).
	Title string `json:"title"`
	// Detail is the full explanation.
	Detail string `json:"detail"`
	// Value is the metric value behind the hint, if any.
	Value *float64 `json:"value,omitempty"`
}

var levelRank = map[string]int{"critical": 0, "warning": 1, "info": 2, "ok": 3}

// computeDiagnostics derives hints from a report's predictions and anomalies.
// Hints are ordered critical first, then warnings, then info.
func computeDiagnostics(r *types.HealthReport) []DiagnosticHint {
	if len(r.Anomalies) == 0 && len(r.Predictions) == 0 {
		return []DiagnosticHint{{
			Key:    "nominal",
			Level:  "ok",
			Title:  "Operating normally",
			Detail: fmt.Sprintf("All metrics are inside their expected ranges and baselines. Health score %d.", r.Score),
		}}
	}

	hints := make([]DiagnosticHint, 0, len(r.Anomalies)+len(r.Predictions))
	for _, p := range r.Predictions {
		hints = append(hints, DiagnosticHint{
			Key:   "prediction_" + p.Name,
			Level: riskLevel(p.Risk),
			Title: humanize(p.Name) + " risk",
			Detail: fmt.Sprintf("%s risk of %s from %s. %s.",
				humanize(string(p.Risk)), strings.ToLower(humanize(p.Name)),
				strings.Join(p.TriggeringMetrics, " and "), p.Action),
		})
	}
	for _, a := range r.Anomalies {
		v := a.Value
		h := DiagnosticHint{
			Key:   strings.ToLower(string(a.Reason)) + "_" + a.Metric,
			Level: string(a.Severity),
			Value: &v,
		}
		switch a.Reason {
		case types.ReasonRange:
			h.Title = a.Metric + " out of range"
			h.Detail = fmt.Sprintf("%s reads %.2f, past the configured limit of %.2f.", a.Metric, a.Value, a.Threshold)
		default:
			h.Title = a.Metric + " off baseline"
			h.Detail = fmt.Sprintf("%s reads %.2f, %.1f standard deviations from its recent average (threshold %.1f).",
				a.Metric, a.Value, a.ZScore, a.Threshold)
		}
		hints = append(hints, h)
	}

	sort.SliceStable(hints, func(i, j int) bool {
		return levelRank[hints[i].Level] < levelRank[hints[j].Level]
	})
	return hints
}

func riskLevel(r types.Risk) string {
	switch r {
	case types.RiskCritical:
		return "critical"
	case types.RiskHigh:
		return "warning"
	default:
		return "info"
	}
}

// humanize turns "bearing_failure" into "Bearing failure".
func humanize(name string) string {
	s := strings.ReplaceAll(name, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
