// Package compute turns a validated Reading into a HealthReport.
//
// score.go provides the pure Scorer that folds anomaly and prediction counts
// into a 0–100 score:
//
//	score = clamp(100 - 20*anomalies - Σ risk_penalty, 0, 100)
//	risk_penalty: medium 5, high 15, critical 30
//
// and maps it to a band with a fixed recommendation:
// Good ≥80, Fair 60–79, Poor 40–59, Critical <40.
//
// engine.go provides the Engine that owns the rule set. Process locks the
// reading's device in the history store, judges every metric against the
// prior window, appends the new values, runs the failure predictor and
// scores the result. Reconfigure swaps thresholds atomically so config
// reloads never race with in-flight readings.
package compute
