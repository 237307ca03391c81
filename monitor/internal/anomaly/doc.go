// Package anomaly flags single-metric anomalies in a reading.
//
// Detection rules are values implementing Rule, held by an Evaluator in an
// ordered list. Two rules ship with the package: RangeRule (static per-metric
// bounds) and DeviationRule (z-score against the rolling window). The
// evaluator judges each value against the window of prior observations; it
// never appends to history itself.
package anomaly
