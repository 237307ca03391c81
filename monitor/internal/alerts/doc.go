// Package alerts classifies health reports and delivers alert notifications.
//
// classify.go holds the pure classifier:
//
//	score < 40                      → critical (always notifies)
//	any critical-risk prediction    → critical, whatever the score
//	40 ≤ score < 60                 → warning
//	otherwise                       → none
//
// engine.go holds Engine, the alert sink. Engine keeps one active alert per
// device, suppresses repeats of the same level within a cooldown window,
// escalates warning to critical immediately, and resolves the alert when a
// later report for the device classifies as none. Fired and resolved alerts
// are posted to the configured webhooks (slack, teams, generic http)
// asynchronously; delivery failures are logged and never reach the caller.
package alerts
