// Package types defines the domain values shared by every monitor package:
// the validated Reading, the per-metric AnomalyRecord, the multi-metric
// Prediction and the HealthReport emitted once per processed reading.
//
// Values in this package are plain data. They carry JSON tags matching the
// REST and WebSocket payloads so the query layer can serve them directly.
package types
