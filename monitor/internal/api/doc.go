// Package api implements the monitor's HTTP REST API.
//
// New(deps) returns an http.Handler that serves:
//
//	GET    /api/health                 service status, device and report totals
//	GET    /api/devices                latest report per live device
//	GET    /api/devices/{id}           latest report; 404 if unknown
//	GET    /api/devices/{id}/history   reports newest first (?limit=1..10000&offset=)
//	GET    /api/devices/{id}/stats     rolling window stats per metric
//	DELETE /api/devices/{id}           purge history and stored reports
//	GET    /api/alerts                 active and recently resolved alerts
//	POST   /api/control                publish a control command to a device
//	GET    /api/stats                  processing and validation counters
//	GET    /metrics                    Prometheus text exposition
//	GET    /ws/stream                  live report stream (when a hub is set)
//
// Responses are JSON except /metrics. JSON types are defined in types.go.
package api
