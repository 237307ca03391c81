// Package ws implements the WebSocket hub for the live report stream.
//
// Hub.ServeHTTP upgrades a connection, sends the latest report of every live
// device immediately, then streams a fresh snapshot on each tick of Run and
// every new report as it is produced (Hub implements the pipeline's report
// sink).
//
// Message formats sent to clients:
//
//	{"event": "snapshot", "data": {"devices": [...], "generated_at": "..."}}
//	{"event": "report",   "data": { /* one health report */ }}
//
// Clients whose send buffer fills up are disconnected. The upgrader accepts
// all origins; apply CORS restrictions at the reverse proxy.
package ws
