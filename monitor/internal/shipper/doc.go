// Package shipper decouples remote report sinks from the ingestion path.
//
// A Shipper buffers health reports in a bounded queue and forwards them to a
// Sender from its own goroutine, retrying transient failures with
// exponential backoff. When the queue is full the oldest report is evicted
// so ingestion never blocks on a slow or unreachable remote.
package shipper
