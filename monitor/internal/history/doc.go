// Package history keeps the rolling per-device, per-metric windows of recent
// values that the anomaly evaluator uses as its statistical baseline.
//
// Each (device, metric) pair owns a fixed-capacity ring buffer; once full,
// the oldest value is overwritten. Stats are computed over the current
// window using the population standard deviation, which is 0 for windows
// with fewer than two values.
//
// Devices are spread across shards by an FNV-1a hash of the device id and
// each device has its own mutex, so readings for different devices never
// wait on each other. Apply gives callers a locked view of one device so a
// reading can be judged against the prior window and then appended as one
// step.
//
// The store never forgets a device on its own. EvictIdle and Purge exist for
// the external reaper and the management API.
package history
