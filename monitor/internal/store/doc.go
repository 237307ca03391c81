// Package store keeps the latest health report and a bounded report history
// per device in memory. Entries for devices that stop reporting are evicted
// by the reaper.
package store
