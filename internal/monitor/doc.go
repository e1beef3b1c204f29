// Package monitor implements the device presence core: the per-kind status
// registry, the fan-out event broadcaster, and the hotplug watcher that
// drives both from USB notifications and mount scans.
package monitor
