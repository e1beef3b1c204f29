//go:build !linux

package usb

import "log/slog"

// NewPlatformSource returns the no-op source. macOS and Windows rely on
// mount scanning instead of hot-plug notifications.
func NewPlatformSource(*slog.Logger) Source {
	return NoopSource{}
}
