package usb

import (
	"context"
	"errors"
)

// DeviceInfo carries the raw identity of a USB device as the platform
// reported it. Identifier fields keep their native encoding; callers
// normalize them with device.NormalizeID.
type DeviceInfo struct {
	VendorID  any
	ProductID any
	// Class is the platform's descriptive USB class string, when known.
	Class string
	// Name is the product name, when known.
	Name string
}

// ErrUnsupported signals that hot-plug monitoring is not available on this
// platform or in this environment. Callers degrade to scan-on-demand.
var ErrUnsupported = errors.New("usb monitoring unsupported")

// Source is a platform USB capability.
type Source interface {
	// Enumerate lists currently attached devices.
	Enumerate(ctx context.Context) ([]DeviceInfo, error)
	// StartMonitoring begins delivering hot-plug callbacks until the context
	// is cancelled or StopMonitoring is called. Callbacks run on the
	// source's own goroutine.
	StartMonitoring(ctx context.Context, onConnect, onDisconnect func(DeviceInfo)) error
	// StopMonitoring stops callback delivery. Safe to call more than once.
	StopMonitoring()
}

// NoopSource is the fallback for platforms without a native implementation.
type NoopSource struct{}

func (NoopSource) Enumerate(context.Context) ([]DeviceInfo, error) { return nil, nil }

func (NoopSource) StartMonitoring(context.Context, func(DeviceInfo), func(DeviceInfo)) error {
	return ErrUnsupported
}

func (NoopSource) StopMonitoring() {}
