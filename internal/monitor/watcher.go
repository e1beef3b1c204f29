package monitor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"opdeck/internal/device"
	"opdeck/internal/device/mount"
	"opdeck/internal/logging"
	"opdeck/internal/settings"
	"opdeck/internal/usb"
)

// MountFinder locates a device kind's mounted filesystem.
type MountFinder interface {
	Find(kind device.Kind) (mount.Mount, bool)
}

// PathStore mirrors detection results into the settings store.
type PathStore interface {
	RecordDetectedPath(kindID, path string) error
	ClearDetectedPath(kindID string) error
}

// Recorder receives every applied status change, e.g. for the history log.
type Recorder interface {
	Record(kindID string, status Status)
}

// Config wires a Monitor's collaborators and tuning.
type Config struct {
	Logger      *slog.Logger
	Registry    *Registry
	Broadcaster *Broadcaster
	Resolver    MountFinder
	Source      usb.Source
	Paths       PathStore
	History     Recorder

	// PollMaxAttempts and PollInterval bound the mount search after a USB
	// connect with no visible mount.
	PollMaxAttempts int
	PollInterval    time.Duration
	// SettleDelay is how long a connect notification waits before the first
	// mount scan; the OS needs a moment to mount a freshly attached volume.
	SettleDelay time.Duration
}

// Monitor drives the status registry and broadcaster from USB notifications
// and mount scans.
type Monitor struct {
	logger      *slog.Logger
	registry    *Registry
	broadcaster *Broadcaster
	resolver    MountFinder
	source      usb.Source
	paths       PathStore
	history     Recorder

	pollMaxAttempts int
	pollInterval    time.Duration
	settleDelay     time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	polls map[string]context.CancelFunc
}

func New(cfg Config) *Monitor {
	if cfg.PollMaxAttempts <= 0 {
		cfg.PollMaxAttempts = 30
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	source := cfg.Source
	if source == nil {
		source = usb.NoopSource{}
	}
	return &Monitor{
		logger:          logging.NewComponentLogger(cfg.Logger, "device-monitor"),
		registry:        cfg.Registry,
		broadcaster:     cfg.Broadcaster,
		resolver:        cfg.Resolver,
		source:          source,
		paths:           cfg.Paths,
		history:         cfg.History,
		pollMaxAttempts: cfg.PollMaxAttempts,
		pollInterval:    cfg.PollInterval,
		settleDelay:     cfg.SettleDelay,
		polls:           make(map[string]context.CancelFunc),
	}
}

// Start performs the initial scan, seeds states from the static USB device
// list, and begins hot-plug monitoring. Source unavailability is not fatal;
// detection degrades to the initial scan plus manual refreshes.
func (m *Monitor) Start(ctx context.Context) {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.Scan()

	if devices, err := m.source.Enumerate(m.ctx); err != nil {
		m.logger.Warn("usb enumeration failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "usb_enumerate_failed"),
			logging.String(logging.FieldImpact, "already-attached devices may show as disconnected"))
	} else {
		for _, info := range devices {
			m.handleConnect(info, false)
		}
	}

	err := m.source.StartMonitoring(m.ctx,
		func(info usb.DeviceInfo) { m.onConnect(info) },
		func(info usb.DeviceInfo) { m.onDisconnect(info) },
	)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, usb.ErrUnsupported) {
			level = slog.LevelInfo
		}
		m.logger.Log(m.ctx, level, "hot-plug monitoring unavailable, falling back to scan on demand",
			logging.Error(err),
			logging.String(logging.FieldEventType, "usb_monitor_unavailable"),
			logging.String(logging.FieldErrorHint, "use the refresh endpoint or restart after fixing udev access"),
			logging.String(logging.FieldImpact, "device changes only show after a rescan"))
	}
}

// Stop ends monitoring and cancels every running poll task.
func (m *Monitor) Stop() {
	m.source.StopMonitoring()
	if m.cancel != nil {
		m.cancel()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, cancel := range m.polls {
		cancel()
		delete(m.polls, id)
	}
}

// Scan runs one findMount pass over the whole catalog and returns the
// resulting status map. Used at startup and by the refresh endpoint.
func (m *Monitor) Scan() map[string]Status {
	for _, kind := range device.All() {
		if mnt, ok := m.resolver.Find(kind); ok {
			m.apply(kind, mountedStatus(mnt))
			continue
		}
		status, ok := m.registry.Status(kind.ID)
		if ok && status.Mode.mounted() {
			// Previously mounted volume is gone; the device may still be
			// attached, so fall back to the unresolved connected state.
			status.Path = ""
			status.Usage = nil
			status.Mode = unresolvedMode(kind)
			m.apply(kind, status)
		}
	}
	return m.registry.All()
}

// SnapshotEvents builds one current-status event per catalog kind, for
// seeding new stream subscribers.
func (m *Monitor) SnapshotEvents() []StatusEvent {
	statuses := m.registry.All()
	events := make([]StatusEvent, 0, len(statuses))
	for _, kind := range device.All() {
		events = append(events, statusEvent(kind, statuses[kind.ID]))
	}
	return events
}

func (m *Monitor) onConnect(info usb.DeviceInfo) {
	defer m.recoverCallback("connect")
	if m.settleDelay > 0 {
		time.Sleep(m.settleDelay)
	}
	m.handleConnect(info, true)
}

func (m *Monitor) handleConnect(info usb.DeviceInfo, poll bool) {
	kind, subMode, ok := m.classify(info, "connect")
	if !ok {
		return
	}

	if !subMode.StorageCapable() {
		m.apply(kind, Status{Connected: true, USBDetected: true, Mode: ModeOther})
		return
	}

	if mnt, ok := m.resolver.Find(kind); ok {
		m.apply(kind, mountedStatus(mnt))
		return
	}

	// Storage-capable but no mount yet. The ambiguous product ID may just be
	// a powered-off device; the unambiguous one means the mount has not
	// appeared yet.
	mode := ModeNone
	if subMode == device.SubModeAmbiguousStorage {
		mode = ModeStandby
	}
	m.apply(kind, Status{Connected: true, USBDetected: true, Mode: mode})
	if poll {
		m.startPoll(kind)
	}
}

func (m *Monitor) onDisconnect(info usb.DeviceInfo) {
	defer m.recoverCallback("disconnect")

	kind, _, ok := m.classify(info, "disconnect")
	if !ok {
		return
	}

	m.cancelPoll(kind.ID)
	m.apply(kind, Status{})
}

// classify normalizes the notification's identifiers against the catalog. A
// media-class interface means the device is in its MIDI/audio mode even when
// the product ID alone looks storage-capable.
func (m *Monitor) classify(info usb.DeviceInfo, action string) (device.Kind, device.SubMode, bool) {
	vendorID, ok := device.NormalizeID(info.VendorID)
	if !ok {
		m.logger.Debug("ignoring notification with unparseable vendor id",
			logging.Any("vendor_id", info.VendorID),
			logging.String("action", action))
		return device.Kind{}, 0, false
	}
	productID, ok := device.NormalizeID(info.ProductID)
	if !ok {
		m.logger.Debug("ignoring notification with unparseable product id",
			logging.Any("product_id", info.ProductID),
			logging.String("action", action))
		return device.Kind{}, 0, false
	}

	kind, subMode, ok := device.Match(vendorID, productID)
	if !ok {
		m.logger.Debug("ignoring unrecognized device",
			logging.Int64("vendor_id", vendorID),
			logging.Int64("product_id", productID),
			logging.String("action", action))
		return device.Kind{}, 0, false
	}

	if strings.Contains(strings.ToUpper(info.Class), "MEDIA") {
		subMode = device.SubModeOther
	}
	return kind, subMode, true
}

// apply pushes a status through the registry and, on a real change, notifies
// subscribers, mirrors the path into settings, and records history.
func (m *Monitor) apply(kind device.Kind, status Status) {
	if !m.registry.Update(kind.ID, status) {
		return
	}
	status, _ = m.registry.Status(kind.ID)

	m.logger.Info("device status changed",
		logging.String(logging.FieldDevice, kind.ID),
		logging.Bool("connected", status.Connected),
		logging.String("mode", string(status.Mode)),
		logging.String("path", status.Path),
		logging.String(logging.FieldEventType, "device_status_changed"))

	m.broadcaster.Publish(statusEvent(kind, status))

	if m.paths != nil {
		var err error
		// Only regular storage mounts are cached; an upgrade volume is not a
		// place the user should be sent back to.
		if status.Path != "" && status.Mode == ModeStorage {
			err = m.paths.RecordDetectedPath(kind.ID, status.Path)
		} else if !status.Connected {
			err = m.paths.ClearDetectedPath(kind.ID)
		}
		if err != nil {
			m.logger.Warn("failed to mirror detected path",
				logging.Error(err),
				logging.String(logging.FieldDevice, kind.ID),
				logging.String(logging.FieldEventType, "detected_path_mirror_failed"),
				logging.String(logging.FieldImpact, "stale path may be served from settings"))
		}
	}

	if m.history != nil {
		m.history.Record(kind.ID, status)
	}
}

func (m *Monitor) startPoll(kind device.Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, running := m.polls[kind.ID]; running {
		return
	}

	parent := m.ctx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	m.polls[kind.ID] = cancel

	m.logger.Info("starting mount poll",
		logging.String(logging.FieldDevice, kind.ID),
		logging.Int("max_attempts", m.pollMaxAttempts),
		logging.Duration("interval", m.pollInterval))

	go m.pollLoop(ctx, kind)
}

func (m *Monitor) cancelPoll(kindID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.polls[kindID]; ok {
		cancel()
		delete(m.polls, kindID)
	}
}

func (m *Monitor) pollLoop(ctx context.Context, kind device.Kind) {
	defer m.cancelPoll(kind.ID)

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= m.pollMaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		status, ok := m.registry.Status(kind.ID)
		if !ok || !status.Connected || status.Path != "" {
			return
		}

		if mnt, ok := m.resolver.Find(kind); ok {
			m.apply(kind, mountedStatus(mnt))
			return
		}
	}

	m.logger.Info("mount poll exhausted without finding a volume",
		logging.String(logging.FieldDevice, kind.ID),
		logging.Int("attempts", m.pollMaxAttempts))
}

func (m *Monitor) recoverCallback(action string) {
	if r := recover(); r != nil {
		m.logger.Error("usb callback panic",
			logging.Any("panic", r),
			logging.String("action", action),
			logging.String(logging.FieldEventType, "usb_callback_panic"),
			logging.String(logging.FieldErrorHint, "report this; monitoring continues"))
	}
}

func mountedStatus(mnt mount.Mount) Status {
	mode := ModeStorage
	if mnt.Upgrade {
		mode = ModeUpgrade
	}
	return Status{
		Connected:   true,
		Path:        mnt.Path,
		USBDetected: true,
		Mode:        mode,
		Usage:       mnt.Usage,
	}
}

// unresolvedMode is the connected-without-mount mode for a kind: standby for
// a kind whose storage product ID is ambiguous with the powered-off state,
// none otherwise.
func unresolvedMode(kind device.Kind) Mode {
	for _, subMode := range kind.ProductModes {
		if subMode == device.SubModeAmbiguousStorage {
			return ModeStandby
		}
	}
	return ModeNone
}

func statusEvent(kind device.Kind, status Status) StatusEvent {
	event := StatusEvent{
		Type:        EventTypeDeviceStatus,
		Device:      kind.ID,
		DeviceName:  kind.Name,
		Connected:   status.Connected,
		USBDetected: status.USBDetected,
	}
	if status.Path != "" {
		path := status.Path
		event.Path = &path
	}
	if status.Mode != ModeNone {
		mode := string(status.Mode)
		event.Mode = &mode
	}
	return event
}

var _ PathStore = (*settings.Store)(nil)
