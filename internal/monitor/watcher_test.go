package monitor

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"opdeck/internal/device"
	"opdeck/internal/device/mount"
	"opdeck/internal/logging"
	"opdeck/internal/settings"
	"opdeck/internal/usb"
)

type stubFinder struct {
	mu    sync.Mutex
	fn    func(kind device.Kind, call int) (mount.Mount, bool)
	calls int
}

func (f *stubFinder) Find(kind device.Kind) (mount.Mount, bool) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return mount.Mount{}, false
	}
	return fn(kind, call)
}

func (f *stubFinder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func neverFound(device.Kind, int) (mount.Mount, bool) {
	return mount.Mount{}, false
}

func newTestMonitor(t *testing.T, finder *stubFinder) (*Monitor, *Registry, *Broadcaster) {
	t.Helper()
	registry := NewRegistry()
	broadcaster := NewBroadcaster(logging.NewNop())
	m := New(Config{
		Logger:          logging.NewNop(),
		Registry:        registry,
		Broadcaster:     broadcaster,
		Resolver:        finder,
		PollMaxAttempts: 10,
		PollInterval:    5 * time.Millisecond,
	})
	t.Cleanup(m.Stop)
	return m, registry, broadcaster
}

func nextEvent(t *testing.T, sub *Subscriber) StatusEvent {
	t.Helper()
	select {
	case payload, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscriber queue closed")
		}
		var event StatusEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			t.Fatalf("bad payload %q: %v", payload, err)
		}
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return StatusEvent{}
}

func assertNoEvent(t *testing.T, sub *Subscriber, wait time.Duration) {
	t.Helper()
	select {
	case payload, ok := <-sub.Events():
		if ok {
			t.Fatalf("unexpected event %s", payload)
		}
	case <-time.After(wait):
	}
}

// Connect with the ambiguous OP-Z product ID, no mount for three attempts,
// then a valid volume on the fourth: status walks disconnected, standby,
// storage with exactly two broadcasts.
func TestConnectResolvesThroughPolling(t *testing.T) {
	mounted := mount.Mount{Path: "/Volumes/OP-Z", VolumeName: "OP-Z"}
	finder := &stubFinder{fn: func(_ device.Kind, call int) (mount.Mount, bool) {
		if call < 4 {
			return mount.Mount{}, false
		}
		return mounted, true
	}}
	m, registry, broadcaster := newTestMonitor(t, finder)
	sub := broadcaster.Subscribe(nil)
	t.Cleanup(func() { broadcaster.Unsubscribe(sub) })

	m.handleConnect(usb.DeviceInfo{VendorID: "2367", ProductID: "000c"}, true)

	first := nextEvent(t, sub)
	if first.Device != "opz" || first.Mode == nil || *first.Mode != string(ModeStandby) {
		t.Fatalf("expected standby event first, got %+v", first)
	}
	second := nextEvent(t, sub)
	if second.Mode == nil || *second.Mode != string(ModeStorage) {
		t.Fatalf("expected storage event second, got %+v", second)
	}
	if second.Path == nil || *second.Path != mounted.Path {
		t.Fatalf("storage event missing path: %+v", second)
	}
	assertNoEvent(t, sub, 50*time.Millisecond)

	status, _ := registry.Status("opz")
	if status.Mode != ModeStorage || status.Path != mounted.Path || !status.Connected {
		t.Fatalf("unexpected final status %+v", status)
	}
}

func TestConnectWithImmediateMount(t *testing.T) {
	finder := &stubFinder{fn: func(device.Kind, int) (mount.Mount, bool) {
		return mount.Mount{Path: "/Volumes/OP-1", VolumeName: "OP-1"}, true
	}}
	m, registry, broadcaster := newTestMonitor(t, finder)
	sub := broadcaster.Subscribe(nil)
	t.Cleanup(func() { broadcaster.Unsubscribe(sub) })

	m.handleConnect(usb.DeviceInfo{VendorID: "2367", ProductID: "0002"}, true)

	event := nextEvent(t, sub)
	if event.Device != "op1" || event.Mode == nil || *event.Mode != string(ModeStorage) {
		t.Fatalf("expected storage event, got %+v", event)
	}
	status, _ := registry.Status("op1")
	if status.Path != "/Volumes/OP-1" {
		t.Fatalf("unexpected status %+v", status)
	}
	if finder.callCount() != 1 {
		t.Fatalf("no poll expected, finder called %d times", finder.callCount())
	}
}

// The OP-1's storage product ID is unambiguous, so an unresolved connect
// stays mode-less instead of reporting standby.
func TestUnambiguousStorageConnectHasNoMode(t *testing.T) {
	finder := &stubFinder{fn: neverFound}
	m, registry, broadcaster := newTestMonitor(t, finder)
	sub := broadcaster.Subscribe(nil)
	t.Cleanup(func() { broadcaster.Unsubscribe(sub) })

	m.handleConnect(usb.DeviceInfo{VendorID: "2367", ProductID: "0002"}, false)

	event := nextEvent(t, sub)
	if event.Device != "op1" || event.Mode != nil {
		t.Fatalf("expected mode-less event, got %+v", event)
	}
	status, _ := registry.Status("op1")
	if !status.Connected || !status.USBDetected || status.Mode != ModeNone {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestMediaClassForcesOtherMode(t *testing.T) {
	finder := &stubFinder{fn: func(device.Kind, int) (mount.Mount, bool) {
		t.Fatal("non-storage mode must not trigger a mount scan")
		return mount.Mount{}, false
	}}
	m, registry, _ := newTestMonitor(t, finder)

	m.handleConnect(usb.DeviceInfo{VendorID: "2367", ProductID: "000c", Class: "MEDIA"}, true)

	status, _ := registry.Status("opz")
	if status.Mode != ModeOther || !status.Connected {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestUnknownDeviceIgnored(t *testing.T) {
	finder := &stubFinder{fn: neverFound}
	m, registry, broadcaster := newTestMonitor(t, finder)
	sub := broadcaster.Subscribe(nil)
	t.Cleanup(func() { broadcaster.Unsubscribe(sub) })

	m.handleConnect(usb.DeviceInfo{VendorID: "dead", ProductID: "beef"}, true)
	m.handleConnect(usb.DeviceInfo{VendorID: "not-a-number", ProductID: "000c"}, true)
	m.handleConnect(usb.DeviceInfo{VendorID: "2367", ProductID: "ffff"}, true)

	assertNoEvent(t, sub, 30*time.Millisecond)
	for id, status := range registry.All() {
		if status.Connected {
			t.Fatalf("%s must stay disconnected, got %+v", id, status)
		}
	}
}

func TestDisconnectStopsPoll(t *testing.T) {
	finder := &stubFinder{fn: neverFound}
	m, registry, broadcaster := newTestMonitor(t, finder)
	sub := broadcaster.Subscribe(nil)
	t.Cleanup(func() { broadcaster.Unsubscribe(sub) })

	m.handleConnect(usb.DeviceInfo{VendorID: "2367", ProductID: "000c"}, true)
	if event := nextEvent(t, sub); event.Mode == nil || *event.Mode != string(ModeStandby) {
		t.Fatalf("expected standby event, got %+v", event)
	}

	m.onDisconnect(usb.DeviceInfo{VendorID: "2367", ProductID: "000c"})

	event := nextEvent(t, sub)
	if event.Connected || event.Path != nil || event.Mode != nil {
		t.Fatalf("expected disconnect event, got %+v", event)
	}

	// Give any still-running poll time to tick; the call count must settle.
	time.Sleep(20 * time.Millisecond)
	calls := finder.callCount()
	time.Sleep(30 * time.Millisecond)
	if finder.callCount() != calls {
		t.Fatal("poll kept running after disconnect")
	}

	status, _ := registry.Status("opz")
	if status.Connected || status.USBDetected {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestPollNotDuplicatedForSameKind(t *testing.T) {
	finder := &stubFinder{fn: neverFound}
	m, _, _ := newTestMonitor(t, finder)

	m.handleConnect(usb.DeviceInfo{VendorID: "2367", ProductID: "000c"}, true)
	m.handleConnect(usb.DeviceInfo{VendorID: "2367", ProductID: "000c"}, true)

	m.mu.Lock()
	running := len(m.polls)
	m.mu.Unlock()
	if running != 1 {
		t.Fatalf("expected one poll task, got %d", running)
	}
}

func TestDeveloperModeKeepsDetectedPathUntouched(t *testing.T) {
	store, err := settings.Open(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Set(settings.KeyDeveloperMode, true); err != nil {
		t.Fatal(err)
	}

	finder := &stubFinder{fn: func(device.Kind, int) (mount.Mount, bool) {
		return mount.Mount{Path: "/Volumes/OP-Z", VolumeName: "OP-Z"}, true
	}}
	registry := NewRegistry()
	m := New(Config{
		Logger:      logging.NewNop(),
		Registry:    registry,
		Broadcaster: NewBroadcaster(logging.NewNop()),
		Resolver:    finder,
		Paths:       store,
	})
	t.Cleanup(m.Stop)

	m.handleConnect(usb.DeviceInfo{VendorID: "2367", ProductID: "000c"}, true)

	if status, _ := registry.Status("opz"); status.Path == "" {
		t.Fatalf("detection itself must still work, got %+v", status)
	}
	if _, err := store.Get(settings.DetectedPathKey("opz")); !errors.Is(err, settings.ErrNotFound) {
		t.Fatalf("detected path key must stay unset in developer mode, got err=%v", err)
	}
}

func TestDetectedPathMirroredOutsideDeveloperMode(t *testing.T) {
	store, err := settings.Open(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatal(err)
	}

	finder := &stubFinder{fn: func(device.Kind, int) (mount.Mount, bool) {
		return mount.Mount{Path: "/Volumes/OP-Z", VolumeName: "OP-Z"}, true
	}}
	m := New(Config{
		Logger:      logging.NewNop(),
		Registry:    NewRegistry(),
		Broadcaster: NewBroadcaster(logging.NewNop()),
		Resolver:    finder,
		Paths:       store,
	})
	t.Cleanup(m.Stop)

	m.handleConnect(usb.DeviceInfo{VendorID: "2367", ProductID: "000c"}, true)
	if got := store.GetString(settings.DetectedPathKey("opz"), ""); got != "/Volumes/OP-Z" {
		t.Fatalf("detected path not mirrored, got %q", got)
	}

	m.onDisconnect(usb.DeviceInfo{VendorID: "2367", ProductID: "000c"})
	if got := store.GetString(settings.DetectedPathKey("opz"), "unset"); got != "unset" {
		t.Fatalf("detected path not cleared on disconnect, got %q", got)
	}
}

// An upgrade-mode volume must not land in the detected-path cache; only
// regular storage mounts are worth reopening later.
func TestUpgradeMountNotMirroredToSettings(t *testing.T) {
	store, err := settings.Open(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatal(err)
	}

	finder := &stubFinder{fn: func(device.Kind, int) (mount.Mount, bool) {
		return mount.Mount{Path: "/Volumes/OPZ-DISK", VolumeName: "OPZ-DISK", Upgrade: true}, true
	}}
	registry := NewRegistry()
	m := New(Config{
		Logger:      logging.NewNop(),
		Registry:    registry,
		Broadcaster: NewBroadcaster(logging.NewNop()),
		Resolver:    finder,
		Paths:       store,
	})
	t.Cleanup(m.Stop)

	m.handleConnect(usb.DeviceInfo{VendorID: "2367", ProductID: "000c"}, true)

	status, _ := registry.Status("opz")
	if status.Mode != ModeUpgrade || status.Path != "/Volumes/OPZ-DISK" {
		t.Fatalf("unexpected status %+v", status)
	}
	if _, err := store.Get(settings.DetectedPathKey("opz")); !errors.Is(err, settings.ErrNotFound) {
		t.Fatalf("upgrade mount must not be cached, got err=%v", err)
	}
}

func TestScanUpdatesAndReturnsStatuses(t *testing.T) {
	finder := &stubFinder{fn: func(kind device.Kind, _ int) (mount.Mount, bool) {
		if kind.ID == "opz" {
			return mount.Mount{Path: "/Volumes/OP-Z", VolumeName: "OP-Z"}, true
		}
		return mount.Mount{}, false
	}}
	m, _, _ := newTestMonitor(t, finder)

	statuses := m.Scan()
	if statuses["opz"].Path != "/Volumes/OP-Z" || statuses["opz"].Mode != ModeStorage {
		t.Fatalf("unexpected opz status %+v", statuses["opz"])
	}
	if statuses["op1"].Connected {
		t.Fatalf("op1 must stay disconnected, got %+v", statuses["op1"])
	}

	// Volume disappears; a rescan demotes the mounted state to standby.
	finder.mu.Lock()
	finder.fn = neverFound
	finder.mu.Unlock()

	statuses = m.Scan()
	if statuses["opz"].Mode != ModeStandby || statuses["opz"].Path != "" {
		t.Fatalf("expected standby after volume loss, got %+v", statuses["opz"])
	}
}

func TestSnapshotEventsCoverCatalog(t *testing.T) {
	finder := &stubFinder{fn: neverFound}
	m, registry, _ := newTestMonitor(t, finder)
	registry.Update("opz", Status{Connected: true, USBDetected: true, Mode: ModeStandby})

	events := m.SnapshotEvents()
	if len(events) != 2 {
		t.Fatalf("expected one event per kind, got %d", len(events))
	}
	byDevice := map[string]StatusEvent{}
	for _, event := range events {
		if event.Type != EventTypeDeviceStatus {
			t.Fatalf("unexpected event type %q", event.Type)
		}
		byDevice[event.Device] = event
	}
	if !byDevice["opz"].Connected || byDevice["op1"].Connected {
		t.Fatalf("snapshot does not reflect registry: %+v", byDevice)
	}
}

func TestCallbackPanicAbsorbed(t *testing.T) {
	finder := &stubFinder{fn: func(device.Kind, int) (mount.Mount, bool) {
		panic("scan exploded")
	}}
	m, registry, _ := newTestMonitor(t, finder)

	m.onConnect(usb.DeviceInfo{VendorID: "2367", ProductID: "000c"})

	// The watcher survives and keeps handling notifications.
	finder.mu.Lock()
	finder.fn = neverFound
	finder.mu.Unlock()
	m.onConnect(usb.DeviceInfo{VendorID: "2367", ProductID: "000c"})

	status, _ := registry.Status("opz")
	if status.Mode != ModeStandby {
		t.Fatalf("unexpected status after recovery %+v", status)
	}
}
