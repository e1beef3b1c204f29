package monitor

import (
	"sync"

	"opdeck/internal/device"
	"opdeck/internal/device/mount"
)

// Mode is the operating mode a device kind currently presents.
type Mode string

const (
	// ModeNone means no mode is known (disconnected, or storage-capable but
	// still searching for a mount).
	ModeNone Mode = ""
	// ModeStorage means the device filesystem is mounted.
	ModeStorage Mode = "storage"
	// ModeUpgrade means the firmware-upgrade filesystem is mounted.
	ModeUpgrade Mode = "upgrade"
	// ModeOther means the device is connected in a non-storage mode.
	ModeOther Mode = "other"
	// ModeStandby means the device is electrically connected but not
	// exposing storage.
	ModeStandby Mode = "standby"
)

// mounted reports whether the mode carries a mount path.
func (m Mode) mounted() bool {
	return m == ModeStorage || m == ModeUpgrade
}

// Status is the current presence state of one device kind.
type Status struct {
	Connected   bool         `json:"connected"`
	Path        string       `json:"path,omitempty"`
	USBDetected bool         `json:"usb_detected"`
	Mode        Mode         `json:"mode,omitempty"`
	Usage       *mount.Usage `json:"storage,omitempty"`
}

func (s Status) clone() Status {
	out := s
	if s.Usage != nil {
		usage := *s.Usage
		out.Usage = &usage
	}
	return out
}

func (s Status) equal(other Status) bool {
	if s.Connected != other.Connected || s.Path != other.Path ||
		s.USBDetected != other.USBDetected || s.Mode != other.Mode {
		return false
	}
	switch {
	case s.Usage == nil && other.Usage == nil:
		return true
	case s.Usage == nil || other.Usage == nil:
		return false
	default:
		return *s.Usage == *other.Usage
	}
}

// Registry holds the authoritative status per device kind. All access goes
// through one mutex; operations never touch I/O under the lock.
type Registry struct {
	mu       sync.Mutex
	statuses map[string]Status
}

// NewRegistry seeds a registry with a disconnected status per catalog kind.
func NewRegistry() *Registry {
	statuses := make(map[string]Status)
	for _, kind := range device.All() {
		statuses[kind.ID] = Status{}
	}
	return &Registry{statuses: statuses}
}

// Update replaces the stored status when it differs from the current one and
// reports whether a change occurred. A path is only retained for mounted
// modes.
func (r *Registry) Update(kindID string, next Status) bool {
	if !next.Mode.mounted() {
		next.Path = ""
		next.Usage = nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.statuses[kindID]
	if ok && current.equal(next) {
		return false
	}
	r.statuses[kindID] = next.clone()
	return true
}

// Status returns a copy of one kind's status.
func (r *Registry) Status(kindID string) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status, ok := r.statuses[kindID]
	return status.clone(), ok
}

// All returns a copy of every kind's status.
func (r *Registry) All() map[string]Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Status, len(r.statuses))
	for id, status := range r.statuses {
		out[id] = status.clone()
	}
	return out
}
