package device

// SubMode classifies what a USB product ID says about a device's operating mode.
type SubMode int

const (
	// SubModeStorage means the product ID unambiguously signals disk access.
	SubModeStorage SubMode = iota
	// SubModeAmbiguousStorage means the product ID is shared between the
	// storage mode and the powered-off-but-connected state; only a successful
	// mount scan can tell them apart.
	SubModeAmbiguousStorage
	// SubModeOther means the device is connected in a non-storage mode
	// (MIDI/audio) with no filesystem exposed.
	SubModeOther
)

// Kind is an immutable descriptor for a supported device.
type Kind struct {
	// ID is the short internal identifier ("opz", "op1").
	ID string
	// Name is the display name.
	Name string
	// LongName is the full product name.
	LongName string
	// StorageKB is the device storage capacity in kilobytes.
	StorageKB int64
	// VendorID is the USB vendor identifier, canonical integer form.
	VendorID int64
	// ProductModes maps each known USB product ID to its sub-mode.
	ProductModes map[int64]SubMode
	// RequiredDirectories must all exist under a candidate mount root.
	RequiredDirectories []string
	// CategoryParent, when set, names the directory whose category
	// subdirectories are validated; a root is rejected only if every
	// category is absent.
	CategoryParent string
	// Categories are the expected subdirectories of CategoryParent.
	Categories []string
	// UpgradeMarkers are file or directory names whose presence directly
	// under a mount root signals the firmware-upgrade mode.
	UpgradeMarkers []string
}

// teVendorID is the Teenage Engineering USB vendor ID (0x2367).
const teVendorID = 9063

// OPZ describes the OP-Z. Both its normal and disk modes report the same
// product ID, so classification is ambiguous until a mount appears.
var OPZ = Kind{
	ID:        "opz",
	Name:      "OP-Z",
	LongName:  "Teenage Engineering OP-Z",
	StorageKB: 24000,
	VendorID:  teVendorID,
	ProductModes: map[int64]SubMode{
		12: SubModeAmbiguousStorage, // 0x000c
	},
	RequiredDirectories: []string{"samplepacks"},
	CategoryParent:      "samplepacks",
	Categories: []string{
		"1-kick", "2-snare", "3-perc", "4-fx",
		"5-bass", "6-lead", "7-arpeggio", "8-chord",
	},
	UpgradeMarkers: []string{"how_to_upgrade.txt", "systeminfo"},
}

// OP1 describes the OP-1, which reports distinct product IDs for its USB
// storage and MIDI modes.
var OP1 = Kind{
	ID:        "op1",
	Name:      "OP-1",
	LongName:  "Teenage Engineering OP-1",
	StorageKB: 512000,
	VendorID:  teVendorID,
	ProductModes: map[int64]SubMode{
		2: SubModeStorage, // 0x0002 USB storage mode
		4: SubModeOther,   // 0x0004 normal/MIDI mode
	},
	RequiredDirectories: []string{"drum", "synth"},
}

var catalog = []Kind{OPZ, OP1}

// All returns every supported device kind in stable order.
func All() []Kind {
	out := make([]Kind, len(catalog))
	copy(out, catalog)
	return out
}

// ByID returns the device kind with the given short identifier.
func ByID(id string) (Kind, bool) {
	for _, kind := range catalog {
		if kind.ID == id {
			return kind, true
		}
	}
	return Kind{}, false
}

// Match resolves a normalized vendor/product pair against the catalog.
func Match(vendorID, productID int64) (Kind, SubMode, bool) {
	for _, kind := range catalog {
		if kind.VendorID != vendorID {
			continue
		}
		if mode, ok := kind.ProductModes[productID]; ok {
			return kind, mode, true
		}
	}
	return Kind{}, 0, false
}

// StorageCapable reports whether the sub-mode can expose a filesystem.
func (m SubMode) StorageCapable() bool {
	return m == SubModeStorage || m == SubModeAmbiguousStorage
}
