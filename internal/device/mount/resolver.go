package mount

import (
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/text/unicode/norm"

	"opdeck/internal/device"
	"opdeck/internal/logging"
)

// Usage reports capacity of a mounted volume.
type Usage struct {
	TotalBytes uint64 `json:"total_bytes"`
	FreeBytes  uint64 `json:"free_bytes"`
}

// Mount is a resolved device filesystem.
type Mount struct {
	// Path is the mount root as reported by the OS.
	Path string
	// VolumeName is the base name of the mount root, NFC-normalized.
	// macOS reports volume names in NFD, which breaks naive string
	// comparison against user-visible names.
	VolumeName string
	// Upgrade is set when the root carries firmware-upgrade markers
	// instead of the normal content layout.
	Upgrade bool
	// Usage is filled when the platform can report it.
	Usage *Usage
}

// Resolver scans platform mount roots for a device kind's filesystem.
type Resolver struct {
	logger *slog.Logger

	// roots and usage are overridable for tests.
	roots func() []string
	usage func(path string) (Usage, bool)
}

// NewResolver returns a resolver using the platform's native root listing.
func NewResolver(logger *slog.Logger) *Resolver {
	return &Resolver{
		logger: logging.NewComponentLogger(logger, "mount-resolver"),
		roots:  platformRoots,
		usage:  diskUsage,
	}
}

// Find scans every candidate root and returns the first one that matches the
// kind. The upgrade-marker check runs before structural validation: a device
// in firmware-upgrade mode does not carry its normal directory layout.
func (r *Resolver) Find(kind device.Kind) (Mount, bool) {
	for _, root := range r.roots() {
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			continue
		}
		if r.hasUpgradeMarker(kind, root) {
			r.logger.Info("upgrade volume found",
				logging.String(logging.FieldDevice, kind.ID),
				logging.String("path", root))
			return r.mount(root, true), true
		}
		if !r.hasRequiredLayout(kind, root) {
			continue
		}
		r.logger.Info("device volume found",
			logging.String(logging.FieldDevice, kind.ID),
			logging.String("path", root))
		return r.mount(root, false), true
	}
	return Mount{}, false
}

func (r *Resolver) mount(root string, upgrade bool) Mount {
	m := Mount{
		Path:       root,
		VolumeName: norm.NFC.String(filepath.Base(root)),
		Upgrade:    upgrade,
	}
	if u, ok := r.usage(root); ok {
		m.Usage = &u
	}
	return m
}

func (r *Resolver) hasUpgradeMarker(kind device.Kind, root string) bool {
	for _, marker := range kind.UpgradeMarkers {
		if _, err := os.Stat(filepath.Join(root, marker)); err == nil {
			return true
		}
	}
	return false
}

func (r *Resolver) hasRequiredLayout(kind device.Kind, root string) bool {
	for _, dir := range kind.RequiredDirectories {
		info, err := os.Stat(filepath.Join(root, dir))
		if err != nil || !info.IsDir() {
			return false
		}
	}
	if kind.CategoryParent == "" || len(kind.Categories) == 0 {
		return true
	}
	// Devices tolerate missing individual category directories; only a root
	// where every category is absent is rejected.
	for _, category := range kind.Categories {
		info, err := os.Stat(filepath.Join(root, kind.CategoryParent, category))
		if err == nil && info.IsDir() {
			return true
		}
	}
	return false
}
