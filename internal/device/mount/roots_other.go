//go:build !darwin && !windows

package mount

// Removable-volume enumeration is only implemented for macOS and Windows.
// Other platforms fall back to manually configured mount paths.
func platformRoots() []string {
	return nil
}
