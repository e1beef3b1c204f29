package mount

import (
	"os"
	"path/filepath"
)

const volumesDir = "/Volumes"

func platformRoots() []string {
	entries, err := os.ReadDir(volumesDir)
	if err != nil {
		return nil
	}
	roots := make([]string, 0, len(entries))
	for _, entry := range entries {
		roots = append(roots, filepath.Join(volumesDir, entry.Name()))
	}
	return roots
}
