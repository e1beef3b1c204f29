//go:build darwin || linux

package mount

import "golang.org/x/sys/unix"

func diskUsage(path string) (Usage, bool) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Usage{}, false
	}
	blockSize := uint64(stat.Bsize)
	return Usage{
		TotalBytes: stat.Blocks * blockSize,
		FreeBytes:  stat.Bavail * blockSize,
	}, true
}
