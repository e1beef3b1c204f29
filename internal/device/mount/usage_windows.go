package mount

import "golang.org/x/sys/windows"

func diskUsage(path string) (Usage, bool) {
	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return Usage{}, false
	}
	var free, total, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(pathPtr, &free, &total, &totalFree); err != nil {
		return Usage{}, false
	}
	return Usage{TotalBytes: total, FreeBytes: free}, true
}
