//go:build !windows

package planner

import (
	"fmt"
	"syscall"
)

// FreeDiskBytes reports free space at path via statvfs (spec.md §4.3 step 7).
func FreeDiskBytes(path string) (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("planner: statfs %s: %w", path, err)
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}
