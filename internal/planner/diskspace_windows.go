//go:build windows

package planner

import (
	"fmt"
	"syscall"
	"unsafe"
)

var (
	modkernel32             = syscall.NewLazyDLL("kernel32.dll")
	procGetDiskFreeSpaceExW = modkernel32.NewProc("GetDiskFreeSpaceExW")
)

// FreeDiskBytes reports free space at path via GetDiskFreeSpaceExW
// (spec.md §4.3 step 7).
func FreeDiskBytes(path string) (int64, error) {
	var freeBytesAvailable int64
	p, err := syscall.UTF16PtrFromString(path)
	if err != nil {
		return 0, fmt.Errorf("planner: convert path: %w", err)
	}
	ret, _, err := procGetDiskFreeSpaceExW.Call(
		uintptr(unsafe.Pointer(p)),
		uintptr(unsafe.Pointer(&freeBytesAvailable)),
		0, 0,
	)
	if ret == 0 {
		return 0, fmt.Errorf("planner: GetDiskFreeSpaceExW: %w", err)
	}
	return freeBytesAvailable, nil
}
