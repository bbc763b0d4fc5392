//go:build windows

package fetchengine

import (
	"golang.org/x/sys/windows"
)

// isProcessRunning reports whether pid names a live process, by opening it
// with the minimal SYNCHRONIZE access right.
func isProcessRunning(pid int) bool {
	handle, err := windows.OpenProcess(windows.SYNCHRONIZE, false, uint32(pid))
	if err != nil {
		return false
	}
	windows.CloseHandle(handle)
	return true
}
