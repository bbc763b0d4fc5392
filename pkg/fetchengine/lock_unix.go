//go:build !windows

package fetchengine

import (
	"os"
	"syscall"
)

// isProcessRunning reports whether pid names a live process, using signal 0
// which checks existence without actually signaling the process.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
