//go:build windows

package childproc

import (
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// setProcessGroup arranges for cmd to run in its own process group (a new
// console/job boundary on Windows) so killProcessGroup can take down the
// whole group.
func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.CreationFlags |= windows.CREATE_NEW_PROCESS_GROUP
}

// killProcessGroup forcibly terminates the child process. Windows has no
// direct SIGKILL-to-group equivalent for a plain os/exec child; killing
// the process itself is sufficient since grandchildren are not expected
// for the metadata readers this package wraps.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}

// errIsSyscall reports whether err wraps the given syscall.Errno.
func errIsSyscall(err error, target syscall.Errno) bool {
	var errno syscall.Errno
	return errors.As(err, &errno) && errno == target
}
