//go:build !windows

package childproc

import (
	"errors"
	"os/exec"
	"syscall"
)

// setProcessGroup arranges for cmd to run as the leader of a new process
// group, so killProcessGroup can take down the whole group -- the child
// plus anything it shells out to -- rather than just the direct child
// pid, so an Abort call can kill the child plus anything it shelled out to.
func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// killProcessGroup sends SIGKILL to the negative pid (the process group)
// the child was started under.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

// errIsSyscall reports whether err wraps the given syscall.Errno.
func errIsSyscall(err error, target syscall.Errno) bool {
	var errno syscall.Errno
	return errors.As(err, &errno) && errno == target
}
