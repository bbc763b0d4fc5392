package fetchengine

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

// Lock is a cooperative per-path write lock backed by a sidecar
// "<path>.lock" file. It takes an OS-level exclusive non-blocking file lock
// and records the holding process's PID, so a second process can tell a
// stale lock file (owner dead) from genuine contention (owner alive).
//
// The lock is advisory across cooperating processes on the same
// filesystem; it makes no cluster-wide guarantee.
type Lock struct {
	path     string
	lockPath string
	fl       *flock.Flock
}

// NewLock returns a Lock for the given target path. Acquire must be called
// before the lock is usable.
func NewLock(path string) *Lock {
	lp := path + ".lock"
	return &Lock{
		path:     path,
		lockPath: lp,
		fl:       flock.New(lp),
	}
}

// Acquire takes the exclusive non-blocking OS lock and writes the current
// PID into the lock file. If a live holder already has it (another process,
// or another Lock on the same path in this process), Acquire returns
// ErrLockHeld and the caller should treat the descriptor as
// REQUEUE rather than retrying in place. If the lock file names a dead
// process, Acquire reclaims it transparently.
func (l *Lock) Acquire() error {
	locked, err := l.fl.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", l.lockPath, err)
	}
	if !locked {
		holder, _ := l.readHolder()
		if holder != 0 && isProcessRunning(holder) {
			return ErrLockHeld
		}
		// The recorded holder is dead or unknown. The OS releases a flock when
		// its owner exits, so try the same Flock once more; if the OS lock is
		// still held, report contention.
		locked, err = l.fl.TryLock()
		if err != nil {
			return fmt.Errorf("reclaim stale lock %s: %w", l.lockPath, err)
		}
		if !locked {
			return ErrLockHeld
		}
	}
	if err := os.WriteFile(l.lockPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		l.fl.Unlock()
		return fmt.Errorf("write lock pid file %s: %w", l.lockPath, err)
	}
	return nil
}

// ReadHolder returns the PID recorded in the lock file, or 0 if it cannot be
// determined (file absent, unreadable, or malformed).
func (l *Lock) ReadHolder() (int, error) {
	return l.readHolder()
}

func (l *Lock) readHolder() (int, error) {
	data, err := os.ReadFile(l.lockPath)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, err
	}
	return pid, nil
}

// Release drops the OS lock, closes the file handle, and unlinks the lock
// file. Release is a no-op if the lock was never acquired.
func (l *Lock) Release() error {
	if !l.fl.Locked() {
		return nil
	}
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.lockPath, err)
	}
	if err := os.Remove(l.lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file %s: %w", l.lockPath, err)
	}
	return nil
}
