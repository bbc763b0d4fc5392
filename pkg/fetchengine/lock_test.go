package fetchengine

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestLockAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "widget.rpm")
	l := NewLock(path)

	if err := l.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	holder, err := l.ReadHolder()
	if err != nil {
		t.Fatalf("ReadHolder: %v", err)
	}
	if holder != os.Getpid() {
		t.Errorf("holder = %d, want %d", holder, os.Getpid())
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(path + ".lock"); !os.IsNotExist(err) {
		t.Errorf("expected lock file removed after Release, stat err = %v", err)
	}
}

// TestLockContentionReturnsErrLockHeld covers lock contention: a second
// Lock for the same path, while the first is still live in this same
// process, must report contention rather than silently reclaiming it.
func TestLockContentionReturnsErrLockHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "widget.rpm")

	first := NewLock(path)
	if err := first.Acquire(); err != nil {
		t.Fatalf("first.Acquire: %v", err)
	}
	defer first.Release()

	second := NewLock(path)
	err := second.Acquire()
	if !errors.Is(err, ErrLockHeld) {
		t.Fatalf("second.Acquire error = %v, want ErrLockHeld", err)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("first.Release: %v", err)
	}

	third := NewLock(path)
	if err := third.Acquire(); err != nil {
		t.Fatalf("third.Acquire after release: %v", err)
	}
	third.Release()
}

// TestLockReclaimsStaleLockFile covers the case where a previous process
// crashed without releasing: the lock file still names a dead PID but the
// underlying OS lock was freed when that process exited, so a fresh Lock
// must be able to acquire it without manual cleanup.
func TestLockReclaimsStaleLockFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "widget.rpm")

	deadPID := findDeadPID(t)
	if err := os.WriteFile(path+".lock", []byte(strconv.Itoa(deadPID)), 0o644); err != nil {
		t.Fatalf("seed stale lock file: %v", err)
	}

	l := NewLock(path)
	if err := l.Acquire(); err != nil {
		t.Fatalf("Acquire over stale lock file: %v", err)
	}
	defer l.Release()

	holder, err := l.ReadHolder()
	if err != nil {
		t.Fatalf("ReadHolder: %v", err)
	}
	if holder != os.Getpid() {
		t.Errorf("holder = %d, want own pid %d after reclaim", holder, os.Getpid())
	}
}

// findDeadPID returns a PID that is very unlikely to name a live process,
// for exercising Lock's stale-lock-file reclaim path.
func findDeadPID(t *testing.T) int {
	t.Helper()
	const candidate = 1 << 22 // far beyond any realistic live PID
	if isProcessRunning(candidate) {
		t.Skip("candidate dead PID unexpectedly alive on this system")
	}
	return candidate
}
