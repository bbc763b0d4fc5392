package fetchengine

import "errors"

var (
	// ErrFileNameNotFound is returned when a descriptor carries no usable file name.
	ErrFileNameNotFound = errors.New("file name can't be empty")
	// ErrNotSupported is returned when the descriptor's URL scheme has no registered protocol handler.
	ErrNotSupported = errors.New("download URL scheme is not supported")

	// ErrPrematureEOF is returned when EOF occurs before expected bytes are received.
	ErrPrematureEOF = errors.New("premature EOF: connection closed before download complete")

	// ErrCrossDeviceMove is returned when a file move operation fails due to
	// source and destination being on different filesystems/drives.
	ErrCrossDeviceMove = errors.New("cross-device move not supported by rename, use copy+delete")

	// ErrInsufficientDiskSpace is returned when there is not enough disk space available
	// to download the file.
	ErrInsufficientDiskSpace = errors.New("insufficient disk space")

	// ErrChecksumUnavailable is returned when checksum validation is requested
	// but no checksum is provided by the descriptor or server.
	ErrChecksumUnavailable = errors.New("no checksum available to verify against")

	// ErrChecksumAlgorithmUnsupported is returned when the descriptor or server
	// names a checksum algorithm that is not supported.
	ErrChecksumAlgorithmUnsupported = errors.New("unsupported checksum algorithm")

	// ErrDirectoryNotFound is returned when the specified base directory does not exist.
	ErrDirectoryNotFound = errors.New("base directory does not exist")

	// ErrNotADirectory is returned when the specified path is not a directory.
	ErrNotADirectory = errors.New("path is not a directory")

	// ErrDirectoryNotWritable is returned when the base directory is not writable.
	ErrDirectoryNotWritable = errors.New("base directory is not writable")

	// ErrLockHeld is returned by Lock.Acquire when a live holder (another
	// process, or another Lock in this process) already holds the lock for
	// a path.
	ErrLockHeld = errors.New("lock is held by another live process")

	// ErrRequeueBudgetExceeded is returned when an item has been requeued for
	// lock contention more times than WorkerPool's MaxRequeues allows.
	ErrRequeueBudgetExceeded = errors.New("lock contention exceeded requeue budget")

	// ErrPoolStopped is returned when an item is submitted to a WorkerPool
	// that has already been stopped.
	ErrPoolStopped = errors.New("worker pool has been stopped")

	// ErrChildUnavailable describes a child process that could not be spawned
	// or respawned within the allotted retry budget. No function in this
	// package returns it.
	ErrChildUnavailable = errors.New("child process unavailable after respawn attempts")
)

// ErrCategory classifies an error for retry/backoff decisions, a closed
// set so every FetchOutcome status maps to an unambiguous retry policy.
type ErrCategory int

const (
	// CategoryTransport covers network-level failures: connection reset,
	// timeout, DNS failure. Retried up to the per-descriptor budget unless
	// the source layer marks the failure permanent; CategoryForStatus files
	// every terminal ERROR status here, retried or not.
	CategoryTransport ErrCategory = iota
	// CategoryAuth covers HTTP 401/403 and equivalent protocol-level auth
	// rejections. Never retried -- retrying with the same credentials cannot
	// succeed.
	CategoryAuth
	// CategorySizeMismatch covers a completed transfer whose size does not
	// match expected_size.
	CategorySizeMismatch
	// CategoryChecksumMismatch covers a completed transfer that fails
	// checksum verification.
	CategoryChecksumMismatch
	// CategoryRequeue covers lock contention: another worker is already
	// fetching the same descriptor. The item goes back on the queue rather
	// than being retried in place.
	CategoryRequeue
	// CategoryConfig covers malformed descriptors or configuration --
	// missing file name, bad URL, unsupported scheme. Never retried.
	CategoryConfig
	// CategoryFatal covers everything else: disk full, permission denied,
	// unexpected panics recovered at the worker boundary.
	CategoryFatal
)

// String renders the category the way log lines and SyncReport details use.
func (c ErrCategory) String() string {
	switch c {
	case CategoryTransport:
		return "transport"
	case CategoryAuth:
		return "auth"
	case CategorySizeMismatch:
		return "size_mismatch"
	case CategoryChecksumMismatch:
		return "checksum_mismatch"
	case CategoryRequeue:
		return "requeue"
	case CategoryConfig:
		return "config"
	default:
		return "fatal"
	}
}

// CategoryForStatus maps a terminal fetch status to its error category, the
// typed detail an ErrorRecord carries alongside the raw status string.
func CategoryForStatus(s Status) ErrCategory {
	switch s {
	case StatusUnauthorized:
		return CategoryAuth
	case StatusSizeMismatch:
		return CategorySizeMismatch
	case StatusChecksumMismatch:
		return CategoryChecksumMismatch
	case StatusRequeue:
		return CategoryRequeue
	case StatusError:
		return CategoryTransport
	default:
		return CategoryFatal
	}
}
