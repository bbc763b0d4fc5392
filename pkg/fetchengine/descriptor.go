package fetchengine

import (
	"fmt"
	"path/filepath"
)

// ItemType is the fixed set of content kinds a FetchDescriptor may name.
type ItemType string

const (
	ItemRPM      ItemType = "rpm"
	ItemDeltaRPM ItemType = "delta_rpm"
	ItemTreeFile ItemType = "tree_file"
	ItemFile     ItemType = "file"
)

// VerifyOptions controls which checks a pre-existing file is verified
// against before Fetcher short-circuits with NOOP. The post-download check
// performed after a fresh transfer is always full regardless of this value.
type VerifyOptions struct {
	Size     bool
	Checksum bool
}

// DefaultVerifyOptions verifies both size and checksum. Silently skipping
// checksum verification when the caller passes no preference would be
// the wrong default for a content-integrity-sensitive mirror.
func DefaultVerifyOptions() VerifyOptions {
	return VerifyOptions{Size: true, Checksum: true}
}

// FetchDescriptor is the unit of work consumed by a WorkerPool and handed to
// a Fetcher. Metadata is opaque and flows through unchanged into the
// resulting error records so a caller can recover its own bookkeeping keys.
type FetchDescriptor struct {
	FileName        string
	DownloadURL     string
	SavePath        string
	ExpectedSize    int64 // 0 = unknown
	ChecksumType    ChecksumAlgorithm
	Checksum        string // hex
	SharedStorePath string
	ItemType        ItemType
	Metadata        map[string]any
}

// Validate enforces the invariants a FetchDescriptor must hold before a
// Fetcher will act on it.
func (d *FetchDescriptor) Validate() error {
	if d.DownloadURL == "" {
		return fmt.Errorf("%w: download_url is empty", ErrFileNameNotFound)
	}
	switch d.ItemType {
	case ItemRPM, ItemDeltaRPM, ItemTreeFile, ItemFile:
	default:
		return fmt.Errorf("%w: unknown item_type %q", ErrNotSupported, d.ItemType)
	}
	if d.Checksum != "" && d.ChecksumType == "" {
		return fmt.Errorf("checksum set without checksum_type for %s", d.DownloadURL)
	}
	return nil
}

// FinalPath returns the repo-local destination path, independent of whether
// a shared store is in use.
func (d *FetchDescriptor) FinalPath() string {
	return filepath.Join(d.SavePath, d.FileName)
}

// CanonicalPath returns the path the content is actually stored at: the
// shared store path when one is configured, otherwise FinalPath.
func (d *FetchDescriptor) CanonicalPath() string {
	if d.SharedStorePath != "" {
		return filepath.Join(d.SharedStorePath, d.FileName)
	}
	return d.FinalPath()
}

// Status is the outcome of attempting to fetch one descriptor.
type Status string

const (
	StatusNoop             Status = "NOOP"
	StatusDownloaded       Status = "DOWNLOADED"
	StatusSkipValidate     Status = "SKIP_VALIDATE"
	StatusSizeMismatch     Status = "SIZE_MISMATCH"
	StatusChecksumMismatch Status = "CHECKSUM_MISMATCH"
	StatusError            Status = "ERROR"
	StatusUnauthorized     Status = "UNAUTHORIZED"
	StatusRequeue          Status = "REQUEUE"
)

// IsSuccess reports whether a status represents a descriptor that does not
// need to be recorded as an error.
func (s Status) IsSuccess() bool {
	switch s {
	case StatusNoop, StatusDownloaded, StatusSkipValidate:
		return true
	default:
		return false
	}
}

// FetchOutcome is the result handed back from Fetcher.Fetch to the
// WorkerPool: a status plus an optional human-readable detail.
type FetchOutcome struct {
	Status Status
	Detail string
}

func (o FetchOutcome) String() string {
	if o.Detail == "" {
		return string(o.Status)
	}
	return fmt.Sprintf("%s: %s", o.Status, o.Detail)
}
