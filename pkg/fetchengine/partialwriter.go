package fetchengine

import (
	"fmt"
	"os"
)

// PartialWriter is a dumb append-only sink for resumable downloads. It knows
// nothing about checksums; that is Fetcher's job. Conventionally the target
// file is written at "<path>.part" and the caller renames it to "<path>" on
// completion.
type PartialWriter struct {
	path     string
	partPath string
	f        *os.File
	offset   int64
}

// NewPartialWriter opens (or creates) "<path>.part" for append, recording
// its current length as the resume offset.
func NewPartialWriter(path string) (*PartialWriter, error) {
	partPath := path + ".part"
	f, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open partial file %s: %w", partPath, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat partial file %s: %w", partPath, err)
	}
	return &PartialWriter{
		path:     path,
		partPath: partPath,
		f:        f,
		offset:   info.Size(),
	}, nil
}

// Offset reports the number of bytes already on disk -- the point a caller
// should resume a range request from.
func (w *PartialWriter) Offset() int64 {
	return w.offset
}

// Write appends chunk to the partial file, tracking the new offset.
func (w *PartialWriter) Write(chunk []byte) (int, error) {
	n, err := w.f.Write(chunk)
	w.offset += int64(n)
	if err != nil {
		return n, fmt.Errorf("write partial file %s: %w", w.partPath, err)
	}
	return n, nil
}

// Close closes the underlying file handle without renaming it.
func (w *PartialWriter) Close() error {
	return w.f.Close()
}

// Finalize closes the partial file and atomically moves it to the final
// path, falling back to copy+delete across filesystem boundaries.
func (w *PartialWriter) Finalize() error {
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("close partial file %s: %w", w.partPath, err)
	}
	return moveFile(w.partPath, w.path)
}

// Abort closes and removes the partial file, used when a retry needs to
// start the descriptor over from byte zero.
func (w *PartialWriter) Abort() error {
	w.f.Close()
	if err := os.Remove(w.partPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove partial file %s: %w", w.partPath, err)
	}
	return nil
}
