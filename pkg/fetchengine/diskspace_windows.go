//go:build windows

package fetchengine

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// checkDiskSpace checks if there's enough disk space available at the given
// directory to accommodate a file of the specified size. Returns an error
// if insufficient space is available.
func checkDiskSpace(path string, requiredBytes int64) error {
	if requiredBytes <= 0 {
		// Unknown size or zero size, skip check
		return nil
	}

	dir, err := windows.UTF16PtrFromString(path)
	if err != nil {
		// Path can't be represented for the Win32 call; don't block the
		// download over it.
		return nil
	}

	var freeBytesAvailable uint64
	if err := windows.GetDiskFreeSpaceEx(dir, &freeBytesAvailable, nil, nil); err != nil {
		// If we can't check disk space, gracefully ignore and don't fail
		// (better to try and potentially fail later than block downloads)
		return nil
	}

	if int64(freeBytesAvailable) < requiredBytes {
		return fmt.Errorf("%w: required space %s, available space %s",
			ErrInsufficientDiskSpace,
			ContentLength(requiredBytes),
			ContentLength(int64(freeBytesAvailable)))
	}

	return nil
}
