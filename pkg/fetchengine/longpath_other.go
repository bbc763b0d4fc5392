//go:build !windows

package fetchengine

import "os"

// LongOpen opens a file (pass-through on non-Windows)
func LongOpen(path string) (*os.File, error) {
	return os.Open(path)
}

// LongCreate creates a file (pass-through on non-Windows)
func LongCreate(path string) (*os.File, error) {
	return os.Create(path)
}

// LongOpenFile opens a file with flags and permissions (pass-through on non-Windows)
func LongOpenFile(path string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(path, flag, perm)
}

// LongMkdirAll creates a directory path (pass-through on non-Windows)
func LongMkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// LongMkdir creates a single directory (pass-through on non-Windows)
func LongMkdir(path string, perm os.FileMode) error {
	return os.Mkdir(path, perm)
}

// LongRemove removes a file or directory (pass-through on non-Windows)
func LongRemove(path string) error {
	return os.Remove(path)
}

// LongRemoveAll removes a path and any children (pass-through on non-Windows)
func LongRemoveAll(path string) error {
	return os.RemoveAll(path)
}

// LongStat returns file info (pass-through on non-Windows)
func LongStat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

// LongRename renames a file or directory (pass-through on non-Windows)
func LongRename(src, dst string) error {
	return os.Rename(src, dst)
}
