//go:build windows

package fetchengine

import "os"

// LongOpen opens a file, normalizing the path for long path support
func LongOpen(path string) (*os.File, error) {
	return os.Open(NormalizePath(path))
}

// LongCreate creates a file with secure default permissions (0644).
// This replaces os.Create which uses 0666 by default.
func LongCreate(path string) (*os.File, error) {
	return os.OpenFile(NormalizePath(path), os.O_RDWR|os.O_CREATE|os.O_TRUNC, DefaultFileMode)
}

// LongOpenFile opens a file with flags and permissions, normalizing the path for long path support
func LongOpenFile(path string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(NormalizePath(path), flag, perm)
}

// LongMkdirAll creates a directory path, normalizing the path for long path support
func LongMkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(NormalizePath(path), perm)
}

// LongMkdir creates a single directory, normalizing the path for long path support
func LongMkdir(path string, perm os.FileMode) error {
	return os.Mkdir(NormalizePath(path), perm)
}

// LongRemove removes a file or directory, normalizing the path for long path support
func LongRemove(path string) error {
	return os.Remove(NormalizePath(path))
}

// LongRemoveAll removes a path and any children, normalizing the path for long path support
func LongRemoveAll(path string) error {
	return os.RemoveAll(NormalizePath(path))
}

// LongStat returns file info, normalizing the path for long path support
func LongStat(path string) (os.FileInfo, error) {
	return os.Stat(NormalizePath(path))
}

// LongRename renames a file or directory, normalizing both paths for long path support
func LongRename(src, dst string) error {
	return os.Rename(NormalizePath(src), NormalizePath(dst))
}

// LongChmod changes file permissions, normalizing the path for long path support
func LongChmod(path string, perm os.FileMode) error {
	return os.Chmod(NormalizePath(path), perm)
}
