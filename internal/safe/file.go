// Package safe provides file and numeric helpers that validate their inputs.
package safe

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DefaultMaxFileSize is the default maximum size accepted by ReadFile (1MB).
const DefaultMaxFileSize = 1 << 20

// FileOptions configures ReadFile and OpenAppend.
type FileOptions struct {
	// MaxSize is the maximum file size ReadFile accepts. Zero means DefaultMaxFileSize.
	MaxSize int64
	// Perm is the mode for files created by OpenAppend. Zero means 0600.
	Perm os.FileMode
	// AllowSymlinks permits symlinked paths. Default is false.
	AllowSymlinks bool
}

// ReadFile reads a regular file after checking its size and rejecting
// symlinks unless allowed.
func ReadFile(path string, opts *FileOptions) ([]byte, error) {
	if opts == nil {
		opts = &FileOptions{}
	}
	maxSize := opts.MaxSize
	if maxSize == 0 {
		maxSize = DefaultMaxFileSize
	}

	cleanPath := filepath.Clean(path)
	info, err := stat(cleanPath, opts.AllowSymlinks)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("path %q is not a regular file", path)
	}
	if info.Size() > maxSize {
		return nil, fmt.Errorf("file exceeds maximum allowed size of %d bytes", maxSize)
	}

	return os.ReadFile(cleanPath)
}

// OpenAppend opens path for appending, creating it and its parent
// directories when missing. An existing path must be a regular file.
func OpenAppend(path string, opts *FileOptions) (*os.File, error) {
	if opts == nil {
		opts = &FileOptions{}
	}
	perm := opts.Perm
	if perm == 0 {
		perm = 0o600
	}

	cleanPath := filepath.Clean(path)
	info, err := stat(cleanPath, opts.AllowSymlinks)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(filepath.Dir(cleanPath), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create directory for %q: %w", path, err)
		}
	case err != nil:
		return nil, err
	case !info.Mode().IsRegular():
		return nil, fmt.Errorf("path %q is not a regular file", path)
	}

	return os.OpenFile(cleanPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, perm)
}

func stat(path string, allowSymlinks bool) (os.FileInfo, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return info, nil
	}
	if !allowSymlinks {
		return nil, fmt.Errorf("file %q is a symlink, which is not allowed", path)
	}
	return os.Stat(path)
}
