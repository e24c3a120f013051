package filecache

import (
	"errors"
	"fmt"
	"path/filepath"
)

var (
	// ErrInvalidArgument is returned when a path is not absolute.
	ErrInvalidArgument = errors.New("path must be absolute")

	// ErrNotFound is returned when the target file does not exist on disk.
	// Errors wrapping it also match fs.ErrNotExist.
	ErrNotFound = errors.New("file not found")

	// ErrNotFoundInCache is returned by Revert when no snapshot exists for the path.
	ErrNotFoundInCache = errors.New("no cached content for path")
)

// checkAbs validates that path is absolute and returns its cleaned form.
// It never touches the filesystem.
func checkAbs(path string) (string, error) {
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("%w: %q", ErrInvalidArgument, path)
	}
	return filepath.Clean(path), nil
}
