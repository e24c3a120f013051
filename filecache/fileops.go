package filecache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// TmpSuffix marks the temporary file an atomic write goes through.
const TmpSuffix = ".filecache-tmp"

const maxNameLen = 255

// readContent returns the full content of path, mapping a missing file to ErrNotFound.
func readContent(fsys afero.Fs, path string) (string, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s: %w", ErrNotFound, path, err)
		}
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// tmpPath returns the temporary sibling used for an atomic write to dst.
// Names that would exceed the filesystem limit are shortened with a hash of dst.
func tmpPath(dst string) string {
	base := filepath.Base(dst)
	if len(base)+len(TmpSuffix) <= maxNameLen {
		return dst + TmpSuffix
	}
	sum := sha256.Sum256([]byte(dst))
	short := hex.EncodeToString(sum[:8])
	keep := maxNameLen - len(TmpSuffix) - 1 - len(short)
	return filepath.Join(filepath.Dir(dst), base[:keep]+TmpSuffix+"-"+short)
}

// resolveTarget follows symlinks on the OS filesystem so a write lands on the
// linked file instead of replacing the link. Dangling links and other
// filesystems return path unchanged.
func resolveTarget(fsys afero.Fs, path string) string {
	if _, ok := fsys.(*afero.OsFs); !ok {
		return path
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return path
	}
	return resolved
}

// writeAtomic replaces the full content of path:
// 1. Resolve symlinks to the file that actually holds the content
// 2. Write content to a temp sibling with the target's permissions
// 3. Rename the temp file over the target
//
// Readers see either the old or the new content, never a partial write.
func writeAtomic(fsys afero.Fs, path, content string) error {
	path = resolveTarget(fsys, path)

	perm := os.FileMode(0644)
	if info, err := fsys.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}

	tmp := tmpPath(path)
	if err := afero.WriteFile(fsys, tmp, []byte(content), perm); err != nil {
		fsys.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("write tmp: %w", err)
	}

	if err := fsys.Rename(tmp, path); err != nil {
		fsys.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("rename tmp to target: %w", err)
	}
	return nil
}
