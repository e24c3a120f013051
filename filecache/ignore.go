package filecache

import (
	"bufio"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// IgnoreFileName is the per-root file listing patterns Seed skips.
const IgnoreFileName = ".cacheignore"

// CacheIgnore holds patterns loaded from a .cacheignore file.
type CacheIgnore struct {
	patterns []ignorePattern
}

type ignorePattern struct {
	pattern string
	dirOnly bool // trailing / in source line
}

// LoadCacheIgnore reads an ignore file. A missing or unreadable file yields
// an empty CacheIgnore (nothing is ignored).
func LoadCacheIgnore(fsys afero.Fs, path string) *CacheIgnore {
	ci := &CacheIgnore{}

	f, err := fsys.Open(path)
	if err != nil {
		return ci
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		ci.Add(scanner.Text())
	}
	return ci
}

// Add appends one pattern line. Blank lines and # comments are skipped.
func (ci *CacheIgnore) Add(line string) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}
	p := ignorePattern{pattern: line}
	if strings.HasSuffix(line, "/") {
		p.pattern = strings.TrimSuffix(line, "/")
		p.dirOnly = true
	}
	ci.patterns = append(ci.patterns, p)
}

// IsIgnored reports whether the base name matches any pattern.
// dirOnly patterns only match directories.
func (ci *CacheIgnore) IsIgnored(name string, isDir bool) bool {
	if ci == nil {
		return false
	}
	for _, p := range ci.patterns {
		if p.dirOnly && !isDir {
			continue
		}
		if matched, _ := filepath.Match(p.pattern, name); matched {
			return true
		}
	}
	return false
}
