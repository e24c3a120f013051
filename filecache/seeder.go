package filecache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// SeedResult summarizes a Seed run.
type SeedResult struct {
	Cached  int           `json:"cached"`
	Skipped int           `json:"skipped"`
	Evicted int           `json:"evicted"`
	Elapsed time.Duration `json:"elapsed"`
}

// isInternalName reports whether name is a lock sentinel or an atomic-write temp file.
func isInternalName(name string) bool {
	return strings.HasSuffix(name, LockSuffix) || strings.Contains(name, TmpSuffix)
}

// Seed snapshots every regular file under root. Hidden entries, lock
// sentinels, temp files and names matched by ignore are skipped. If ignore is
// nil, root/.cacheignore is loaded. Capacity and LRU eviction apply as for Cache.
func (c *FileCache) Seed(root string, ignore *CacheIgnore) (SeedResult, error) {
	l := sub("seeder")
	root, err := checkAbs(root)
	if err != nil {
		return SeedResult{}, err
	}
	if ignore == nil {
		ignore = LoadCacheIgnore(c.fs, filepath.Join(root, IgnoreFileName))
	}

	start := time.Now()
	before := c.Len()
	var res SeedResult
	added := 0

	l.Info("seed start", "root", root)
	err = afero.Walk(c.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			l.Warn("seed walk error", "path", path, "err", err)
			return err
		}
		if path == root {
			return nil
		}

		name := info.Name()
		if strings.HasPrefix(name, ".") || ignore.IsIgnored(name, info.IsDir()) {
			res.Skipped++
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if !info.Mode().IsRegular() || isInternalName(name) {
			res.Skipped++
			return nil
		}

		if !c.Contains(path) {
			added++
		}
		if err := c.Cache(path); err != nil {
			return fmt.Errorf("seed %s: %w", path, err)
		}
		res.Cached++
		return nil
	})

	// Every new path that did not grow the cache pushed an older one out.
	res.Evicted = max(0, before+added-c.Len())
	res.Elapsed = time.Since(start)
	l.Info("seed complete", "root", root, "cached", res.Cached, "skipped", res.Skipped, "evicted", res.Evicted)
	return res, err
}
