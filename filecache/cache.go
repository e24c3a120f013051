package filecache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	gosync "sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/maruel/natural"
	"github.com/spf13/afero"
)

// DefaultCapacity is the number of snapshots kept when Options.Capacity is zero.
const DefaultCapacity = 100

// Options configures a FileCache.
type Options struct {
	Capacity     int           // maximum number of snapshots; 0 means DefaultCapacity
	PollInterval time.Duration // sentinel poll interval; 0 means DefaultPollInterval
	Fs           afero.Fs      // nil means the OS filesystem
	Store        *Store        // optional journal mirroring every snapshot
	Events       *EventBus     // optional
}

// FileCache keeps one snapshot of prior content per absolute path so a write
// can be undone once, and serializes writers of a path through a sentinel
// lock file shared with other processes.
//
// Reads (Cache, Read) never take the path lock. The snapshot map and its LRU
// order are guarded by a single mutex that is never held while waiting on a
// path lock.
type FileCache struct {
	mu       gosync.Mutex
	entries  *simplelru.LRU[string, string] // path → snapshot content
	capacity int
	interval time.Duration
	fs       afero.Fs
	store    *Store
	events   *EventBus

	hooks    map[int]func(path string) // guarded by mu
	nextHook int
}

// New creates a FileCache. When opts.Store is set, previously journaled
// snapshots are loaded in recency order.
func New(opts Options) (*FileCache, error) {
	capacity := opts.Capacity
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	if capacity < 0 {
		return nil, fmt.Errorf("capacity must be positive, got %d", capacity)
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	fsys := opts.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}

	entries, err := simplelru.NewLRU[string, string](capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}

	c := &FileCache{
		entries:  entries,
		capacity: capacity,
		interval: interval,
		fs:       fsys,
		store:    opts.Store,
		events:   opts.Events,
		hooks:    make(map[int]func(string)),
	}

	if c.store != nil {
		if err := c.load(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// load fills the LRU from the journal, trimming rows beyond capacity.
func (c *FileCache) load() error {
	snaps, err := c.store.ListSnapshots()
	if err != nil {
		return fmt.Errorf("load journal: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sn := range snaps {
		if evicted := c.addLocked(sn.Path, sn.Content); evicted != "" {
			if err := c.store.DeleteSnapshot(evicted); err != nil {
				return fmt.Errorf("trim journal: %w", err)
			}
		}
	}
	sub("cache").Debug("journal loaded", "rows", len(snaps), "entries", c.entries.Len())
	return nil
}

// Cache snapshots the current content of path, marks it most recently used
// and evicts the least recently used snapshot if capacity is exceeded.
// The file is read without taking the path lock.
func (c *FileCache) Cache(path string) error {
	path, err := checkAbs(path)
	if err != nil {
		return err
	}
	content, err := readContent(c.fs, path)
	if err != nil {
		return err
	}
	return c.put(path, content, false)
}

// Read returns the live on-disk content of path, bypassing the cache and the lock.
func (c *FileCache) Read(path string) (string, error) {
	path, err := checkAbs(path)
	if err != nil {
		return "", err
	}
	return readContent(c.fs, path)
}

// Update replaces the full content of path. If path has no snapshot yet its
// current content is cached first; an existing snapshot is left untouched, so
// a later Revert restores the content from before the first Update.
//
// Update blocks until the path lock is acquired or ctx is done. The lock is
// released on every exit path.
func (c *FileCache) Update(ctx context.Context, path, content string) error {
	path, err := checkAbs(path)
	if err != nil {
		return err
	}
	if err := c.ensureCached(path); err != nil {
		return err
	}

	err = c.withLock(ctx, path, func() error {
		return writeAtomic(c.fs, path, content)
	})
	if err != nil {
		sub("cache").Error("update failed", "path", path, "err", err)
		return fmt.Errorf("update %s: %w", path, err)
	}

	sub("cache").Info("updated", "path", path, "size", len(content))
	c.publish(EventUpdated, path, "")
	return nil
}

// Revert writes the snapshot of path back to disk and discards the snapshot.
// A second Revert without an intervening Cache or Update fails with
// ErrNotFoundInCache. With a journal, the journaled snapshot is restored,
// so a snapshot taken or consumed by another process is honored.
func (c *FileCache) Revert(ctx context.Context, path string) error {
	path, err := checkAbs(path)
	if err != nil {
		return err
	}
	if _, ok, err := c.lookup(path); err != nil {
		return fmt.Errorf("revert %s: %w", path, err)
	} else if !ok {
		return fmt.Errorf("%w: %s", ErrNotFoundInCache, path)
	}

	var restored int
	err = c.withLock(ctx, path, func() error {
		// The snapshot may have been evicted, or consumed by another
		// process sharing the journal, while waiting for the lock.
		content, ok, err := c.lookup(path)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFoundInCache, path)
		}
		if err := writeAtomic(c.fs, path, content); err != nil {
			return err
		}
		restored = len(content)
		return c.drop(path)
	})
	if err != nil {
		sub("cache").Error("revert failed", "path", path, "err", err)
		return fmt.Errorf("revert %s: %w", path, err)
	}

	sub("cache").Info("reverted", "path", path, "size", restored)
	c.publish(EventReverted, path, "")
	return nil
}

// Contains reports whether path has a snapshot. It does not change recency.
func (c *FileCache) Contains(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Contains(path)
}

// Snapshot returns the cached content for path without changing recency.
func (c *FileCache) Snapshot(path string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Peek(path)
}

// Len returns the number of snapshots held.
func (c *FileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Capacity returns the eviction threshold.
func (c *FileCache) Capacity() int {
	return c.capacity
}

// Paths returns the cached paths, least recently used first.
func (c *FileCache) Paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Keys()
}

// Entries lists cached paths in natural order with the size of each snapshot.
func (c *FileCache) Entries() []Entry {
	c.mu.Lock()
	out := make([]Entry, 0, c.entries.Len())
	for _, p := range c.entries.Keys() {
		content, _ := c.entries.Peek(p)
		out = append(out, Entry{Path: p, Size: len(content)})
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return natural.Less(out[i].Path, out[j].Path) })
	return out
}

// OnCached registers fn to run synchronously, outside the cache mutex, after
// every successful snapshot of a path. Unlike bus subscribers it never misses
// a call. The returned func unregisters fn.
func (c *FileCache) OnCached(fn func(path string)) (remove func()) {
	c.mu.Lock()
	id := c.nextHook
	c.nextHook++
	c.hooks[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.hooks, id)
		c.mu.Unlock()
	}
}

// Fs returns the filesystem the cache operates on.
func (c *FileCache) Fs() afero.Fs {
	return c.fs
}

// ensureCached snapshots path only if it has no snapshot yet. A snapshot
// another process journaled is adopted rather than replaced.
func (c *FileCache) ensureCached(path string) error {
	snap, ok, err := c.lookup(path)
	if err != nil {
		return err
	}
	if ok {
		if cur, held := c.Snapshot(path); !held || cur != snap {
			return c.put(path, snap, false)
		}
		return nil
	}
	content, err := readContent(c.fs, path)
	if err != nil {
		return err
	}
	return c.put(path, content, true)
}

// put stores content as the snapshot of path. With onlyIfAbsent an existing
// snapshot wins.
func (c *FileCache) put(path, content string, onlyIfAbsent bool) error {
	c.mu.Lock()
	if onlyIfAbsent && c.entries.Contains(path) {
		c.mu.Unlock()
		return nil
	}
	if c.store != nil {
		if err := c.store.PutSnapshot(Snapshot{Path: path, Content: content, TouchedAt: nowFunc().UnixNano()}); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	evicted := c.addLocked(path, content)
	if evicted != "" && c.store != nil {
		if err := c.store.DeleteSnapshot(evicted); err != nil {
			sub("cache").Warn("journal delete after eviction failed", "path", evicted, "err", err)
		}
	}
	n := c.entries.Len()
	hooks := make([]func(string), 0, len(c.hooks))
	for _, fn := range c.hooks {
		hooks = append(hooks, fn)
	}
	c.mu.Unlock()

	for _, fn := range hooks {
		fn(path)
	}

	if logEnabled(slog.LevelDebug) {
		sub("cache").Debug("cached", "path", path, "size", len(content), "entries", n)
	}
	c.publish(EventCached, path, "")
	if evicted != "" {
		sub("cache").Info("evicted", "path", evicted, "capacity", c.capacity)
		c.publish(EventEvicted, evicted, "")
	}
	return nil
}

// addLocked inserts or refreshes path as most recently used and returns the
// path evicted to stay within capacity, if any. Caller holds c.mu.
func (c *FileCache) addLocked(path, content string) string {
	var evicted string
	if !c.entries.Contains(path) && c.entries.Len() >= c.capacity {
		if k, _, ok := c.entries.RemoveOldest(); ok {
			evicted = k
		}
	}
	c.entries.Add(path, content)
	return evicted
}

// lookup returns the current snapshot of path. With a journal the journaled
// row is authoritative: a row missing there drops the in-memory copy, and a
// row rewritten by another process wins over the in-memory content.
func (c *FileCache) lookup(path string) (string, bool, error) {
	if c.store == nil {
		content, ok := c.Snapshot(path)
		return content, ok, nil
	}
	sn, err := c.store.GetSnapshot(path)
	if err != nil {
		return "", false, err
	}
	if sn == nil {
		c.mu.Lock()
		if c.entries.Remove(path) {
			sub("cache").Debug("snapshot consumed elsewhere", "path", path)
		}
		c.mu.Unlock()
		return "", false, nil
	}
	return sn.Content, true, nil
}

// drop removes the snapshot of path from the journal and then from memory.
func (c *FileCache) drop(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store != nil {
		if err := c.store.DeleteSnapshot(path); err != nil {
			return err
		}
	}
	c.entries.Remove(path)
	return nil
}

// withLock runs fn while holding the path lock for path.
func (c *FileCache) withLock(ctx context.Context, path string, fn func() error) (err error) {
	lock := NewPathLock(c.fs, path, c.interval)
	if err := lock.Lock(ctx); err != nil {
		return err
	}
	defer func() {
		if uerr := lock.Unlock(); uerr != nil {
			sub("cache").Warn("lock release failed", "path", path, "err", uerr)
			if err == nil {
				err = uerr
			}
		}
	}()
	return fn()
}

func (c *FileCache) publish(typ, path, detail string) {
	if c.events == nil {
		return
	}
	c.events.Publish(Event{Type: typ, Path: path, Time: nowFunc(), Detail: detail})
}
