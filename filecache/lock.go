package filecache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/afero"
)

// LockSuffix is appended to a target path to form its sentinel lock file.
const LockSuffix = ".lock"

// DefaultPollInterval is the wait between sentinel checks while a lock is held elsewhere.
const DefaultPollInterval = 100 * time.Millisecond

// LockPath returns the sentinel path guarding target.
func LockPath(target string) string {
	return target + LockSuffix
}

// PathLock is an advisory, un-owned lock on a single file, shared by every
// process that follows the same convention: the lock is held while the
// sentinel file <target>.lock exists.
//
// Acquisition polls at a fixed interval and creates the sentinel with
// O_CREATE|O_EXCL, so two waiters can never both believe they created it.
// A sentinel left behind by a crashed holder is never removed automatically;
// waiters block until it disappears or their context ends.
type PathLock struct {
	fs       afero.Fs
	target   string
	interval time.Duration
	held     bool
}

// NewPathLock creates a lock for target on the given filesystem.
func NewPathLock(fsys afero.Fs, target string, interval time.Duration) *PathLock {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PathLock{fs: fsys, target: target, interval: interval}
}

// Lock blocks until the sentinel is created by this call or ctx is done.
func (l *PathLock) Lock(ctx context.Context) error {
	sentinel := LockPath(l.target)
	polls := 0
	for {
		f, err := l.fs.OpenFile(sentinel, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			f.Close() //nolint:errcheck
			l.held = true
			if polls > 0 && logEnabled(slog.LevelDebug) {
				sub("lock").Debug("lock acquired after wait", "path", l.target, "polls", polls)
			}
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("create lock sentinel: %w", err)
		}

		polls++
		if polls == 1 {
			sub("lock").Debug("lock busy, polling", "path", l.target, "interval", l.interval)
		}

		timer := time.NewTimer(l.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			sub("lock").Warn("lock wait abandoned", "path", l.target, "polls", polls, "err", ctx.Err())
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Unlock removes the sentinel. Unlocking a lock that is not held is a no-op.
func (l *PathLock) Unlock() error {
	if !l.held {
		return nil
	}
	l.held = false
	if err := l.fs.Remove(LockPath(l.target)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove lock sentinel: %w", err)
	}
	return nil
}

// IsLocked reports whether a sentinel currently exists for target.
func IsLocked(fsys afero.Fs, target string) bool {
	ok, _ := afero.Exists(fsys, LockPath(target))
	return ok
}
