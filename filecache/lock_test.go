package filecache

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathLock_CreatesAndRemovesSentinel(t *testing.T) {
	fsys := afero.NewMemMapFs()
	lock := NewPathLock(fsys, "/data/a.txt", time.Millisecond)

	require.NoError(t, lock.Lock(context.Background()))
	assert.True(t, IsLocked(fsys, "/data/a.txt"))

	require.NoError(t, lock.Unlock())
	assert.False(t, IsLocked(fsys, "/data/a.txt"))
}

func TestPathLock_UnlockWithoutLock(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, LockPath("/a"), nil, 0644))

	lock := NewPathLock(fsys, "/a", time.Millisecond)
	require.NoError(t, lock.Unlock())
	// Someone else's sentinel is not touched.
	assert.True(t, IsLocked(fsys, "/a"))
}

func TestPathLock_UnlockTwice(t *testing.T) {
	fsys := afero.NewMemMapFs()
	lock := NewPathLock(fsys, "/a", time.Millisecond)
	require.NoError(t, lock.Lock(context.Background()))
	require.NoError(t, lock.Unlock())

	other := NewPathLock(fsys, "/a", time.Millisecond)
	require.NoError(t, other.Lock(context.Background()))
	require.NoError(t, lock.Unlock())
	assert.True(t, IsLocked(fsys, "/a"))
	require.NoError(t, other.Unlock())
}

func TestPathLock_SentinelRemovedExternally(t *testing.T) {
	fsys := afero.NewMemMapFs()
	lock := NewPathLock(fsys, "/a", time.Millisecond)
	require.NoError(t, lock.Lock(context.Background()))
	require.NoError(t, fsys.Remove(LockPath("/a")))
	assert.NoError(t, lock.Unlock())
}

func TestPathLock_WaitsThenAcquires(t *testing.T) {
	fsys := afero.NewMemMapFs()
	first := NewPathLock(fsys, "/a", time.Millisecond)
	require.NoError(t, first.Lock(context.Background()))

	acquired := make(chan struct{})
	go func() {
		second := NewPathLock(fsys, "/a", time.Millisecond)
		if err := second.Lock(context.Background()); err == nil {
			close(acquired)
			second.Unlock() //nolint:errcheck
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first was held")
	case <-time.After(30 * time.Millisecond):
	}

	require.NoError(t, first.Unlock())
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired")
	}
}

func TestPathLock_ContextCancel(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, LockPath("/a"), nil, 0644))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	lock := NewPathLock(fsys, "/a", 5*time.Millisecond)
	err := lock.Lock(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, lock.Unlock())
	assert.True(t, IsLocked(fsys, "/a"))
}

// Uses the OS filesystem: only a real O_EXCL create is atomic across goroutines.
func TestPathLock_MutualExclusion(t *testing.T) {
	fsys := afero.NewOsFs()
	shared := filepath.Join(t.TempDir(), "shared")
	var inside, maxInside atomic.Int32
	done := make(chan struct{})

	const workers = 10
	for i := 0; i < workers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			lock := NewPathLock(fsys, shared, time.Millisecond)
			if err := lock.Lock(context.Background()); err != nil {
				t.Error(err)
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inside.Add(-1)
			if err := lock.Unlock(); err != nil {
				t.Error(err)
			}
		}()
	}
	for i := 0; i < workers; i++ {
		<-done
	}
	assert.Equal(t, int32(1), maxInside.Load())
	assert.False(t, IsLocked(fsys, shared))
}

func TestNewPathLock_DefaultInterval(t *testing.T) {
	lock := NewPathLock(afero.NewMemMapFs(), "/a", 0)
	assert.Equal(t, DefaultPollInterval, lock.interval)
	assert.Equal(t, "/a.lock", LockPath("/a"))
}
