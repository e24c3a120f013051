package filecache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForStatus(t *testing.T, r *Runner, id string, want ...TrialStatus) TrialResult {
	t.Helper()
	var res TrialResult
	require.Eventually(t, func() bool {
		var ok bool
		res, ok = r.Result(id)
		if !ok {
			return false
		}
		for _, w := range want {
			if res.Status == w {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
	return res
}

func TestRunner_SubmitAndRun(t *testing.T) {
	fc, p := setupTrialEnv(t)
	bus := NewEventBus()
	events := bus.Subscribe()
	defer bus.Unsubscribe(events)

	r := NewRunner(fc, RunnerOptions{Workers: 2, Events: bus})

	id, err := r.Submit(TrialRequest{Path: p, Content: "Y", Command: "false"})
	require.NoError(t, err)
	res, ok := r.Result(id)
	require.True(t, ok)
	assert.Equal(t, TrialQueued, res.Status)
	assert.Equal(t, 1, r.QueueLen())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(stopped)
	}()

	res = waitForStatus(t, r, id, TrialFailed)
	assert.True(t, res.Reverted)
	assert.Equal(t, "X", fileContent(t, p))

	require.Eventually(t, func() bool {
		for {
			select {
			case ev := <-events:
				if ev.Type == EventTrial && ev.Detail == id+":failed" {
					return true
				}
			default:
				return false
			}
		}
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRunner_SamePathTrialsSerialize(t *testing.T) {
	fc, p := setupTrialEnv(t)
	r := NewRunner(fc, RunnerOptions{Workers: 4})

	// Each check sees only its own candidate while it sleeps.
	var ids []string
	for _, c := range []string{"one", "two", "three"} {
		id, err := r.Submit(TrialRequest{
			Path:    p,
			Content: c,
			Command: "sh -c 'sleep 0.05; grep -qx " + c + " a.ets'",
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	for _, id := range ids {
		res := waitForStatus(t, r, id, TrialPassed, TrialFailed, TrialError)
		assert.Equal(t, TrialPassed, res.Status, res.Output)
	}
	assert.Equal(t, "X", fileContent(t, p))
}

func TestRunner_DifferentPathsRunConcurrently(t *testing.T) {
	dir := t.TempDir()
	fc, err := New(Options{PollInterval: time.Millisecond})
	require.NoError(t, err)
	r := NewRunner(fc, RunnerOptions{Workers: 2})

	var ids []string
	for _, name := range []string{"a", "b"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(name), 0644))
		id, err := r.Submit(TrialRequest{Path: p, Content: "new", Command: "sleep 0.3"})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	start := time.Now()
	go r.Run(ctx)

	for _, id := range ids {
		waitForStatus(t, r, id, TrialPassed)
	}
	assert.Less(t, time.Since(start), 550*time.Millisecond)
}

func TestRunner_SubmitRejectsInvalid(t *testing.T) {
	fc, _ := setupTrialEnv(t)
	r := NewRunner(fc, RunnerOptions{})

	_, err := r.Submit(TrialRequest{Path: "relative", Command: "true"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = r.Submit(TrialRequest{Path: "/abs", Command: ""})
	assert.Error(t, err)
	assert.Equal(t, 0, r.QueueLen())
}

func TestRunner_ResultUnknown(t *testing.T) {
	fc, _ := setupTrialEnv(t)
	r := NewRunner(fc, RunnerOptions{})
	_, ok := r.Result("nope")
	assert.False(t, ok)
}

func TestRunner_ResultsExpire(t *testing.T) {
	fc, p := setupTrialEnv(t)
	r := NewRunner(fc, RunnerOptions{ResultTTL: 20 * time.Millisecond})

	id, err := r.Submit(TrialRequest{Path: p, Content: "Y", Command: "true"})
	require.NoError(t, err)
	time.Sleep(40 * time.Millisecond)

	_, ok := r.Result(id)
	assert.False(t, ok)
}

func TestRunner_ForgetsIdlePaths(t *testing.T) {
	fc, p := setupTrialEnv(t)
	r := NewRunner(fc, RunnerOptions{Workers: 2})

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := r.Submit(TrialRequest{Path: p, Content: "Y", Command: "true"})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	for _, id := range ids {
		waitForStatus(t, r, id, TrialPassed)
	}
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.busy) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestRunner_CancelQueuedTrial(t *testing.T) {
	fc, p := setupTrialEnv(t)
	r := NewRunner(fc, RunnerOptions{})

	id, err := r.Submit(TrialRequest{Path: p, Content: "Y", Command: "true", Keep: true})
	require.NoError(t, err)
	require.True(t, r.Cancel(id))
	assert.False(t, r.Cancel(id))
	assert.Equal(t, 0, r.QueueLen())

	res, ok := r.Result(id)
	require.True(t, ok)
	assert.Equal(t, TrialCanceled, res.Status)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	// The canceled candidate is never applied.
	other, err := r.Submit(TrialRequest{Path: p, Content: "Z", Command: "true"})
	require.NoError(t, err)
	waitForStatus(t, r, other, TrialPassed)
	assert.Equal(t, "X", fileContent(t, p))
	res, _ = r.Result(id)
	assert.Equal(t, TrialCanceled, res.Status)
}
