package filecache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrialQueue_SubmissionOrder(t *testing.T) {
	q := NewTrialQueue()

	assert.True(t, q.Push("t1"))
	assert.True(t, q.Push("t2"))
	assert.Equal(t, 2, q.Len())

	done := make(chan struct{})
	id, ok := q.Pop(done)
	require.True(t, ok)
	assert.Equal(t, "t1", id)

	id, ok = q.Pop(done)
	require.True(t, ok)
	assert.Equal(t, "t2", id)

	assert.Equal(t, 0, q.Len())
}

func TestTrialQueue_SameTrialQueuedOnce(t *testing.T) {
	q := NewTrialQueue()
	assert.True(t, q.Push("t1"))
	assert.False(t, q.Push("t1"))
	assert.Equal(t, 1, q.Len())

	// Once picked up, the same ID may be queued again.
	_, ok := q.Pop(make(chan struct{}))
	require.True(t, ok)
	assert.True(t, q.Push("t1"))
}

func TestTrialQueue_RemoveWaitingTrial(t *testing.T) {
	q := NewTrialQueue()
	q.Push("t1")
	q.Push("t2")

	assert.True(t, q.Remove("t1"))
	assert.False(t, q.Remove("t1"))
	assert.False(t, q.Remove("never-queued"))

	id, ok := q.Pop(make(chan struct{}))
	require.True(t, ok)
	assert.Equal(t, "t2", id)
	assert.False(t, q.Remove("t2"))
}

func TestTrialQueue_PopBlocks(t *testing.T) {
	q := NewTrialQueue()
	done := make(chan struct{})

	result := make(chan string, 1)
	go func() {
		if id, ok := q.Pop(done); ok {
			result <- id
		}
	}()

	select {
	case <-result:
		t.Fatal("Pop should block when no trial is queued")
	case <-time.After(50 * time.Millisecond):
	}

	q.Push("wakeup")
	select {
	case id := <-result:
		assert.Equal(t, "wakeup", id)
	case <-time.After(time.Second):
		t.Fatal("Pop should have unblocked")
	}
}

func TestTrialQueue_PopDone(t *testing.T) {
	q := NewTrialQueue()
	done := make(chan struct{})
	close(done)

	_, ok := q.Pop(done)
	assert.False(t, ok)
}

func TestTrialQueue_Drain(t *testing.T) {
	q := NewTrialQueue()
	q.Push("a")
	q.Push("b")

	assert.Equal(t, []string{"a", "b"}, q.Drain())
	assert.Equal(t, 0, q.Len())
	assert.False(t, q.Remove("a"))
}
