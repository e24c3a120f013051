package filecache

import (
	"log/slog"
	gosync "sync"
	"time"
)

// TrialQueue holds the IDs of submitted trials in submission order until a
// worker picks them up. An ID is queued at most once; a trial canceled before
// it starts is taken out with Remove.
type TrialQueue struct {
	mu       gosync.Mutex
	queuedAt map[string]time.Time // trial ID → submission time
	order    []string
	ready    chan struct{} // signaled when a trial is submitted
}

// NewTrialQueue creates an empty queue.
func NewTrialQueue() *TrialQueue {
	return &TrialQueue{
		queuedAt: make(map[string]time.Time),
		ready:    make(chan struct{}, 1),
	}
}

// Push queues trial id. It reports false if id is already waiting.
func (q *TrialQueue) Push(id string) bool {
	q.mu.Lock()
	if _, waiting := q.queuedAt[id]; waiting {
		q.mu.Unlock()
		return false
	}
	q.queuedAt[id] = nowFunc()
	q.order = append(q.order, id)
	waiting := len(q.order)
	q.mu.Unlock()

	if logEnabled(slog.LevelDebug) {
		sub("queue").Debug("trial enqueued", "id", id, "waiting", waiting)
	}

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Pop hands out the longest-waiting trial ID. It blocks until a trial is
// queued or done is closed, in which case it returns ("", false).
func (q *TrialQueue) Pop(done <-chan struct{}) (string, bool) {
	for {
		q.mu.Lock()
		if len(q.order) > 0 {
			id := q.order[0]
			q.order = q.order[1:]
			since := q.queuedAt[id]
			delete(q.queuedAt, id)
			q.mu.Unlock()

			if logEnabled(slog.LevelDebug) {
				sub("queue").Debug("trial dequeued", "id", id, "waited", nowFunc().Sub(since))
			}
			return id, true
		}
		q.mu.Unlock()

		select {
		case <-done:
			return "", false
		case <-q.ready:
		}
	}
}

// Remove takes a trial that has not started out of the queue. It reports
// whether the trial was still waiting.
func (q *TrialQueue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, waiting := q.queuedAt[id]; !waiting {
		return false
	}
	delete(q.queuedAt, id)
	for i, v := range q.order {
		if v == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of trials waiting for a worker.
func (q *TrialQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Drain empties the queue and returns the IDs of the trials that never started.
func (q *TrialQueue) Drain() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	abandoned := q.order
	q.order = nil
	q.queuedAt = make(map[string]time.Time)
	return abandoned
}
