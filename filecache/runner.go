package filecache

import (
	"context"
	"path/filepath"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/marusama/semaphore/v2"
)

// DefaultResultTTL is how long finished trial results stay queryable.
const DefaultResultTTL = time.Hour

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	Workers   int           // concurrent trials; 0 means 1
	ResultTTL time.Duration // 0 means DefaultResultTTL
	Events    *EventBus     // optional
}

// Runner executes queued trials against a FileCache. Trials on different
// paths run concurrently up to the worker limit; trials on the same path run
// one at a time so a check never sees another trial's candidate.
type Runner struct {
	fc      *FileCache
	queue   *TrialQueue
	results *ttlcache.Cache[string, TrialResult]
	sem     semaphore.Semaphore
	events  *EventBus

	mu      gosync.Mutex
	pending map[string]TrialRequest
	busy    map[string]*pathSlot // paths with a trial running or waiting
	wg      gosync.WaitGroup
}

// NewRunner creates a Runner.
func NewRunner(fc *FileCache, opts RunnerOptions) *Runner {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	ttl := opts.ResultTTL
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	return &Runner{
		fc:    fc,
		queue: NewTrialQueue(),
		results: ttlcache.New[string, TrialResult](
			ttlcache.WithTTL[string, TrialResult](ttl),
			ttlcache.WithDisableTouchOnHit[string, TrialResult](),
		),
		sem:     semaphore.New(workers),
		events:  opts.Events,
		pending: make(map[string]TrialRequest),
		busy:    make(map[string]*pathSlot),
	}
}

// Submit validates and enqueues a trial, returning its ID.
func (r *Runner) Submit(req TrialRequest) (string, error) {
	if _, err := req.Validate(); err != nil {
		return "", err
	}
	req.Path = filepath.Clean(req.Path)
	r.results.DeleteExpired()

	id := uuid.NewString()
	r.mu.Lock()
	r.pending[id] = req
	r.mu.Unlock()
	r.results.Set(id, TrialResult{ID: id, Path: req.Path, Status: TrialQueued}, ttlcache.DefaultTTL)
	r.queue.Push(id)

	sub("runner").Info("trial queued", "id", id, "path", req.Path, "queueLen", r.queue.Len())
	return id, nil
}

// Result returns the latest known result for a trial.
func (r *Runner) Result(id string) (TrialResult, bool) {
	item := r.results.Get(id)
	if item == nil {
		return TrialResult{}, false
	}
	return item.Value(), true
}

// Cancel withdraws a trial that has not started yet. It reports false when
// the trial is unknown, already running or finished.
func (r *Runner) Cancel(id string) bool {
	if !r.queue.Remove(id) {
		return false
	}
	r.mu.Lock()
	req := r.pending[id]
	delete(r.pending, id)
	r.mu.Unlock()

	now := nowFunc()
	r.results.Set(id, TrialResult{ID: id, Path: req.Path, Status: TrialCanceled, FinishedAt: now}, ttlcache.DefaultTTL)
	sub("runner").Info("trial canceled", "id", id, "path", req.Path)
	if r.events != nil {
		r.events.Publish(Event{Type: EventTrial, Path: req.Path, Time: now, Detail: id + ":" + string(TrialCanceled)})
	}
	return true
}

// QueueLen returns the number of trials waiting to start.
func (r *Runner) QueueLen() int {
	return r.queue.Len()
}

// Run processes the queue until ctx is cancelled, then waits for running trials.
func (r *Runner) Run(ctx context.Context) {
	l := sub("runner")
	l.Info("runner started", "workers", r.sem.GetLimit())

	done := ctx.Done()
	for {
		id, ok := r.queue.Pop(done)
		if !ok {
			break
		}
		r.mu.Lock()
		req, ok := r.pending[id]
		delete(r.pending, id)
		r.mu.Unlock()
		if !ok {
			continue
		}

		if err := r.sem.Acquire(ctx, 1); err != nil {
			break
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer r.sem.Release(1)
			r.execute(ctx, id, req)
		}()
	}

	r.wg.Wait()
	l.Info("runner stopped", "abandoned", len(r.queue.Drain()))
}

func (r *Runner) execute(ctx context.Context, id string, req TrialRequest) {
	slot := r.acquirePath(req.Path)
	defer r.releasePath(req.Path, slot)

	r.results.Set(id, TrialResult{ID: id, Path: req.Path, Status: TrialRunning, StartedAt: nowFunc()}, ttlcache.DefaultTTL)
	res := RunTrial(ctx, r.fc, id, req)
	r.results.Set(id, res, ttlcache.DefaultTTL)

	if r.events != nil {
		r.events.Publish(Event{Type: EventTrial, Path: req.Path, Time: nowFunc(), Detail: id + ":" + string(res.Status)})
	}
}

// pathSlot serializes trials on one path. refs counts the trials holding or
// waiting for mu; the slot is dropped from Runner.busy when it reaches zero.
type pathSlot struct {
	mu   gosync.Mutex
	refs int
}

func (r *Runner) acquirePath(path string) *pathSlot {
	r.mu.Lock()
	slot, ok := r.busy[path]
	if !ok {
		slot = &pathSlot{}
		r.busy[path] = slot
	}
	slot.refs++
	r.mu.Unlock()

	slot.mu.Lock()
	return slot
}

func (r *Runner) releasePath(path string, slot *pathSlot) {
	slot.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(r.busy, path)
	}
}
