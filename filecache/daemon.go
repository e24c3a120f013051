package filecache

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// DaemonConfig configures the long-running service. Run refuses an empty
// Secret unless Insecure is set.
type DaemonConfig struct {
	Listen    string
	Secret    string
	Workers   int
	ResultTTL time.Duration
	StatsRoot string
	Watch     bool
	Insecure  bool
}

// Daemon serves the HTTP API, runs queued trials and, optionally, watches
// cached files for outside changes.
type Daemon struct {
	cfg      DaemonConfig
	fc       *FileCache
	events   *EventBus
	runner   *Runner
	handlers *Handlers
}

// NewDaemon creates a daemon around an existing cache. events must be the
// bus the cache publishes to.
func NewDaemon(fc *FileCache, events *EventBus, cfg DaemonConfig) *Daemon {
	runner := NewRunner(fc, RunnerOptions{
		Workers:   cfg.Workers,
		ResultTTL: cfg.ResultTTL,
		Events:    events,
	})
	return &Daemon{
		cfg:      cfg,
		fc:       fc,
		events:   events,
		runner:   runner,
		handlers: NewHandlers(fc, runner, events, cfg.Secret, cfg.StatsRoot),
	}
}

// Runner returns the trial runner, used by HTTP handlers and tests.
func (d *Daemon) Runner() *Runner {
	return d.runner
}

// Handler returns the API router.
func (d *Daemon) Handler() http.Handler {
	return d.handlers.Router()
}

// Run starts the trial runner, the watcher and the HTTP server. Blocks until
// ctx is cancelled or a component fails.
func (d *Daemon) Run(ctx context.Context) error {
	l := sub("daemon")
	if d.cfg.Secret == "" && !d.cfg.Insecure {
		return errors.New("refusing to serve without a secret; set one or run insecure")
	}
	if d.cfg.Secret == "" {
		l.Warn("serving without token auth", "listen", d.cfg.Listen)
	}
	l.Info("daemon starting", "listen", d.cfg.Listen, "entries", d.fc.Len(), "capacity", d.fc.Capacity(), "watch", d.cfg.Watch)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.runner.Run(ctx)
		return nil
	})

	if d.cfg.Watch {
		watcher, err := NewWatcher(d.fc, d.events)
		if err != nil {
			return err
		}
		defer watcher.Close()
		g.Go(func() error {
			if err := watcher.Start(ctx); err != nil && ctx.Err() == nil {
				l.Warn("watcher stopped unexpectedly", "err", err)
				return err
			}
			return nil
		})
	}

	srv := &http.Server{
		Addr:              d.cfg.Listen,
		Handler:           d.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Streams end with the daemon rather than holding Shutdown open.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	l.Info("daemon stopped", "err", err)
	return err
}
