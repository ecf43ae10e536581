// Package background runs fire-and-forget work that must outlive the call
// that started it: cache refreshes after a cached read, and pending quiz
// uploads. Tasks are bounded in number, de-duplicated by key, recovered on
// panic, and drained on shutdown.
package background

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/rulesmaster/progress-sync/pkg/logger"
)

// Task is a unit of background work.
type Task func(ctx context.Context) error

// Config configures a Runner.
type Config struct {
	// MaxConcurrent bounds tasks running at once. Default: 4.
	MaxConcurrent int64

	// TaskTimeout bounds a single task. Zero means no limit.
	TaskTimeout time.Duration

	Logger *logger.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 4,
		TaskTimeout:   15 * time.Second,
	}
}

// Stats is a snapshot of runner counters.
type Stats struct {
	Started      int64
	Succeeded    int64
	Failed       int64
	Panicked     int64
	Deduplicated int64
	Rejected     int64
}

// Runner executes Tasks detached from their caller's context.
type Runner struct {
	sem     *semaphore.Weighted
	group   singleflight.Group
	wg      sync.WaitGroup
	timeout time.Duration
	logger  *logger.Logger

	base   context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool

	started, succeeded, failed, panicked, deduped, rejected atomic.Int64
}

// New creates a Runner.
func New(cfg Config) *Runner {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Runner{
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		timeout: cfg.TaskTimeout,
		logger:  cfg.Logger.With(logger.Component("background")),
		base:    base,
		cancel:  cancel,
	}
}

// Go schedules task. A non-empty key de-duplicates: while a task with the
// same key is running, further submissions join it instead of running
// again. Go never blocks and returns false once the runner is closed.
func (r *Runner) Go(key string, task Task) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.rejected.Add(1)
		return false
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if key == "" {
			r.run(key, task)
			return
		}
		_, _, shared := r.group.Do(key, func() (any, error) {
			r.run(key, task)
			return nil, nil
		})
		if shared {
			r.deduped.Add(1)
		}
	}()
	return true
}

func (r *Runner) run(key string, task Task) {
	if err := r.sem.Acquire(r.base, 1); err != nil {
		r.rejected.Add(1)
		return
	}
	defer r.sem.Release(1)

	r.started.Add(1)
	ctx := r.base
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := r.safely(ctx, task); err != nil {
		r.failed.Add(1)
		r.logger.Warn("background task failed",
			logger.String("task", key),
			logger.Latency(time.Since(start)),
			logger.Err(err),
		)
		return
	}
	r.succeeded.Add(1)
}

func (r *Runner) safely(ctx context.Context, task Task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.panicked.Add(1)
			err = fmt.Errorf("background task panicked: %v", p)
		}
	}()
	return task(ctx)
}

// Wait blocks until every scheduled task has finished or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting tasks and drains the running ones. If ctx ends
// first, running tasks are cancelled and Shutdown waits for them to return.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	err := r.Wait(ctx)
	r.cancel()
	if err != nil {
		r.wg.Wait()
	}
	return err
}

// Stats returns a snapshot of the counters.
func (r *Runner) Stats() Stats {
	return Stats{
		Started:      r.started.Load(),
		Succeeded:    r.succeeded.Load(),
		Failed:       r.failed.Load(),
		Panicked:     r.panicked.Load(),
		Deduplicated: r.deduped.Load(),
		Rejected:     r.rejected.Load(),
	}
}
