package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rulesmaster/progress-sync/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REFRESH CACHED PROGRESS JOB
// ══════════════════════════════════════════════════════════════════════════════

// CachedRefresher refetches every cached progress snapshot.
type CachedRefresher interface {
	RefreshCached(ctx context.Context) (int, error)
}

// RefreshProgressJob keeps cached progress close to the remote record for
// long-lived processes that never see a foreground event.
type RefreshProgressJob struct {
	refresher CachedRefresher
	logger    *logger.Logger
	timeout   time.Duration

	lastRefreshed atomic.Int64
}

// NewRefreshProgressJob creates the job.
func NewRefreshProgressJob(refresher CachedRefresher, timeout time.Duration, log *logger.Logger) *RefreshProgressJob {
	if log == nil {
		log = logger.Nop()
	}
	return &RefreshProgressJob{
		refresher: refresher,
		timeout:   timeout,
		logger:    log.With(logger.String("job", "refresh_progress")),
	}
}

// Name returns the job name.
func (j *RefreshProgressJob) Name() string {
	return "refresh_progress"
}

// Description returns a human-readable description.
func (j *RefreshProgressJob) Description() string {
	return "Refetches cached progress snapshots from the remote store"
}

// Run executes one refresh pass. Partial failures are reported but the
// snapshots that did refresh stay refreshed.
func (j *RefreshProgressJob) Run(ctx context.Context) error {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	n, err := j.refresher.RefreshCached(ctx)
	j.lastRefreshed.Store(int64(n))
	if err != nil {
		return fmt.Errorf("refresh cached progress: %w", err)
	}
	j.logger.Debug("cached progress refreshed", logger.Int("games", n))
	return nil
}

// LastRefreshed returns the number of snapshots refreshed by the last run.
func (j *RefreshProgressJob) LastRefreshed() int {
	return int(j.lastRefreshed.Load())
}
