// Package jobs contains the periodic sync jobs run by the scheduler.
package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rulesmaster/progress-sync/internal/application/quizhistory"
	"github.com/rulesmaster/progress-sync/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESYNC PENDING QUIZ RESULTS JOB
// ══════════════════════════════════════════════════════════════════════════════

// PendingSyncer uploads quiz attempts that were cached while the remote
// store was unreachable.
type PendingSyncer interface {
	SyncPending(ctx context.Context) (quizhistory.SyncReport, error)
}

// ResyncPendingQuizJob retries the remote insert of pending quiz attempts.
type ResyncPendingQuizJob struct {
	syncer  PendingSyncer
	logger  *logger.Logger
	timeout time.Duration

	lastReport atomic.Pointer[quizhistory.SyncReport]
}

// NewResyncPendingQuizJob creates the job. A zero timeout means the run is
// bounded only by the scheduler context.
func NewResyncPendingQuizJob(syncer PendingSyncer, timeout time.Duration, log *logger.Logger) *ResyncPendingQuizJob {
	if log == nil {
		log = logger.Nop()
	}
	return &ResyncPendingQuizJob{
		syncer:  syncer,
		timeout: timeout,
		logger:  log.With(logger.String("job", "resync_pending_quiz")),
	}
}

// Name returns the job name.
func (j *ResyncPendingQuizJob) Name() string {
	return "resync_pending_quiz"
}

// Description returns a human-readable description.
func (j *ResyncPendingQuizJob) Description() string {
	return "Uploads quiz attempts saved while the remote store was unreachable"
}

// Run executes one resync pass.
func (j *ResyncPendingQuizJob) Run(ctx context.Context) error {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	report, err := j.syncer.SyncPending(ctx)
	j.lastReport.Store(&report)
	if err != nil {
		return fmt.Errorf("resync pending quiz results: %w", err)
	}
	if report.Attempted > 0 {
		j.logger.Info("pending quiz results uploaded",
			logger.Int("uploaded", report.Uploaded),
			logger.Int("remaining", report.Remaining),
		)
	}
	return nil
}

// LastReport returns the report of the most recent run, if any.
func (j *ResyncPendingQuizJob) LastReport() (quizhistory.SyncReport, bool) {
	r := j.lastReport.Load()
	if r == nil {
		return quizhistory.SyncReport{}, false
	}
	return *r, true
}
