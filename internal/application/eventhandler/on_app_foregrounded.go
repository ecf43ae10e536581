package eventhandler

import (
	"context"

	"github.com/rulesmaster/progress-sync/internal/application/quizhistory"
	"github.com/rulesmaster/progress-sync/internal/domain/shared"
	"github.com/rulesmaster/progress-sync/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON APP FOREGROUNDED HANDLER
// Refetches every cached game of the user and retries pending quiz uploads.
// ═══════════════════════════════════════════════════════════════════════════

// ProgressRefresher refreshes cached progress from the remote store.
type ProgressRefresher interface {
	RefreshAll(ctx context.Context, userID string) (int, error)
}

// PendingSyncer uploads quiz attempts whose remote insert failed earlier.
type PendingSyncer interface {
	SyncPending(ctx context.Context) (quizhistory.SyncReport, error)
}

// OnAppForegroundedHandler handles lifecycle.app_foregrounded.
type OnAppForegroundedHandler struct {
	progress ProgressRefresher
	quizzes  PendingSyncer
	logger   *logger.Logger
}

// NewOnAppForegroundedHandler creates the handler.
func NewOnAppForegroundedHandler(progress ProgressRefresher, quizzes PendingSyncer, log *logger.Logger) *OnAppForegroundedHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &OnAppForegroundedHandler{
		progress: progress,
		quizzes:  quizzes,
		logger:   log.With(logger.String("handler", "on_app_foregrounded")),
	}
}

// Handle implements shared.EventHandler. Failures are logged; the cache
// keeps serving reads.
func (h *OnAppForegroundedHandler) Handle(ctx context.Context, event shared.Event) error {
	userID := event.AggregateID()

	games, err := h.progress.RefreshAll(ctx, userID)
	if err != nil {
		h.logger.Warn("progress refresh failed", logger.UserID(userID), logger.Err(err))
	}

	report, err := h.quizzes.SyncPending(ctx)
	if err != nil {
		h.logger.Warn("pending quiz sync failed",
			logger.UserID(userID),
			logger.Int("remaining", report.Remaining),
			logger.Err(err),
		)
	}

	h.logger.Debug("foreground sync finished",
		logger.UserID(userID),
		logger.Int("games", games),
		logger.Int("quiz_uploaded", report.Uploaded),
	)
	return nil
}
