// Package eventhandler reacts to identity and lifecycle events by driving
// the migration saga and the repositories.
package eventhandler

import (
	"context"

	"github.com/rulesmaster/progress-sync/internal/application/saga"
	"github.com/rulesmaster/progress-sync/internal/domain/shared"
	"github.com/rulesmaster/progress-sync/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON USER AUTHENTICATED HANDLER
// Runs the one-shot migration of pre-sign-in progress. A failed migration
// is logged and swallowed so sign-in is never blocked; the unset flag makes
// the next sign-in retry.
// ═══════════════════════════════════════════════════════════════════════════

// Migrator merges cached pre-sign-in progress into the remote record.
type Migrator interface {
	Migrate(ctx context.Context, userID string) (*saga.MigrationResult, error)
}

// OnUserAuthenticatedHandler handles identity.user_authenticated.
type OnUserAuthenticatedHandler struct {
	migrator Migrator
	logger   *logger.Logger
}

// NewOnUserAuthenticatedHandler creates the handler.
func NewOnUserAuthenticatedHandler(migrator Migrator, log *logger.Logger) *OnUserAuthenticatedHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &OnUserAuthenticatedHandler{
		migrator: migrator,
		logger:   log.With(logger.String("handler", "on_user_authenticated")),
	}
}

// Handle implements shared.EventHandler. It never returns an error.
func (h *OnUserAuthenticatedHandler) Handle(ctx context.Context, event shared.Event) error {
	userID := event.AggregateID()

	res, err := h.migrator.Migrate(ctx, userID)
	if err != nil {
		h.logger.Error("migration failed, will retry on next sign-in",
			logger.UserID(userID),
			logger.Err(err),
		)
		return nil
	}
	if !res.AlreadyMigrated {
		h.logger.Info("pre-sign-in progress migrated",
			logger.UserID(userID),
			logger.Int("games", len(res.Games)),
		)
	}
	return nil
}
