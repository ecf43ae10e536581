// Package saga contains multi-step processes that coordinate the cache and
// the remote store and must either finish or leave a retryable state.
package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/rulesmaster/progress-sync/internal/domain/progress"
	"github.com/rulesmaster/progress-sync/internal/domain/shared"
	"github.com/rulesmaster/progress-sync/internal/infrastructure/persistence/local"
	"github.com/rulesmaster/progress-sync/pkg/logger"
	"github.com/rulesmaster/progress-sync/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION SAGA
// Flow: Check Flag → Load Snapshots → (per game) Fetch Remote → Merge →
//
//	Log Missing Completions → Upsert Progress → Rewrite Cache → Mark Migrated
//
// ══════════════════════════════════════════════════════════════════════════════

// MigrationStep names a step of the migration.
type MigrationStep string

const (
	StepCheckFlag      MigrationStep = "check_flag"
	StepFetchRemote    MigrationStep = "fetch_remote"
	StepLogCompletions MigrationStep = "log_completions"
	StepUpsertProgress MigrationStep = "upsert_progress"
	StepMarkMigrated   MigrationStep = "mark_migrated"
)

// GameMigration describes what happened to one cached game.
type GameMigration struct {
	GameID string
	// Created is true when no remote row existed and the snapshot was adopted.
	Created        bool
	Progress       *progress.UserProgress
	NewCompletions int
}

// MigrationResult is the outcome of a successful Migrate call.
type MigrationResult struct {
	UserID          string
	AlreadyMigrated bool
	Games           []GameMigration
}

// MigrationSaga moves progress accumulated before sign-in into the
// authenticated user's remote record, once per (device, user).
type MigrationSaga struct {
	remote      progress.RemoteStore
	cache       *local.Snapshots
	publisher   shared.EventPublisher
	clock       timeutil.Clock
	logger      *logger.Logger
	anonymousID string
}

// MigrationSagaConfig contains the optional collaborators of the saga.
type MigrationSagaConfig struct {
	Publisher shared.EventPublisher
	Clock     timeutil.Clock
	Logger    *logger.Logger

	// AnonymousUserID owns pre-sign-in progress. Defaults to
	// progress.DefaultAnonymousUserID.
	AnonymousUserID string
}

// NewMigrationSaga creates a migration saga.
func NewMigrationSaga(remote progress.RemoteStore, cache *local.Snapshots, cfg MigrationSagaConfig) *MigrationSaga {
	if cfg.Publisher == nil {
		cfg.Publisher = shared.NopPublisher{}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.AnonymousUserID == "" {
		cfg.AnonymousUserID = progress.DefaultAnonymousUserID
	}
	return &MigrationSaga{
		remote:      remote,
		cache:       cache,
		publisher:   cfg.Publisher,
		clock:       cfg.Clock,
		logger:      cfg.Logger.With(logger.Component("migration")),
		anonymousID: cfg.AnonymousUserID,
	}
}

// Migrate reconciles the cached games recorded before sign-in, or already
// owned by userID, with the remote record of userID. Snapshots owned by any
// other signed-in user are left alone.
//
// The migrated flag is set only after every game was merged; any failure
// leaves it unset so the next sign-in retries. Re-running is safe: the
// merge is a union and a maximum, and completion rows have deterministic ids.
func (s *MigrationSaga) Migrate(ctx context.Context, userID string) (*MigrationResult, error) {
	if err := shared.RequireID("migration", "Migrate", "user id", userID); err != nil {
		return nil, err
	}
	log := s.logger.With(logger.UserID(userID))

	done, err := s.cache.IsMigrated(ctx, userID)
	if err != nil {
		return nil, s.wrapError(StepCheckFlag, userID, "", err)
	}
	if done {
		log.Debug("migration already done")
		return &MigrationResult{UserID: userID, AlreadyMigrated: true}, nil
	}

	snaps, err := s.cache.ListProgress(ctx)
	if err != nil {
		// Unreadable snapshots are treated as absent.
		log.Warn("some cached progress could not be read", logger.Err(err))
	}

	result := &MigrationResult{UserID: userID}
	var errs []error
	for _, snap := range snaps {
		if len(snap.Progress.CompletedConcepts) == 0 {
			continue
		}
		if owner := snap.Progress.UserID; owner != s.anonymousID && owner != userID {
			log.Info("skipping cached progress of another user",
				logger.GameID(snap.Progress.GameID),
				logger.String("owner", owner),
			)
			continue
		}
		gm, err := s.migrateGame(ctx, userID, snap)
		if err != nil {
			log.Error("game migration failed", logger.GameID(snap.Progress.GameID), logger.Err(err))
			errs = append(errs, err)
			continue
		}
		result.Games = append(result.Games, *gm)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := s.cache.SetMigrated(ctx, userID); err != nil {
		return nil, s.wrapError(StepMarkMigrated, userID, "", err)
	}

	log.Info("migration completed", logger.Int("games", len(result.Games)))
	if err := s.publisher.Publish(ctx, shared.NewMigrationCompletedEvent(userID, len(result.Games), s.clock.Now())); err != nil {
		log.Warn("event publish failed", logger.Err(err))
	}
	return result, nil
}

func (s *MigrationSaga) migrateGame(ctx context.Context, userID string, snap *local.ProgressSnapshot) (*GameMigration, error) {
	now := s.clock.Now()
	gameID := snap.Progress.GameID

	localRow := snap.Progress.Clone()
	localRow.UserID = userID

	gm := &GameMigration{GameID: gameID}
	var merged progress.MergeResult

	remoteRow, err := s.remote.FetchProgress(ctx, userID, gameID)
	switch {
	case shared.IsNotFound(err):
		merged = progress.Adopt(localRow, userID, now)
		gm.Created = true
	case err != nil:
		return nil, s.wrapError(StepFetchRemote, userID, gameID, err)
	default:
		remoteRow.Normalize()
		merged = progress.Merge(localRow, remoteRow, now)
	}

	logged := make([]progress.ConceptCompletion, 0, len(merged.Missing))
	for _, conceptID := range merged.Missing {
		c := progress.NewCompletion(userID, gameID, conceptID, now)
		if err := s.remote.InsertCompletion(ctx, c); err != nil && !shared.IsAlreadyExists(err) {
			return nil, s.wrapError(StepLogCompletions, userID, gameID, err)
		}
		logged = append(logged, *c)
		gm.NewCompletions++
	}

	if err := s.remote.UpsertProgress(ctx, merged.Progress); err != nil {
		return nil, s.wrapError(StepUpsertProgress, userID, gameID, err)
	}

	rewritten := &local.ProgressSnapshot{
		Progress:    merged.Progress.Clone(),
		Completions: make([]progress.ConceptCompletion, 0, len(snap.Completions)+len(logged)),
		LastSync:    now,
	}
	for _, c := range snap.Completions {
		c.UserID = userID
		rewritten.Completions = append(rewritten.Completions, c)
	}
	for _, c := range logged {
		if !rewritten.HasCompletion(c.ConceptID) {
			rewritten.Completions = append(rewritten.Completions, c)
		}
	}
	if err := s.cache.SaveProgress(ctx, rewritten); err != nil {
		s.logger.Warn("cache rewrite after migration failed",
			logger.UserID(userID),
			logger.GameID(gameID),
			logger.Err(err),
		)
	}

	gm.Progress = merged.Progress
	s.logger.Info("game migrated",
		logger.UserID(userID),
		logger.GameID(gameID),
		logger.Bool("created", gm.Created),
		logger.Int("new_completions", gm.NewCompletions),
		logger.XPAmount(merged.Progress.TotalXP),
	)
	return gm, nil
}

// IsMigrated reports whether userID was migrated on this device.
func (s *MigrationSaga) IsMigrated(ctx context.Context, userID string) (bool, error) {
	return s.cache.IsMigrated(ctx, userID)
}

// ResetFlag clears the migrated flag so the next Migrate runs again.
func (s *MigrationSaga) ResetFlag(ctx context.Context, userID string) error {
	if err := s.cache.ClearMigrated(ctx, userID); err != nil {
		return err
	}
	s.logger.Info("migration flag reset", logger.UserID(userID))
	return nil
}

func (s *MigrationSaga) wrapError(step MigrationStep, userID, gameID string, err error) error {
	msg := fmt.Sprintf("migration failed at step '%s': %v", step, err)
	if gameID != "" {
		msg = fmt.Sprintf("migration of game %s failed at step '%s': %v", gameID, step, err)
	}
	return &MigrationError{Step: step, UserID: userID, GameID: gameID, Cause: err, Message: msg}
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// MigrationError represents a failure at one step of the migration.
type MigrationError struct {
	Step    MigrationStep
	UserID  string
	GameID  string
	Cause   error
	Message string
}

// Error implements the error interface.
func (e *MigrationError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error.
func (e *MigrationError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns true if the next sign-in can be expected to succeed.
func (e *MigrationError) IsRetryable() bool {
	if e.Step == StepMarkMigrated || e.Step == StepCheckFlag {
		return true
	}
	return shared.IsRetryable(e.Cause)
}
