// Package progress serves a user's per-game progress: cache-first reads with
// a detached remote refresh, and remote-first lesson completion.
package progress

import (
	"context"
	"errors"

	domain "github.com/rulesmaster/progress-sync/internal/domain/progress"
	"github.com/rulesmaster/progress-sync/internal/domain/shared"
	"github.com/rulesmaster/progress-sync/internal/infrastructure/background"
	"github.com/rulesmaster/progress-sync/internal/infrastructure/persistence/local"
	"github.com/rulesmaster/progress-sync/pkg/logger"
	"github.com/rulesmaster/progress-sync/pkg/timeutil"
)

const domainName = "progress"

// Spawner runs detached work that must not block the caller.
type Spawner interface {
	Go(key string, task background.Task) bool
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// Repository is the only writer of UserProgress.
//
// Reads prefer availability: a matching cached snapshot is returned at once
// and refreshed in the background. Writes prefer consistency: the remote
// store confirms a completion before the cache sees it.
type Repository struct {
	remote    domain.RemoteStore
	cache     *local.Snapshots
	spawner   Spawner
	owned     *background.Runner
	publisher shared.EventPublisher
	clock     timeutil.Clock
	policy    timeutil.DayPolicy
	logger    *logger.Logger
	locks     *keyedMutex
}

// Option configures a Repository.
type Option func(*Repository)

// WithSpawner runs background refreshes on s instead of a private runner.
func WithSpawner(s Spawner) Option {
	return func(r *Repository) { r.spawner = s }
}

// WithPublisher sets the sink for LessonCompleted events.
func WithPublisher(p shared.EventPublisher) Option {
	return func(r *Repository) { r.publisher = p }
}

// WithClock sets the time source.
func WithClock(c timeutil.Clock) Option {
	return func(r *Repository) { r.clock = c }
}

// WithDayPolicy sets the rule used for streak day differences.
func WithDayPolicy(p timeutil.DayPolicy) Option {
	return func(r *Repository) { r.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(r *Repository) { r.logger = l }
}

// New creates a Repository over remote and cache.
func New(remote domain.RemoteStore, cache *local.Snapshots, opts ...Option) *Repository {
	r := &Repository{
		remote:    remote,
		cache:     cache,
		publisher: shared.NopPublisher{},
		clock:     timeutil.SystemClock{},
		policy:    timeutil.ElapsedDays{},
		logger:    logger.Nop(),
		locks:     newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.spawner == nil {
		r.owned = background.New(background.Config{Logger: r.logger})
		r.spawner = r.owned
	}
	r.logger = r.logger.With(logger.Component("progress-repository"))
	return r
}

// Close drains the private background runner, if the repository owns one.
func (r *Repository) Close(ctx context.Context) error {
	if r.owned == nil {
		return nil
	}
	return r.owned.Shutdown(ctx)
}

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

// GetProgress returns the progress of (userID, gameID).
//
// A cached snapshot for the same user and game is returned immediately and a
// refresh is started in the background. Otherwise the remote row is fetched;
// a missing row is created as the zero state. Without a cache and without
// the remote the error is shared.ErrProgressUnavailable.
func (r *Repository) GetProgress(ctx context.Context, userID, gameID string) (*domain.UserProgress, error) {
	const op = "GetProgress"
	if err := shared.RequireIDs(domainName, op, "user id", userID, "game id", gameID); err != nil {
		return nil, err
	}

	if snap := r.loadSnapshot(ctx, op, gameID); snap != nil && snap.Progress.Matches(userID, gameID) {
		r.scheduleRefresh(userID, gameID)
		return snap.Progress.Clone(), nil
	}

	p, err := r.fetchOrCreate(ctx, userID, gameID)
	if err != nil {
		return nil, shared.WrapError(domainName, op, shared.ErrProgressUnavailable, "no cached or remote progress", err)
	}

	r.writeCache(ctx, op, p, nil)
	return p, nil
}

// GetCompletions returns the cached completion log of (userID, gameID).
// A miss or unreadable cache yields an empty list.
func (r *Repository) GetCompletions(ctx context.Context, userID, gameID string) ([]domain.ConceptCompletion, error) {
	const op = "GetCompletions"
	if err := shared.RequireIDs(domainName, op, "user id", userID, "game id", gameID); err != nil {
		return nil, err
	}

	snap := r.loadSnapshot(ctx, op, gameID)
	if snap == nil || !snap.Progress.Matches(userID, gameID) {
		return []domain.ConceptCompletion{}, nil
	}
	out := make([]domain.ConceptCompletion, len(snap.Completions))
	copy(out, snap.Completions)
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Writes
// ─────────────────────────────────────────────────────────────────────────────

// CompleteLesson marks conceptID completed for (userID, gameID).
//
// Completing an already-completed concept is a no-op returning a zero-XP
// completion. Otherwise the completion row and then the progress row are
// written remotely; only after both succeed is the cache updated. Any
// remote failure yields shared.ErrCompletionFailed with the cache untouched,
// and the call can be retried as a whole.
func (r *Repository) CompleteLesson(ctx context.Context, userID, gameID, conceptID string) (domain.Outcome, error) {
	const op = "CompleteLesson"
	if err := shared.RequireIDs(domainName, op,
		"user id", userID, "game id", gameID, "concept id", conceptID,
	); err != nil {
		return domain.Outcome{}, err
	}

	key := domain.Key{UserID: userID, GameID: gameID}
	unlock := r.locks.Lock(key.String())
	defer unlock()

	now := r.clock.Now()
	if snap := r.loadSnapshot(ctx, op, gameID); snap != nil &&
		snap.Progress.Matches(userID, gameID) && snap.Progress.HasCompleted(conceptID) {
		return domain.Outcome{
			Progress:   snap.Progress.Clone(),
			Completion: domain.NoopCompletion(userID, gameID, conceptID, now),
		}, nil
	}

	// Writes run to completion even if the caller goes away; the remote
	// layer bounds each call.
	wctx := context.WithoutCancel(ctx)

	current, err := r.fetchOrCreate(wctx, userID, gameID)
	if err != nil {
		return domain.Outcome{}, shared.WrapError(domainName, op, shared.ErrCompletionFailed, "could not load remote progress", err)
	}

	out := domain.Complete(current, conceptID, now, r.policy)
	if !out.Applied {
		r.writeCache(ctx, op, out.Progress, nil)
		return out, nil
	}

	if err := r.remote.InsertCompletion(wctx, out.Completion); err != nil && !shared.IsAlreadyExists(err) {
		return domain.Outcome{}, shared.WrapError(domainName, op, shared.ErrCompletionFailed, "completion row not saved", err)
	}
	if err := r.remote.UpsertProgress(wctx, out.Progress); err != nil {
		return domain.Outcome{}, shared.WrapError(domainName, op, shared.ErrCompletionFailed, "progress row not saved", err)
	}

	r.writeCache(ctx, op, out.Progress, out.Completion)

	r.logger.Info("lesson completed",
		logger.UserID(userID),
		logger.GameID(gameID),
		logger.ConceptID(conceptID),
		logger.XPAmount(out.Progress.TotalXP),
		logger.Int("streak", out.Progress.Streak),
	)
	r.publish(ctx, shared.NewLessonCompletedEvent(
		userID, gameID, conceptID, out.Completion.XPEarned, out.Progress.TotalXP, out.Progress.Streak, now,
	))
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Refresh
// ─────────────────────────────────────────────────────────────────────────────

// Refresh overwrites the cached snapshot of (userID, gameID) with the remote
// row. A missing remote row leaves the cache alone, as does a remote row
// older than the cached one.
func (r *Repository) Refresh(ctx context.Context, userID, gameID string) error {
	const op = "Refresh"
	if err := shared.RequireIDs(domainName, op, "user id", userID, "game id", gameID); err != nil {
		return err
	}

	fresh, err := r.remote.FetchProgress(ctx, userID, gameID)
	if shared.IsNotFound(err) {
		r.logger.Debug("no remote progress to refresh from", logger.UserID(userID), logger.GameID(gameID))
		return nil
	}
	if err != nil {
		return err
	}
	fresh.Normalize()

	unlock := r.locks.Lock(fresh.Key().String())
	defer unlock()

	if snap := r.loadSnapshot(ctx, op, gameID); snap != nil &&
		snap.Progress.Matches(userID, gameID) && snap.Progress.IsNewerThan(fresh) {
		r.logger.Debug("cached progress is newer than remote", logger.UserID(userID), logger.GameID(gameID))
		return nil
	}

	r.writeCache(ctx, op, fresh, nil)
	return nil
}

// RefreshAll refreshes every cached game of userID and returns how many
// games were attempted. Failures are joined.
func (r *Repository) RefreshAll(ctx context.Context, userID string) (int, error) {
	return r.refreshWhere(ctx, func(p *domain.UserProgress) bool { return p.UserID == userID })
}

// RefreshCached refreshes every cached snapshot for the user it belongs to.
func (r *Repository) RefreshCached(ctx context.Context) (int, error) {
	return r.refreshWhere(ctx, func(p *domain.UserProgress) bool { return p.UserID != "" })
}

func (r *Repository) refreshWhere(ctx context.Context, keep func(*domain.UserProgress) bool) (int, error) {
	snaps, listErr := r.cache.ListProgress(ctx)
	if listErr != nil {
		r.logger.Warn("some cached progress could not be read", logger.Err(listErr))
	}

	var (
		n    int
		errs []error
	)
	for _, snap := range snaps {
		if !keep(snap.Progress) {
			continue
		}
		n++
		if err := r.Refresh(ctx, snap.Progress.UserID, snap.Progress.GameID); err != nil {
			errs = append(errs, err)
		}
	}
	return n, errors.Join(errs...)
}

// CachedGames lists the games with a cached snapshot owned by userID.
func (r *Repository) CachedGames(ctx context.Context, userID string) ([]string, error) {
	snaps, err := r.cache.ListProgress(ctx)
	if err != nil && len(snaps) == 0 {
		return nil, err
	}
	var ids []string
	for _, snap := range snaps {
		if snap.Progress.UserID == userID {
			ids = append(ids, snap.Progress.GameID)
		}
	}
	return ids, nil
}

// ClearAll deletes every cached progress snapshot. Remote rows are kept.
func (r *Repository) ClearAll(ctx context.Context) error {
	if err := r.cache.DeleteAllProgress(ctx); err != nil {
		return err
	}
	r.logger.Info("cached progress cleared")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// fetchOrCreate returns the remote row, creating the zero state remotely
// when none exists.
func (r *Repository) fetchOrCreate(ctx context.Context, userID, gameID string) (*domain.UserProgress, error) {
	p, err := r.remote.FetchProgress(ctx, userID, gameID)
	if err == nil {
		p.Normalize()
		return p, nil
	}
	if !shared.IsNotFound(err) {
		return nil, err
	}

	fresh := domain.NewUserProgress(userID, gameID, r.clock.Now())
	if err := r.remote.UpsertProgress(ctx, fresh); err != nil {
		return nil, err
	}
	r.logger.Info("progress created", logger.UserID(userID), logger.GameID(gameID))
	return fresh, nil
}

func (r *Repository) scheduleRefresh(userID, gameID string) {
	key := "refresh:" + domain.Key{UserID: userID, GameID: gameID}.String()
	ok := r.spawner.Go(key, func(ctx context.Context) error {
		return r.Refresh(ctx, userID, gameID)
	})
	if !ok {
		r.logger.Debug("background refresh not scheduled", logger.UserID(userID), logger.GameID(gameID))
	}
}

// loadSnapshot treats an unreadable cache as empty.
func (r *Repository) loadSnapshot(ctx context.Context, op, gameID string) *local.ProgressSnapshot {
	snap, err := r.cache.LoadProgress(ctx, gameID)
	if err != nil {
		r.logger.Warn("cache read failed",
			logger.Operation(op),
			logger.GameID(gameID),
			logger.Err(err),
		)
		return nil
	}
	return snap
}

// writeCache stores p, keeping the cached completion log of the same user
// and appending added. A failed write is logged and skipped.
func (r *Repository) writeCache(ctx context.Context, op string, p *domain.UserProgress, added *domain.ConceptCompletion) {
	snap := &local.ProgressSnapshot{Progress: p.Clone(), LastSync: r.clock.Now()}
	if prev := r.loadSnapshot(ctx, op, p.GameID); prev != nil && prev.Progress.Matches(p.UserID, p.GameID) {
		snap.Completions = prev.Completions
	}
	if added != nil && !snap.HasCompletion(added.ConceptID) {
		snap.Completions = append(snap.Completions, *added)
	}

	if err := r.cache.SaveProgress(ctx, snap); err != nil {
		r.logger.Warn("cache write failed",
			logger.Operation(op),
			logger.UserID(p.UserID),
			logger.GameID(p.GameID),
			logger.Err(err),
		)
	}
}

func (r *Repository) publish(ctx context.Context, event shared.Event) {
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.Warn("event publish failed",
			logger.String("event_type", string(event.EventType())),
			logger.Err(err),
		)
	}
}
