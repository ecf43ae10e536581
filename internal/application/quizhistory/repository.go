// Package quizhistory records quiz attempts and answers the derived queries
// over them. Attempts are cached locally even when the remote insert fails;
// such attempts stay in a pending outbox until SyncPending confirms them.
package quizhistory

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/rulesmaster/progress-sync/internal/domain/quiz"
	"github.com/rulesmaster/progress-sync/internal/domain/shared"
	"github.com/rulesmaster/progress-sync/internal/infrastructure/background"
	"github.com/rulesmaster/progress-sync/internal/infrastructure/persistence/local"
	"github.com/rulesmaster/progress-sync/pkg/logger"
	"github.com/rulesmaster/progress-sync/pkg/timeutil"
)

const domainName = "quiz"

// Spawner runs detached work that must not block the caller.
type Spawner interface {
	Go(key string, task background.Task) bool
}

// SyncReport summarizes one SyncPending pass.
type SyncReport struct {
	Attempted int
	Uploaded  int
	Remaining int
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// Repository is the only creator of QuizResult rows.
type Repository struct {
	remote         quiz.RemoteStore
	cache          *local.Snapshots
	spawner        Spawner
	owned          *background.Runner
	publisher      shared.EventPublisher
	clock          timeutil.Clock
	logger         *logger.Logger
	defaultPassing int

	// mu serializes read-modify-write cycles on the single history slot.
	mu sync.Mutex
}

// Option configures a Repository.
type Option func(*Repository)

// WithSpawner runs background syncs on s instead of a private runner.
func WithSpawner(s Spawner) Option {
	return func(r *Repository) { r.spawner = s }
}

// WithPublisher sets the sink for QuizResultSaved events.
func WithPublisher(p shared.EventPublisher) Option {
	return func(r *Repository) { r.publisher = p }
}

// WithClock sets the time source.
func WithClock(c timeutil.Clock) Option {
	return func(r *Repository) { r.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(r *Repository) { r.logger = l }
}

// WithDefaultPassingScore sets the threshold used to validate attempts that
// carry none.
func WithDefaultPassingScore(pct int) Option {
	return func(r *Repository) {
		if pct > 0 {
			r.defaultPassing = pct
		}
	}
}

// New creates a Repository over remote and cache.
func New(remote quiz.RemoteStore, cache *local.Snapshots, opts ...Option) *Repository {
	r := &Repository{
		remote:         remote,
		cache:          cache,
		publisher:      shared.NopPublisher{},
		clock:          timeutil.SystemClock{},
		logger:         logger.Nop(),
		defaultPassing: quiz.DefaultPassingScore,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.spawner == nil {
		r.owned = background.New(background.Config{Logger: r.logger})
		r.spawner = r.owned
	}
	r.logger = r.logger.With(logger.Component("quiz-history"))
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
// Writes
// ─────────────────────────────────────────────────────────────────────────────

// SaveQuizResult records one attempt.
//
// The derived fields are recomputed and a mismatch is rejected with
// shared.ErrInvalidQuizResult. The attempt is inserted remotely and then
// appended to the cache; if the remote insert fails the cached copy is
// marked pending. Only when neither store accepted it is an error returned.
func (r *Repository) SaveQuizResult(ctx context.Context, result *quiz.QuizResult) error {
	const op = "SaveQuizResult"
	if err := result.Validate(r.defaultPassing); err != nil {
		return err
	}

	wctx := context.WithoutCancel(ctx)
	remoteErr := r.remote.InsertQuizResult(wctx, result)
	if shared.IsAlreadyExists(remoteErr) {
		remoteErr = nil
	}
	synced := remoteErr == nil

	cacheErr := r.appendToCache(wctx, result, !synced)

	switch {
	case !synced && cacheErr != nil:
		return shared.WrapError(domainName, op, shared.ErrRemoteUnavailable,
			"attempt not recorded", errors.Join(remoteErr, cacheErr))
	case !synced:
		r.logger.Warn("remote insert failed, attempt queued for resync",
			logger.UserID(result.UserID),
			logger.ResultID(result.ID),
			logger.Err(remoteErr),
		)
	case cacheErr != nil:
		r.logger.Warn("cache write failed",
			logger.Operation(op),
			logger.ResultID(result.ID),
			logger.Err(cacheErr),
		)
	}

	r.logger.Info("quiz result saved",
		logger.UserID(result.UserID),
		logger.ConceptID(result.ConceptID),
		logger.QuizID(result.QuizID),
		logger.Int("percentage", result.Percentage),
		logger.Bool("synced", synced),
	)
	r.publish(ctx, shared.NewQuizResultSavedEvent(
		result.UserID, result.ID, result.ConceptID, result.QuizID,
		result.Percentage, result.Passed, result.PerfectScore, synced, r.clock.Now(),
	))
	return nil
}

func (r *Repository) appendToCache(ctx context.Context, result *quiz.QuizResult, pending bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap, err := r.cache.LoadQuizHistory(ctx)
	if err != nil {
		// Overwriting an unreadable slot would drop every cached attempt.
		return err
	}
	if snap == nil {
		snap = &local.QuizHistorySnapshot{}
	}

	idx := slices.IndexFunc(snap.Results, func(q quiz.QuizResult) bool { return q.ID == result.ID })
	if idx < 0 {
		snap.Results = append(snap.Results, *result.Clone())
	}
	if pending && !snap.IsPending(result.ID) {
		snap.Pending = append(snap.Pending, result.ID)
	}
	return r.cache.SaveQuizHistory(ctx, snap)
}

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

// GetQuizHistory returns the cached attempts of userID for conceptID, oldest
// first, and starts a background merge of the remote attempts.
func (r *Repository) GetQuizHistory(ctx context.Context, userID, conceptID string) ([]quiz.QuizResult, error) {
	const op = "GetQuizHistory"
	if err := shared.RequireIDs(domainName, op, "user id", userID, "concept id", conceptID); err != nil {
		return nil, err
	}

	snap, err := r.cache.LoadQuizHistory(ctx)
	if err != nil {
		r.logger.Warn("cache read failed", logger.Operation(op), logger.Err(err))
		snap = nil
	}

	r.scheduleSync(userID, conceptID)

	if snap == nil {
		return []quiz.QuizResult{}, nil
	}
	return quiz.ForConcept(snap.Results, userID, conceptID), nil
}

// GetBestScore returns the highest-percentage attempt, most recent on ties.
func (r *Repository) GetBestScore(ctx context.Context, userID, conceptID string) (*quiz.QuizResult, error) {
	history, err := r.GetQuizHistory(ctx, userID, conceptID)
	if err != nil {
		return nil, err
	}
	return quiz.Best(history), nil
}

// GetLastAttempt returns the most recent attempt.
func (r *Repository) GetLastAttempt(ctx context.Context, userID, conceptID string) (*quiz.QuizResult, error) {
	history, err := r.GetQuizHistory(ctx, userID, conceptID)
	if err != nil {
		return nil, err
	}
	return quiz.Last(history), nil
}

// GetAttemptCount returns the number of attempts.
func (r *Repository) GetAttemptCount(ctx context.Context, userID, conceptID string) (int, error) {
	history, err := r.GetQuizHistory(ctx, userID, conceptID)
	if err != nil {
		return 0, err
	}
	return len(history), nil
}

// HasPassedQuiz reports whether any attempt passed.
func (r *Repository) HasPassedQuiz(ctx context.Context, userID, conceptID string) (bool, error) {
	history, err := r.GetQuizHistory(ctx, userID, conceptID)
	if err != nil {
		return false, err
	}
	return quiz.AnyPassed(history), nil
}

// GetStats summarizes the attempts in one call.
func (r *Repository) GetStats(ctx context.Context, userID, conceptID string) (quiz.Stats, error) {
	history, err := r.GetQuizHistory(ctx, userID, conceptID)
	if err != nil {
		return quiz.Stats{}, err
	}
	return quiz.Summarize(history), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Sync
// ─────────────────────────────────────────────────────────────────────────────

// SyncConcept merges the remote attempts of userID for conceptID into the
// cache by id, remote copies winning. Remotely present attempts leave the
// pending outbox.
func (r *Repository) SyncConcept(ctx context.Context, userID, conceptID string) error {
	const op = "SyncConcept"
	remote, err := r.remote.FetchQuizResults(ctx, userID, conceptID)
	if err != nil {
		return err
	}
	if len(remote) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	snap, err := r.cache.LoadQuizHistory(ctx)
	if err != nil {
		return err
	}
	if snap == nil {
		snap = &local.QuizHistorySnapshot{}
	}

	seen := make(map[string]struct{}, len(remote))
	for _, q := range remote {
		seen[q.ID] = struct{}{}
	}
	snap.Results = quiz.MergeByID(snap.Results, remote)
	snap.Pending = slices.DeleteFunc(snap.Pending, func(id string) bool {
		_, ok := seen[id]
		return ok
	})
	snap.LastSync = r.clock.Now()

	if err := r.cache.SaveQuizHistory(ctx, snap); err != nil {
		return err
	}
	r.logger.Debug("quiz history merged",
		logger.Operation(op),
		logger.UserID(userID),
		logger.ConceptID(conceptID),
		logger.Int("remote", len(remote)),
	)
	return nil
}

// SyncPending re-inserts every pending attempt. An insert that succeeds or
// finds the attempt already present clears it from the outbox. Upload
// failures are joined into the returned error.
func (r *Repository) SyncPending(ctx context.Context) (SyncReport, error) {
	r.mu.Lock()
	snap, err := r.cache.LoadQuizHistory(ctx)
	r.mu.Unlock()
	if err != nil {
		return SyncReport{}, err
	}
	if snap == nil || len(snap.Pending) == 0 {
		return SyncReport{}, nil
	}

	byID := make(map[string]quiz.QuizResult, len(snap.Results))
	for _, q := range snap.Results {
		byID[q.ID] = q
	}

	var (
		report    SyncReport
		confirmed = make(map[string]struct{})
		errs      []error
	)
	for _, id := range snap.Pending {
		q, ok := byID[id]
		if !ok {
			// Dangling outbox entry; nothing to upload.
			confirmed[id] = struct{}{}
			continue
		}
		report.Attempted++
		err := r.remote.InsertQuizResult(ctx, &q)
		if err == nil || shared.IsAlreadyExists(err) {
			confirmed[id] = struct{}{}
			report.Uploaded++
			continue
		}
		errs = append(errs, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.cache.LoadQuizHistory(ctx)
	if err != nil {
		return report, err
	}
	if current == nil {
		return report, errors.Join(errs...)
	}
	current.Pending = slices.DeleteFunc(current.Pending, func(id string) bool {
		_, ok := confirmed[id]
		return ok
	})
	current.LastSync = r.clock.Now()
	report.Remaining = len(current.Pending)
	if err := r.cache.SaveQuizHistory(ctx, current); err != nil {
		errs = append(errs, err)
	}

	if report.Attempted > 0 {
		r.logger.Info("pending quiz results synced",
			logger.Int("attempted", report.Attempted),
			logger.Int("uploaded", report.Uploaded),
			logger.Int("remaining", report.Remaining),
		)
	}
	return report, errors.Join(errs...)
}

// PendingCount returns the number of attempts awaiting upload.
func (r *Repository) PendingCount(ctx context.Context) (int, error) {
	snap, err := r.cache.LoadQuizHistory(ctx)
	if err != nil || snap == nil {
		return 0, err
	}
	return len(snap.Pending), nil
}

// ClearHistory deletes the cached history, including the pending outbox.
func (r *Repository) ClearHistory(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.cache.DeleteQuizHistory(ctx); err != nil {
		return err
	}
	r.logger.Info("quiz history cleared")
	return nil
}

func (r *Repository) scheduleSync(userID, conceptID string) {
	key := "quiz-sync:" + userID + "/" + conceptID
	ok := r.spawner.Go(key, func(ctx context.Context) error {
		return r.SyncConcept(ctx, userID, conceptID)
	})
	if !ok {
		r.logger.Debug("background quiz sync not scheduled", logger.UserID(userID), logger.ConceptID(conceptID))
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
