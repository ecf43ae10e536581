package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	domain "github.com/rulesmaster/progress-sync/internal/domain/progress"
	"github.com/rulesmaster/progress-sync/internal/domain/shared"
	"github.com/rulesmaster/progress-sync/internal/infrastructure/background"
	"github.com/rulesmaster/progress-sync/internal/infrastructure/persistence/local"
	"github.com/rulesmaster/progress-sync/internal/infrastructure/persistence/memory"
	"github.com/rulesmaster/progress-sync/pkg/timeutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// parkedSpawner records background work without running it.
type parkedSpawner struct {
	mu    sync.Mutex
	keys  []string
	tasks []background.Task
}

func (s *parkedSpawner) Go(key string, task background.Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	s.tasks = append(s.tasks, task)
	return true
}

func (s *parkedSpawner) runAll(ctx context.Context) error {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = nil
	s.mu.Unlock()
	var errs []error
	for _, t := range tasks {
		errs = append(errs, t(ctx))
	}
	return errors.Join(errs...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

type fixture struct {
	repo      *Repository
	remote    *memory.RemoteStore
	store     *local.MemoryStore
	snaps     *local.Snapshots
	clock     *timeutil.FixedClock
	spawner   *parkedSpawner
	publisher *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		remote:    memory.NewRemoteStore(),
		store:     local.NewMemoryStore(),
		clock:     timeutil.NewFixedClock(t0),
		spawner:   &parkedSpawner{},
		publisher: &recordingPublisher{},
	}
	f.snaps = local.NewSnapshots(f.store)
	f.repo = New(f.remote, f.snaps,
		WithSpawner(f.spawner),
		WithPublisher(f.publisher),
		WithClock(f.clock),
	)
	return f
}

func (f *fixture) cached(t *testing.T, gameID string) *local.ProgressSnapshot {
	t.Helper()
	snap, err := f.snaps.LoadProgress(context.Background(), gameID)
	require.NoError(t, err)
	return snap
}

// ─────────────────────────────────────────────────────────────────────────────
// GetProgress
// ─────────────────────────────────────────────────────────────────────────────

func TestGetProgress_NewUserGetsZeroState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.repo.GetProgress(ctx, "u1", "clank")
	require.NoError(t, err)

	assert.Empty(t, p.CompletedConcepts)
	assert.Zero(t, p.TotalXP)
	assert.Zero(t, p.Streak)
	assert.True(t, p.CreatedAt.Equal(t0))

	require.NotNil(t, f.remote.Progress("u1", "clank"), "zero state is persisted remotely")
	snap := f.cached(t, "clank")
	require.NotNil(t, snap)
	assert.True(t, snap.Progress.Matches("u1", "clank"))
}

func TestGetProgress_UnavailableWithoutCache(t *testing.T) {
	f := newFixture(t)
	f.remote.FailAll()

	_, err := f.repo.GetProgress(context.Background(), "u1", "clank")

	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrProgressUnavailable)
	assert.ErrorIs(t, err, shared.ErrRemoteUnavailable)
	assert.False(t, errors.Is(err, shared.ErrNotFound))
}

func TestGetProgress_ServesCacheDuringOutage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.repo.CompleteLesson(ctx, "u1", "clank", "setup")
	require.NoError(t, err)

	f.remote.FailAll()
	p, err := f.repo.GetProgress(ctx, "u1", "clank")
	require.NoError(t, err)
	assert.Equal(t, []string{"setup"}, p.CompletedConcepts)
	assert.Equal(t, 50, p.TotalXP)

	assert.Equal(t, []string{"refresh:u1/clank"}, f.spawner.keys)
	assert.ErrorIs(t, f.spawner.runAll(ctx), shared.ErrRemoteUnavailable)

	again := f.cached(t, "clank")
	assert.Equal(t, []string{"setup"}, again.Progress.CompletedConcepts, "failed refresh keeps the cache")
}

func TestGetProgress_IgnoresSnapshotOfAnotherUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other := domain.NewUserProgress("someone-else", "clank", t0)
	other.CompletedConcepts = []string{"a"}
	other.TotalXP = 50
	require.NoError(t, f.snaps.SaveProgress(ctx, &local.ProgressSnapshot{Progress: other}))

	p, err := f.repo.GetProgress(ctx, "u1", "clank")
	require.NoError(t, err)
	assert.Empty(t, p.CompletedConcepts)
	assert.Equal(t, 1, f.remote.Calls(memory.OpFetchProgress))
	assert.Empty(t, f.spawner.keys)
}

func TestGetProgress_UnreadableCacheFallsBackToRemote(t *testing.T) {
	f := newFixture(t)
	seeded := domain.NewUserProgress("u1", "clank", t0)
	seeded.CompletedConcepts = []string{"a", "b"}
	seeded.TotalXP = 100
	f.remote.PutProgress(seeded)
	f.store.FailReads(errors.New("corrupt page"))

	p, err := f.repo.GetProgress(context.Background(), "u1", "clank")
	require.NoError(t, err)
	assert.Equal(t, 100, p.TotalXP)
}

func TestGetProgress_RejectsBlankIDs(t *testing.T) {
	f := newFixture(t)
	_, err := f.repo.GetProgress(context.Background(), " ", "clank")
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
	assert.Zero(t, f.remote.Calls(memory.OpFetchProgress))
}

func TestGetProgress_BackgroundRefreshUpdatesCache(t *testing.T) {
	remote := memory.NewRemoteStore()
	snaps := local.NewSnapshots(local.NewMemoryStore())
	runner := background.New(background.DefaultConfig())
	repo := New(remote, snaps, WithSpawner(runner), WithClock(timeutil.NewFixedClock(t0)))
	ctx := context.Background()

	_, err := repo.GetProgress(ctx, "u1", "clank")
	require.NoError(t, err)

	// Another device completed a lesson in the meantime.
	newer := remote.Progress("u1", "clank")
	newer.CompletedConcepts = []string{"x"}
	newer.TotalXP = 50
	newer.UpdatedAt = t0.Add(time.Hour)
	remote.PutProgress(newer)

	stale, err := repo.GetProgress(ctx, "u1", "clank")
	require.NoError(t, err)
	assert.Empty(t, stale.CompletedConcepts, "cache is served first")

	require.NoError(t, runner.Shutdown(ctx))
	snap, err := snaps.LoadProgress(ctx, "clank")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, snap.Progress.CompletedConcepts)
}

// ─────────────────────────────────────────────────────────────────────────────
// CompleteLesson
// ─────────────────────────────────────────────────────────────────────────────

func TestCompleteLesson_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.repo.CompleteLesson(ctx, "u1", "clank", "setup")
	require.NoError(t, err)
	assert.True(t, first.Applied)
	assert.Equal(t, 50, first.Completion.XPEarned)

	second, err := f.repo.CompleteLesson(ctx, "u1", "clank", "setup")
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.Zero(t, second.Completion.XPEarned)

	assert.Equal(t, []string{"setup"}, second.Progress.CompletedConcepts)
	assert.Equal(t, 50, second.Progress.TotalXP)
	assert.Len(t, f.remote.Completions("u1", "clank"), 1)
	assert.Equal(t, 50, f.remote.Progress("u1", "clank").TotalXP)
}

func TestCompleteLesson_ConcurrentDoubleTap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.repo.CompleteLesson(ctx, "u1", "clank", "setup")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	remote := f.remote.Progress("u1", "clank")
	assert.Equal(t, []string{"setup"}, remote.CompletedConcepts)
	assert.Equal(t, 50, remote.TotalXP)
	assert.Len(t, f.remote.Completions("u1", "clank"), 1)
	assert.Zero(t, f.repo.locks.size())
}

func TestCompleteLesson_StreakArithmetic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seed := domain.NewUserProgress("u1", "clank", t0)
	seed.CompletedConcepts = []string{"a"}
	seed.TotalXP = 50
	seed.Streak = 3
	f.remote.PutProgress(seed)

	tests := []struct {
		name    string
		advance time.Duration
		concept string
		want    int
	}{
		{"same day keeps streak", 2 * time.Hour, "b", 3},
		{"next day increments", 25 * time.Hour, "c", 4},
		{"gap resets", 72 * time.Hour, "d", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.clock.Advance(tt.advance)
			out, err := f.repo.CompleteLesson(ctx, "u1", "clank", tt.concept)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Progress.Streak)
			assert.True(t, out.Progress.LastActivityDate.Equal(f.clock.Now()))
		})
	}
}

func TestCompleteLesson_XPNeverDecreases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	last := 0
	for i, concept := range []string{"a", "b", "a", "c", "b", "d"} {
		f.clock.Advance(time.Duration(i) * 13 * time.Hour)
		_, err := f.repo.CompleteLesson(ctx, "u1", "clank", concept)
		require.NoError(t, err)

		p, err := f.repo.GetProgress(ctx, "u1", "clank")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p.TotalXP, last)
		assert.GreaterOrEqual(t, p.TotalXP, p.MinimumXP())
		last = p.TotalXP
	}
	assert.Equal(t, 200, last)
}

func TestCompleteLesson_RemoteFailureLeavesCacheUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.repo.CompleteLesson(ctx, "u1", "clank", "a")
	require.NoError(t, err)
	before := f.cached(t, "clank")

	f.remote.Fail(memory.OpUpsertProgress, shared.Unavailable("remote", memory.OpUpsertProgress, errors.New("503")))
	_, err = f.repo.CompleteLesson(ctx, "u1", "clank", "b")
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrCompletionFailed)
	assert.True(t, shared.IsRemoteUnavailable(err))

	after := f.cached(t, "clank")
	assert.Empty(t, cmp.Diff(before, after))

	// The completion row landed before the upsert failed; the retry must
	// not create a second one.
	f.remote.Heal()
	out, err := f.repo.CompleteLesson(ctx, "u1", "clank", "b")
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Len(t, f.remote.Completions("u1", "clank"), 2)
	assert.Equal(t, 100, f.remote.Progress("u1", "clank").TotalXP)
}

func TestCompleteLesson_CacheWriteFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.store.FailWrites(errors.New("disk full"))

	out, err := f.repo.CompleteLesson(context.Background(), "u1", "clank", "a")
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, 50, f.remote.Progress("u1", "clank").TotalXP)
}

func TestCompleteLesson_ComputesFromRemoteRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.repo.GetProgress(ctx, "u1", "clank")
	require.NoError(t, err)

	// Another device moved the remote row ahead of the cache.
	ahead := f.remote.Progress("u1", "clank")
	ahead.CompletedConcepts = []string{"x", "y"}
	ahead.TotalXP = 100
	f.remote.PutProgress(ahead)

	out, err := f.repo.CompleteLesson(ctx, "u1", "clank", "z")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "z"}, out.Progress.CompletedConcepts)
	assert.Equal(t, 150, out.Progress.TotalXP)
}

func TestCompleteLesson_PublishesAndLogsCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.repo.CompleteLesson(ctx, "u1", "clank", "a")
	require.NoError(t, err)
	_, err = f.repo.CompleteLesson(ctx, "u1", "clank", "a")
	require.NoError(t, err)

	require.Len(t, f.publisher.events, 1)
	ev := f.publisher.events[0]
	assert.Equal(t, shared.EventLessonCompleted, ev.EventType())
	assert.Equal(t, "u1", ev.AggregateID())
	assert.Equal(t, 50, ev.Payload()["total_xp"])

	completions, err := f.repo.GetCompletions(ctx, "u1", "clank")
	require.NoError(t, err)
	require.Len(t, completions, 1)
	assert.Equal(t, domain.CompletionID("u1", "clank", "a"), completions[0].ID)
}

// ─────────────────────────────────────────────────────────────────────────────
// Refresh & housekeeping
// ─────────────────────────────────────────────────────────────────────────────

func TestRefresh_NotFoundLeavesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cached := domain.NewUserProgress("u1", "clank", t0)
	cached.CompletedConcepts = []string{"a"}
	cached.TotalXP = 50
	require.NoError(t, f.snaps.SaveProgress(ctx, &local.ProgressSnapshot{Progress: cached}))

	require.NoError(t, f.repo.Refresh(ctx, "u1", "clank"))
	assert.Equal(t, []string{"a"}, f.cached(t, "clank").Progress.CompletedConcepts)
}

func TestRefresh_OlderRemoteDoesNotOverwrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cached := domain.NewUserProgress("u1", "clank", t0)
	cached.CompletedConcepts = []string{"a", "b"}
	cached.TotalXP = 100
	cached.UpdatedAt = t0.Add(time.Hour)
	require.NoError(t, f.snaps.SaveProgress(ctx, &local.ProgressSnapshot{Progress: cached}))

	older := domain.NewUserProgress("u1", "clank", t0)
	older.CompletedConcepts = []string{"a"}
	older.TotalXP = 50
	f.remote.PutProgress(older)

	require.NoError(t, f.repo.Refresh(ctx, "u1", "clank"))
	assert.Equal(t, 100, f.cached(t, "clank").Progress.TotalXP)
}

func TestRefreshAll_OnlyTouchesUsersGames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, g := range []string{"clank", "azul"} {
		_, err := f.repo.GetProgress(ctx, "u1", g)
		require.NoError(t, err)
	}
	other := domain.NewUserProgress("u2", "catan", t0)
	require.NoError(t, f.snaps.SaveProgress(ctx, &local.ProgressSnapshot{Progress: other}))

	fetchesBefore := f.remote.Calls(memory.OpFetchProgress)
	n, err := f.repo.RefreshAll(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, fetchesBefore+2, f.remote.Calls(memory.OpFetchProgress))

	games, err := f.repo.CachedGames(ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"clank", "azul"}, games)

	n, err = f.repo.RefreshCached(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestClearAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.repo.CompleteLesson(ctx, "u1", "clank", "a")
	require.NoError(t, err)
	require.NoError(t, f.repo.ClearAll(ctx))

	assert.Nil(t, f.cached(t, "clank"))
	assert.NotNil(t, f.remote.Progress("u1", "clank"), "remote rows survive")

	completions, err := f.repo.GetCompletions(ctx, "u1", "clank")
	require.NoError(t, err)
	assert.Empty(t, completions)
}

func TestClose_DrainsOwnedRunner(t *testing.T) {
	repo := New(memory.NewRemoteStore(), local.NewSnapshots(local.NewMemoryStore()))
	ctx := context.Background()

	_, err := repo.GetProgress(ctx, "u1", "clank")
	require.NoError(t, err)
	_, err = repo.GetProgress(ctx, "u1", "clank")
	require.NoError(t, err)

	require.NoError(t, repo.Close(ctx))
}
