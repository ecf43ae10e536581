package local

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulesmaster/progress-sync/internal/domain/progress"
	"github.com/rulesmaster/progress-sync/internal/domain/quiz"
	"github.com/rulesmaster/progress-sync/internal/domain/shared"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func openSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func backends(t *testing.T) map[string]Store {
	return map[string]Store{
		"sqlite": openSQLite(t),
		"memory": NewMemoryStore(),
	}
}

func TestStore_Contract(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrCacheMiss)

			require.NoError(t, s.Set(ctx, "a:1", []byte("one")))
			require.NoError(t, s.Set(ctx, "a:2", []byte("two")))
			require.NoError(t, s.Set(ctx, "b:1", []byte("x")))
			require.NoError(t, s.Set(ctx, "a:1", []byte("uno")))

			v, err := s.Get(ctx, "a:1")
			require.NoError(t, err)
			assert.Equal(t, "uno", string(v))

			keys, err := s.Keys(ctx, "a:")
			require.NoError(t, err)
			assert.Equal(t, []string{"a:1", "a:2"}, keys)

			require.NoError(t, s.Delete(ctx, "a:1"))
			_, err = s.Get(ctx, "a:1")
			assert.ErrorIs(t, err, ErrCacheMiss)
			assert.NoError(t, s.Delete(ctx, "never-there"))
		})
	}
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "k", []byte("v")))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))
}

func TestSQLiteStore_LikeCharactersInPrefix(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	require.NoError(t, s.Set(ctx, "p%_:1", []byte("a")))
	require.NoError(t, s.Set(ctx, "pxx:1", []byte("b")))

	keys, err := s.Keys(ctx, "p%_")
	require.NoError(t, err)
	assert.Equal(t, []string{"p%_:1"}, keys)
}

func TestMemoryStore_InjectedFaults(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	boom := errors.New("disk full")

	m.FailWrites(boom)
	err := m.Set(ctx, "k", []byte("v"))
	assert.ErrorIs(t, err, shared.ErrCacheWrite)
	assert.ErrorIs(t, err, boom)

	m.FailWrites(nil)
	require.NoError(t, m.Set(ctx, "k", []byte("v")))

	m.FailReads(boom)
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, shared.ErrCacheRead)
}

func TestSnapshots_Progress(t *testing.T) {
	ctx := context.Background()
	snaps := NewSnapshots(openSQLite(t))

	got, err := snaps.LoadProgress(ctx, "clank")
	require.NoError(t, err)
	assert.Nil(t, got)

	p := progress.NewUserProgress("u1", "clank", t0)
	p.CompletedConcepts = []string{"a"}
	p.TotalXP = 50
	c := progress.NewCompletion("u1", "clank", "a", t0)
	require.NoError(t, snaps.SaveProgress(ctx, &ProgressSnapshot{
		Progress:    p,
		Completions: []progress.ConceptCompletion{*c},
		LastSync:    t0,
	}))
	require.NoError(t, snaps.SaveProgress(ctx, &ProgressSnapshot{Progress: progress.NewUserProgress("u1", "other", t0)}))

	got, err = snaps.LoadProgress(ctx, "clank")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"a"}, got.Progress.CompletedConcepts)
	assert.True(t, got.HasCompletion("a"))
	assert.True(t, got.LastSync.Equal(t0))

	ids, err := snaps.ProgressGameIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"clank", "other"}, ids)

	require.NoError(t, snaps.DeleteAllProgress(ctx))
	ids, err = snaps.ProgressGameIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSnapshots_CorruptEntryIsReadError(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	snaps := NewSnapshots(store)

	require.NoError(t, store.Set(ctx, ProgressKey("bad"), []byte("{not json")))
	require.NoError(t, snaps.SaveProgress(ctx, &ProgressSnapshot{Progress: progress.NewUserProgress("u", "good", t0)}))

	_, err := snaps.LoadProgress(ctx, "bad")
	assert.ErrorIs(t, err, shared.ErrCacheRead)

	list, err := snaps.ListProgress(ctx)
	assert.ErrorIs(t, err, shared.ErrCacheRead)
	require.Len(t, list, 1)
	assert.Equal(t, "good", list[0].Progress.GameID)
}

func TestSnapshots_QuizHistoryAndFlags(t *testing.T) {
	ctx := context.Background()
	snaps := NewSnapshots(NewMemoryStore())

	h, err := snaps.LoadQuizHistory(ctx)
	require.NoError(t, err)
	assert.Nil(t, h)

	require.NoError(t, snaps.SaveQuizHistory(ctx, &QuizHistorySnapshot{
		Results: []quiz.QuizResult{{ID: "r1", UserID: "u1", CompletedAt: t0}},
		Pending: []string{"r1"},
	}))
	h, err = snaps.LoadQuizHistory(ctx)
	require.NoError(t, err)
	require.Len(t, h.Results, 1)
	assert.True(t, h.IsPending("r1"))

	ok, err := snaps.IsMigrated(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, snaps.SetMigrated(ctx, "u1"))
	ok, err = snaps.IsMigrated(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	v, err := snaps.Store().Get(ctx, "@rulesmaster_migration_done_u1")
	require.NoError(t, err)
	assert.Equal(t, "true", string(v))

	require.NoError(t, snaps.ClearMigrated(ctx, "u1"))
	ok, _ = snaps.IsMigrated(ctx, "u1")
	assert.False(t, ok)
}
