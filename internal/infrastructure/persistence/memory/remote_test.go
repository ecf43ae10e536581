package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulesmaster/progress-sync/internal/domain/progress"
	"github.com/rulesmaster/progress-sync/internal/domain/quiz"
	"github.com/rulesmaster/progress-sync/internal/domain/shared"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func TestRemoteStore_ProgressOutcomes(t *testing.T) {
	ctx := context.Background()
	s := NewRemoteStore()

	_, err := s.FetchProgress(ctx, "u1", "clank")
	assert.True(t, shared.IsNotFound(err))

	p := progress.NewUserProgress("u1", "clank", t0)
	require.NoError(t, s.UpsertProgress(ctx, p))

	later := p.Clone()
	later.CreatedAt = t0.Add(time.Hour)
	later.TotalXP = 50
	require.NoError(t, s.UpsertProgress(ctx, later))

	got, err := s.FetchProgress(ctx, "u1", "clank")
	require.NoError(t, err)
	assert.Equal(t, 50, got.TotalXP)
	assert.True(t, got.CreatedAt.Equal(t0), "createdAt kept from first insert")

	got.TotalXP = 999
	assert.Equal(t, 50, s.Progress("u1", "clank").TotalXP, "returned rows are copies")
}

func TestRemoteStore_DuplicateInserts(t *testing.T) {
	ctx := context.Background()
	s := NewRemoteStore()

	c := progress.NewCompletion("u1", "clank", "a", t0)
	require.NoError(t, s.InsertCompletion(ctx, c))
	assert.True(t, shared.IsAlreadyExists(s.InsertCompletion(ctx, c)))
	assert.Len(t, s.Completions("u1", "clank"), 1)

	r := &quiz.QuizResult{ID: "r1", UserID: "u1", ConceptID: "a", CompletedAt: t0}
	require.NoError(t, s.InsertQuizResult(ctx, r))
	assert.True(t, shared.IsAlreadyExists(s.InsertQuizResult(ctx, r)))
	assert.Equal(t, 1, s.QuizResultCount())
}

func TestRemoteStore_FaultInjection(t *testing.T) {
	ctx := context.Background()
	s := NewRemoteStore()

	s.FailAll()
	_, err := s.FetchProgress(ctx, "u1", "clank")
	assert.True(t, shared.IsRemoteUnavailable(err))
	assert.False(t, shared.IsNotFound(err))

	s.Heal()
	boom := errors.New("boom")
	s.Fail(OpUpsertProgress, boom)
	assert.ErrorIs(t, s.UpsertProgress(ctx, progress.NewUserProgress("u1", "g", t0)), boom)
	require.NoError(t, s.InsertCompletion(ctx, progress.NewCompletion("u1", "g", "a", t0)))

	assert.Equal(t, 1, s.Calls(OpFetchProgress))
	assert.Equal(t, 1, s.Calls(OpUpsertProgress))
}

func TestRemoteStore_CancelledContextIsUnavailable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRemoteStore().FetchQuizResults(ctx, "u1", "a")
	assert.True(t, shared.IsRemoteUnavailable(err))
}

func TestRemoteStore_FetchQuizResultsFiltersAndSorts(t *testing.T) {
	ctx := context.Background()
	s := NewRemoteStore()
	for i, id := range []string{"r3", "r1", "r2"} {
		require.NoError(t, s.InsertQuizResult(ctx, &quiz.QuizResult{
			ID: id, UserID: "u1", ConceptID: "a", CompletedAt: t0.Add(time.Duration(-i) * time.Minute),
		}))
	}
	require.NoError(t, s.InsertQuizResult(ctx, &quiz.QuizResult{ID: "other", UserID: "u2", ConceptID: "a", CompletedAt: t0}))

	got, err := s.FetchQuizResults(ctx, "u1", "a")
	require.NoError(t, err)
	ids := make([]string, 0, len(got))
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"r2", "r1", "r3"}, ids)
}
