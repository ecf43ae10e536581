package quiz

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulesmaster/progress-sync/internal/domain/shared"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func params(score, total int) NewResultParams {
	return NewResultParams{
		UserID: "u1", GameID: "clank", ConceptID: "c1", QuizID: "q1",
		Score: score, TotalQuestions: total,
		CompletedAt: t0, BonusXP: 25,
	}
}

func TestPercentage(t *testing.T) {
	assert.Equal(t, 67, Percentage(2, 3))
	assert.Equal(t, 33, Percentage(1, 3))
	assert.Equal(t, 50, Percentage(1, 2))
	assert.Equal(t, 100, Percentage(5, 5))
	assert.Equal(t, 13, Percentage(1, 8)) // 12.5 rounds up
	assert.Equal(t, 0, Percentage(1, 0))
}

func TestNewQuizResult_Derivations(t *testing.T) {
	perfect, err := NewQuizResult(params(5, 5))
	require.NoError(t, err)
	assert.Equal(t, 100, perfect.Percentage)
	assert.True(t, perfect.Passed)
	assert.True(t, perfect.PerfectScore)
	assert.Equal(t, 25, perfect.XPEarned)
	assert.Len(t, perfect.ID, 36)
	assert.NoError(t, perfect.Validate(DefaultPassingScore))

	partial, err := NewQuizResult(params(3, 5))
	require.NoError(t, err)
	assert.Equal(t, 60, partial.Percentage)
	assert.True(t, partial.Passed)
	assert.False(t, partial.PerfectScore)
	assert.Zero(t, partial.XPEarned)

	other, err := NewQuizResult(params(3, 5))
	require.NoError(t, err)
	assert.NotEqual(t, partial.ID, other.ID)
}

func TestNewQuizResult_CustomPassingScore(t *testing.T) {
	p := params(3, 5)
	p.PassingScore = 80
	r, err := NewQuizResult(p)
	require.NoError(t, err)
	assert.False(t, r.Passed)
	assert.NoError(t, r.Validate(DefaultPassingScore))
}

func TestNewQuizResult_Rejects(t *testing.T) {
	_, err := NewQuizResult(params(6, 5))
	assert.ErrorIs(t, err, shared.ErrInvalidQuizResult)

	_, err = NewQuizResult(params(1, 0))
	assert.ErrorIs(t, err, shared.ErrInvalidQuizResult)

	p := params(1, 2)
	p.QuizID = ""
	_, err = NewQuizResult(p)
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestValidate_DetectsTampering(t *testing.T) {
	base, err := NewQuizResult(params(4, 5))
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(r *QuizResult)
	}{
		{"percentage mismatch", func(r *QuizResult) { r.Percentage = 90 }},
		{"score above total", func(r *QuizResult) { r.Score = 6 }},
		{"passed flipped", func(r *QuizResult) { r.Passed = false }},
		{"perfect flag on non-perfect", func(r *QuizResult) { r.PerfectScore = true }},
		{"bonus without perfect", func(r *QuizResult) { r.XPEarned = 10 }},
		{"missing completedAt", func(r *QuizResult) { r.CompletedAt = time.Time{} }},
		{"missing id", func(r *QuizResult) { r.ID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := base.Clone()
			tt.mutate(r)
			assert.ErrorIs(t, r.Validate(DefaultPassingScore), shared.ErrInvalidQuizResult)
		})
	}
}

func attempt(id string, pct int, at time.Time) QuizResult {
	return QuizResult{ID: id, UserID: "u1", ConceptID: "c1", Percentage: pct, Passed: pct >= 60, CompletedAt: at}
}

func TestDerivations(t *testing.T) {
	results := []QuizResult{
		attempt("a", 40, t0),
		attempt("b", 80, t0.Add(time.Minute)),
		attempt("c", 100, t0.Add(2*time.Minute)),
		attempt("d", 60, t0.Add(3*time.Minute)),
	}

	best := Best(results)
	require.NotNil(t, best)
	assert.Equal(t, "c", best.ID)
	assert.Len(t, results, 4)
	assert.True(t, AnyPassed(results))
	assert.Equal(t, "d", Last(results).ID)

	s := Summarize(results)
	assert.Equal(t, 4, s.Attempts)
	assert.Equal(t, 100, s.BestPercentage)
	assert.True(t, s.Passed)
}

func TestBest_TieBreaksOnMostRecent(t *testing.T) {
	results := []QuizResult{
		attempt("old", 90, t0),
		attempt("new", 90, t0.Add(time.Hour)),
		attempt("low", 50, t0.Add(2*time.Hour)),
	}
	assert.Equal(t, "new", Best(results).ID)
}

func TestEmptyDerivations(t *testing.T) {
	assert.Nil(t, Best(nil))
	assert.Nil(t, Last(nil))
	assert.False(t, AnyPassed(nil))
	assert.Equal(t, Stats{}, Summarize(nil))
}

func TestMergeByID_RemoteWins(t *testing.T) {
	local := []QuizResult{attempt("a", 40, t0), attempt("b", 80, t0.Add(time.Minute))}
	remoteB := attempt("b", 80, t0.Add(time.Minute))
	remoteB.TimeSpent = 42
	remote := []QuizResult{remoteB, attempt("z", 70, t0.Add(-time.Minute))}

	merged := MergeByID(local, remote)

	require.Len(t, merged, 3)
	assert.Equal(t, []string{"z", "a", "b"}, []string{merged[0].ID, merged[1].ID, merged[2].ID})
	assert.Equal(t, 42, merged[2].TimeSpent)

	again := MergeByID(merged, remote)
	assert.Equal(t, merged, again)
}

func TestForConcept(t *testing.T) {
	other := attempt("x", 100, t0)
	other.ConceptID = "c2"
	foreign := attempt("y", 100, t0)
	foreign.UserID = "u2"

	got := ForConcept([]QuizResult{attempt("b", 50, t0.Add(time.Minute)), other, foreign, attempt("a", 50, t0)}, "u1", "c1")

	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}
