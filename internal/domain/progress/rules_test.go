package progress

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulesmaster/progress-sync/pkg/timeutil"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func TestNextStreak(t *testing.T) {
	p := timeutil.ElapsedDays{}

	tests := []struct {
		name    string
		current int
		last    time.Time
		now     time.Time
		want    int
	}{
		{"same instant keeps streak", 4, t0, t0, 4},
		{"same day zero streak becomes one", 0, t0, t0.Add(2 * time.Hour), 1},
		{"next day increments", 4, t0, t0.Add(24 * time.Hour), 5},
		{"three days resets", 4, t0, t0.Add(72 * time.Hour), 1},
		{"two days resets", 4, t0, t0.Add(48 * time.Hour), 1},
		{"clock skew treated as same day", 3, t0, t0.Add(-30 * time.Hour), 3},
		{"no prior activity starts at one", 0, time.Time{}, t0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextStreak(tt.current, tt.last, tt.now, p))
		})
	}
}

func TestNextStreak_CalendarPolicy(t *testing.T) {
	last := time.Date(2024, 5, 1, 23, 50, 0, 0, time.UTC)
	now := time.Date(2024, 5, 2, 0, 10, 0, 0, time.UTC)

	assert.Equal(t, 2, NextStreak(2, last, now, timeutil.ElapsedDays{}))
	assert.Equal(t, 3, NextStreak(2, last, now, timeutil.CalendarDays{Loc: time.UTC}))
}

func TestComplete_FirstTime(t *testing.T) {
	p := NewUserProgress("u1", "clank", t0)

	out := Complete(p, "c1", t0.Add(time.Hour), nil)

	require.True(t, out.Applied)
	assert.Equal(t, []string{"c1"}, out.Progress.CompletedConcepts)
	assert.Equal(t, "c1", out.Progress.CurrentConcept)
	assert.Equal(t, 50, out.Progress.TotalXP)
	assert.Equal(t, 1, out.Progress.Streak)
	assert.Equal(t, t0.Add(time.Hour), out.Progress.LastActivityDate)
	assert.Equal(t, 50, out.Completion.XPEarned)
	assert.Equal(t, CompletionID("u1", "clank", "c1"), out.Completion.ID)

	// input untouched
	assert.Empty(t, p.CompletedConcepts)
	assert.Zero(t, p.TotalXP)
}

func TestComplete_Idempotent(t *testing.T) {
	p := NewUserProgress("u1", "clank", t0)
	first := Complete(p, "c1", t0, nil)
	second := Complete(first.Progress, "c1", t0.Add(time.Minute), nil)

	assert.False(t, second.Applied)
	assert.Equal(t, []string{"c1"}, second.Progress.CompletedConcepts)
	assert.Equal(t, 50, second.Progress.TotalXP)
	assert.Zero(t, second.Completion.XPEarned)
}

func TestComplete_StreakAcrossDays(t *testing.T) {
	p := NewUserProgress("u1", "clank", t0)
	p = Complete(p, "a", t0, nil).Progress
	require.Equal(t, 1, p.Streak)

	p = Complete(p, "b", t0.Add(24*time.Hour), nil).Progress
	assert.Equal(t, 2, p.Streak)

	p = Complete(p, "c", t0.Add(96*time.Hour), nil).Progress
	assert.Equal(t, 1, p.Streak)
	assert.Equal(t, 150, p.TotalXP)
}

func TestCompletionID_Deterministic(t *testing.T) {
	a := CompletionID("u", "g", "c")
	assert.Equal(t, a, CompletionID("u", "g", "c"))
	assert.NotEqual(t, a, CompletionID("u", "g", "d"))
	assert.NotEqual(t, CompletionID("ab", "c", "x"), CompletionID("a", "bc", "x"))
}

func TestMerge_ConflictUnion(t *testing.T) {
	local := &UserProgress{
		UserID: "u1", GameID: "clank",
		CompletedConcepts: []string{"A", "B"},
		TotalXP:           100, Streak: 3,
		CurrentConcept:   "B",
		LastActivityDate: t0.Add(2 * time.Hour),
		CreatedAt:        t0, UpdatedAt: t0.Add(2 * time.Hour),
	}
	remote := &UserProgress{
		UserID: "u1", GameID: "clank",
		CompletedConcepts: []string{"B", "C"},
		TotalXP:           150, Streak: 1,
		CurrentConcept:   "C",
		LastActivityDate: t0,
		CreatedAt:        t0.Add(-time.Hour), UpdatedAt: t0,
	}

	res := Merge(local, remote, t0.Add(5*time.Hour))

	assert.ElementsMatch(t, []string{"A", "B", "C"}, res.Progress.CompletedConcepts)
	assert.Equal(t, []string{"A"}, res.Missing)
	assert.Equal(t, 150, res.Progress.TotalXP)
	assert.Equal(t, 3, res.Progress.Streak)
	assert.Equal(t, "B", res.Progress.CurrentConcept)
	assert.Equal(t, t0.Add(2*time.Hour), res.Progress.LastActivityDate)
	assert.Equal(t, remote.CreatedAt, res.Progress.CreatedAt)
	assert.Equal(t, t0.Add(5*time.Hour), res.Progress.UpdatedAt)
}

func TestMerge_XPFloor(t *testing.T) {
	local := &UserProgress{UserID: "u", GameID: "g", CompletedConcepts: []string{"A", "B"}, TotalXP: 100}
	remote := &UserProgress{UserID: "u", GameID: "g", CompletedConcepts: []string{"C"}, TotalXP: 50}

	res := Merge(local, remote, t0)
	assert.Equal(t, 150, res.Progress.TotalXP)
}

func TestMerge_Idempotent(t *testing.T) {
	local := &UserProgress{UserID: "u", GameID: "g", CompletedConcepts: []string{"A", "B"}, TotalXP: 100, Streak: 2, LastActivityDate: t0}
	remote := &UserProgress{UserID: "u", GameID: "g", CompletedConcepts: []string{"B", "C"}, TotalXP: 150, Streak: 1, LastActivityDate: t0.Add(-time.Hour)}

	once := Merge(local, remote, t0.Add(time.Hour))
	twice := Merge(local, once.Progress, t0.Add(2*time.Hour))

	assert.Empty(t, twice.Missing)
	if diff := cmp.Diff(once.Progress, twice.Progress); diff != "" {
		t.Errorf("second merge changed the row (-once +twice):\n%s", diff)
	}
}

func TestAdopt(t *testing.T) {
	local := &UserProgress{
		UserID: "anon", GameID: "g",
		CompletedConcepts: []string{"A", "A", "B"},
		TotalXP:           40,
		CreatedAt:         t0,
	}

	res := Adopt(local, "u1", t0.Add(time.Hour))

	assert.Equal(t, "u1", res.Progress.UserID)
	assert.Equal(t, []string{"A", "B"}, res.Progress.CompletedConcepts)
	assert.Equal(t, []string{"A", "B"}, res.Missing)
	assert.Equal(t, 100, res.Progress.TotalXP)
	assert.Equal(t, "anon", local.UserID)
}

func TestNormalize(t *testing.T) {
	p := &UserProgress{CompletedConcepts: []string{"x", "y", "x"}, TotalXP: -5, Streak: -1}
	p.Normalize()

	assert.Equal(t, []string{"x", "y"}, p.CompletedConcepts)
	assert.Equal(t, 100, p.TotalXP)
	assert.Zero(t, p.Streak)
}
