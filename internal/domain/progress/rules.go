package progress

import (
	"slices"
	"time"

	"github.com/rulesmaster/progress-sync/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK
// ══════════════════════════════════════════════════════════════════════════════

// NextStreak applies the consecutive-day rule:
//
//	days <= 0  -> unchanged, at least 1 (negative means clock skew)
//	days == 1  -> +1
//	days >= 2  -> reset to 1
//
// A zero lastActivity (no prior activity at all) starts the streak at 1.
func NextStreak(current int, lastActivity, now time.Time, policy timeutil.DayPolicy) int {
	if lastActivity.IsZero() {
		return 1
	}
	if policy == nil {
		policy = timeutil.ElapsedDays{}
	}

	days := policy.DaysBetween(lastActivity, now)
	switch {
	case days <= 0:
		if current < 1 {
			return 1
		}
		return current
	case days == 1:
		return current + 1
	default:
		return 1
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETION
// ══════════════════════════════════════════════════════════════════════════════

// Outcome is the result of applying a lesson completion.
type Outcome struct {
	Progress   *UserProgress
	Completion *ConceptCompletion
	// Applied is false when the concept was already completed.
	Applied bool
}

// Complete returns the state after completing conceptID at now. p is not
// modified. Completing an already-completed concept returns an unchanged copy
// and a zero-XP completion that must not be persisted.
func Complete(p *UserProgress, conceptID string, now time.Time, policy timeutil.DayPolicy) Outcome {
	if p.HasCompleted(conceptID) {
		return Outcome{
			Progress:   p.Clone(),
			Completion: NoopCompletion(p.UserID, p.GameID, conceptID, now),
		}
	}

	next := p.Clone()
	next.CompletedConcepts = append(next.CompletedConcepts, conceptID)
	next.CurrentConcept = conceptID
	next.TotalXP = p.TotalXP + XPPerConcept
	next.Streak = NextStreak(p.Streak, p.LastActivityDate, now, policy)
	next.LastActivityDate = now
	next.UpdatedAt = now
	if floor := next.MinimumXP(); next.TotalXP < floor {
		next.TotalXP = floor
	}

	return Outcome{
		Progress:   next,
		Completion: NewCompletion(p.UserID, p.GameID, conceptID, now),
		Applied:    true,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION MERGE
// ══════════════════════════════════════════════════════════════════════════════

// MergeResult is the reconciled row plus the concepts that still need a
// completion log row on the remote side.
type MergeResult struct {
	Progress *UserProgress
	Missing  []string
}

// Merge reconciles a local snapshot with the remote row of the same
// (user, game). Concepts are unioned (remote order first), counters take the
// maximum, and totalXP is raised to the per-concept floor. Missing lists the
// concepts absent from remote's completed set. Merge is idempotent:
// Merge(local, Merge(local, remote).Progress) yields the same row and no
// missing concepts.
func Merge(local, remote *UserProgress, now time.Time) MergeResult {
	merged := remote.Clone()

	remoteSet := make(map[string]struct{}, len(remote.CompletedConcepts))
	for _, c := range remote.CompletedConcepts {
		remoteSet[c] = struct{}{}
	}

	var missing []string
	for _, c := range dedupe(local.CompletedConcepts) {
		if _, ok := remoteSet[c]; ok {
			continue
		}
		merged.CompletedConcepts = append(merged.CompletedConcepts, c)
		missing = append(missing, c)
	}
	merged.CompletedConcepts = dedupe(merged.CompletedConcepts)

	merged.TotalXP = max(local.TotalXP, remote.TotalXP, merged.MinimumXP())
	merged.Streak = max(local.Streak, remote.Streak)
	merged.LastActivityDate = timeutil.Later(local.LastActivityDate, remote.LastActivityDate)
	if local.CurrentConcept != "" {
		merged.CurrentConcept = local.CurrentConcept
	}
	if merged.CreatedAt.IsZero() {
		merged.CreatedAt = local.CreatedAt
	}

	// Only bump updatedAt when the row actually changes, so re-running the
	// merge against its own output is a no-op.
	if !sameState(merged, remote) {
		merged.UpdatedAt = timeutil.Later(now, remote.UpdatedAt)
	}

	return MergeResult{Progress: merged, Missing: missing}
}

// Adopt turns a local snapshot into a brand-new remote row for userID.
// Every completed concept needs a log row.
func Adopt(local *UserProgress, userID string, now time.Time) MergeResult {
	p := local.Clone()
	p.UserID = userID
	p.Normalize()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = timeutil.Later(now, local.UpdatedAt)
	return MergeResult{Progress: p, Missing: append([]string(nil), p.CompletedConcepts...)}
}

func sameState(a, b *UserProgress) bool {
	return slices.Equal(a.CompletedConcepts, b.CompletedConcepts) &&
		a.TotalXP == b.TotalXP &&
		a.Streak == b.Streak &&
		a.CurrentConcept == b.CurrentConcept &&
		a.LastActivityDate.Equal(b.LastActivityDate) &&
		a.CreatedAt.Equal(b.CreatedAt)
}
