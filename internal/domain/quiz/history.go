package quiz

import (
	"slices"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// DERIVATIONS
// All derived values are computed by scanning attempts; none are stored.
// ══════════════════════════════════════════════════════════════════════════════

// ForConcept returns the attempts of userID for conceptID, oldest first.
func ForConcept(results []QuizResult, userID, conceptID string) []QuizResult {
	out := make([]QuizResult, 0)
	for _, r := range results {
		if r.UserID == userID && r.ConceptID == conceptID {
			out = append(out, r)
		}
	}
	SortChronological(out)
	return out
}

// Best returns the attempt with the highest percentage, preferring the most
// recent one on ties. Nil when there are no attempts.
func Best(results []QuizResult) *QuizResult {
	var best *QuizResult
	for i := range results {
		r := &results[i]
		if best == nil ||
			r.Percentage > best.Percentage ||
			(r.Percentage == best.Percentage && r.CompletedAt.After(best.CompletedAt)) {
			best = r
		}
	}
	return best.Clone()
}

// Last returns the most recently completed attempt, or nil.
func Last(results []QuizResult) *QuizResult {
	var last *QuizResult
	for i := range results {
		r := &results[i]
		if last == nil || r.CompletedAt.After(last.CompletedAt) {
			last = r
		}
	}
	return last.Clone()
}

// AnyPassed reports whether at least one attempt passed.
func AnyPassed(results []QuizResult) bool {
	return slices.ContainsFunc(results, func(r QuizResult) bool { return r.Passed })
}

// Stats summarizes a concept's attempts.
type Stats struct {
	Attempts       int
	Passed         bool
	BestPercentage int
	Last           *QuizResult
}

// Summarize computes Stats over results.
func Summarize(results []QuizResult) Stats {
	s := Stats{Attempts: len(results), Passed: AnyPassed(results), Last: Last(results)}
	if b := Best(results); b != nil {
		s.BestPercentage = b.Percentage
	}
	return s
}

// MergeByID unions local and remote attempts by id. A remote copy replaces
// the local one with the same id. Output is oldest first.
func MergeByID(local, remote []QuizResult) []QuizResult {
	byID := make(map[string]int, len(local)+len(remote))
	out := make([]QuizResult, 0, len(local)+len(remote))

	for _, r := range local {
		if i, ok := byID[r.ID]; ok {
			out[i] = r
			continue
		}
		byID[r.ID] = len(out)
		out = append(out, r)
	}
	for _, r := range remote {
		if i, ok := byID[r.ID]; ok {
			out[i] = r
			continue
		}
		byID[r.ID] = len(out)
		out = append(out, r)
	}

	SortChronological(out)
	return out
}

// SortChronological orders attempts by completedAt, then id.
func SortChronological(results []QuizResult) {
	slices.SortStableFunc(results, func(a, b QuizResult) int {
		if c := a.CompletedAt.Compare(b.CompletedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
