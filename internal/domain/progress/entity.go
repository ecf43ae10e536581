// Package progress defines a user's per-game learning progress, the
// append-only completion log, and the rules that evolve them: lesson
// completion, streak arithmetic, and the merge used when a pre-login snapshot
// is reconciled with the remote record.
package progress

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// XPPerConcept is the fixed reward for completing one concept.
const XPPerConcept = 50

// DefaultAnonymousUserID owns progress recorded on the device before sign-in.
const DefaultAnonymousUserID = "user-001"

// completionNamespace scopes deterministic completion ids.
var completionNamespace = uuid.MustParse("6f1c7a52-3b8e-5d0a-9a57-2f9f0c4d1e83")

// ══════════════════════════════════════════════════════════════════════════════
// USER PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// UserProgress is one row per (user, game).
type UserProgress struct {
	UserID            string    `json:"userId"`
	GameID            string    `json:"gameId"`
	CompletedConcepts []string  `json:"completedConcepts"`
	CurrentConcept    string    `json:"currentConcept,omitempty"`
	TotalXP           int       `json:"totalXP"`
	Streak            int       `json:"streak"`
	LastActivityDate  time.Time `json:"lastActivityDate"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// NewUserProgress returns the zero state for a brand-new (user, game) pair.
func NewUserProgress(userID, gameID string, now time.Time) *UserProgress {
	return &UserProgress{
		UserID:            userID,
		GameID:            gameID,
		CompletedConcepts: []string{},
		LastActivityDate:  now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Key returns the (user, game) identity of the row.
func (p *UserProgress) Key() Key {
	return Key{UserID: p.UserID, GameID: p.GameID}
}

// Matches reports whether the row belongs to the given user and game.
func (p *UserProgress) Matches(userID, gameID string) bool {
	return p != nil && p.UserID == userID && p.GameID == gameID
}

// HasCompleted reports whether conceptID is already in the completed set.
func (p *UserProgress) HasCompleted(conceptID string) bool {
	return slices.Contains(p.CompletedConcepts, conceptID)
}

// MinimumXP is the floor totalXP must never drop below.
func (p *UserProgress) MinimumXP() int {
	return XPPerConcept * len(p.CompletedConcepts)
}

// Clone returns a deep copy.
func (p *UserProgress) Clone() *UserProgress {
	if p == nil {
		return nil
	}
	c := *p
	c.CompletedConcepts = slices.Clone(p.CompletedConcepts)
	if c.CompletedConcepts == nil {
		c.CompletedConcepts = []string{}
	}
	return &c
}

// Normalize enforces the row invariants on data read from storage:
// duplicate concepts are dropped (first occurrence kept), negative counters
// are clamped, and totalXP is raised to the per-concept floor.
func (p *UserProgress) Normalize() {
	p.CompletedConcepts = dedupe(p.CompletedConcepts)
	if p.Streak < 0 {
		p.Streak = 0
	}
	if p.TotalXP < 0 {
		p.TotalXP = 0
	}
	if floor := p.MinimumXP(); p.TotalXP < floor {
		p.TotalXP = floor
	}
}

// IsNewerThan reports whether p was updated strictly after other.
func (p *UserProgress) IsNewerThan(other *UserProgress) bool {
	return other == nil || p.UpdatedAt.After(other.UpdatedAt)
}

// Key identifies a progress row.
type Key struct {
	UserID string
	GameID string
}

func (k Key) String() string { return k.UserID + "/" + k.GameID }

// ══════════════════════════════════════════════════════════════════════════════
// CONCEPT COMPLETION
// ══════════════════════════════════════════════════════════════════════════════

// ConceptCompletion is one append-only completion log row.
type ConceptCompletion struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	GameID      string    `json:"gameId"`
	ConceptID   string    `json:"conceptId"`
	CompletedAt time.Time `json:"completedAt"`
	XPEarned    int       `json:"xpEarned"`
}

// CompletionID derives the completion row id for (user, game, concept).
// The same triple always yields the same id, so a retried insert is a
// duplicate rather than a second row.
func CompletionID(userID, gameID, conceptID string) string {
	name := userID + "\x00" + gameID + "\x00" + conceptID
	return uuid.NewSHA1(completionNamespace, []byte(name)).String()
}

// NewCompletion builds the log row for a first-time completion.
func NewCompletion(userID, gameID, conceptID string, at time.Time) *ConceptCompletion {
	return &ConceptCompletion{
		ID:          CompletionID(userID, gameID, conceptID),
		UserID:      userID,
		GameID:      gameID,
		ConceptID:   conceptID,
		CompletedAt: at,
		XPEarned:    XPPerConcept,
	}
}

// NoopCompletion is returned for a repeated completion; it is never stored.
func NoopCompletion(userID, gameID, conceptID string, at time.Time) *ConceptCompletion {
	c := NewCompletion(userID, gameID, conceptID, at)
	c.XPEarned = 0
	return c
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
