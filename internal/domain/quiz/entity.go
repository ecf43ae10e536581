// Package quiz defines immutable quiz attempts and the derivations computed
// over them (best score, last attempt, pass status).
package quiz

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/rulesmaster/progress-sync/internal/domain/shared"
)

const (
	// DefaultPassingScore is the percentage needed to pass when a quiz
	// does not carry its own threshold.
	DefaultPassingScore = 60

	// DefaultBonusXP is awarded only for a perfect attempt.
	DefaultBonusXP = 50
)

// ══════════════════════════════════════════════════════════════════════════════
// QUIZ RESULT
// ══════════════════════════════════════════════════════════════════════════════

// AnswerRecord is the outcome of one question within an attempt.
type AnswerRecord struct {
	QuestionID       string `json:"questionId"`
	SelectedOptionID string `json:"selectedOptionId"`
	IsCorrect        bool   `json:"isCorrect"`
	TimeSpent        int    `json:"timeSpent"`
}

// QuizResult is one attempt. It is never mutated after creation.
type QuizResult struct {
	ID             string         `json:"id"`
	UserID         string         `json:"userId"`
	GameID         string         `json:"gameId"`
	ConceptID      string         `json:"conceptId"`
	QuizID         string         `json:"quizId"`
	Score          int            `json:"score"`
	TotalQuestions int            `json:"totalQuestions"`
	Percentage     int            `json:"percentage"`
	PassingScore   int            `json:"passingScore,omitempty"`
	Passed         bool           `json:"passed"`
	PerfectScore   bool           `json:"perfectScore"`
	XPEarned       int            `json:"xpEarned"`
	TimeSpent      int            `json:"timeSpent"`
	CompletedAt    time.Time      `json:"completedAt"`
	Answers        []AnswerRecord `json:"answers"`
}

// Percentage returns round(score / total * 100). Halves round up.
func Percentage(score, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(score) / float64(total) * 100))
}

// NewResultParams are the raw inputs recorded by the quiz screen.
type NewResultParams struct {
	UserID         string
	GameID         string
	ConceptID      string
	QuizID         string
	Score          int
	TotalQuestions int
	TimeSpent      int
	CompletedAt    time.Time
	Answers        []AnswerRecord
	// PassingScore of 0 selects DefaultPassingScore.
	PassingScore int
	// BonusXP is credited only on a perfect attempt.
	BonusXP int
}

// NewQuizResult derives percentage, passed, perfectScore and xpEarned from
// the raw inputs and assigns a random v4 id.
func NewQuizResult(p NewResultParams) (*QuizResult, error) {
	if err := shared.RequireIDs("quiz", "NewQuizResult",
		"user id", p.UserID, "game id", p.GameID, "concept id", p.ConceptID, "quiz id", p.QuizID,
	); err != nil {
		return nil, err
	}
	if err := checkScore(p.Score, p.TotalQuestions); err != nil {
		return nil, err
	}

	passing := p.PassingScore
	if passing <= 0 {
		passing = DefaultPassingScore
	}

	pct := Percentage(p.Score, p.TotalQuestions)
	perfect := pct == 100
	xp := 0
	if perfect {
		xp = max(p.BonusXP, 0)
	}

	answers := make([]AnswerRecord, len(p.Answers))
	copy(answers, p.Answers)

	return &QuizResult{
		ID:             uuid.NewString(),
		UserID:         p.UserID,
		GameID:         p.GameID,
		ConceptID:      p.ConceptID,
		QuizID:         p.QuizID,
		Score:          p.Score,
		TotalQuestions: p.TotalQuestions,
		Percentage:     pct,
		PassingScore:   passing,
		Passed:         pct >= passing,
		PerfectScore:   perfect,
		XPEarned:       xp,
		TimeSpent:      max(p.TimeSpent, 0),
		CompletedAt:    p.CompletedAt,
		Answers:        answers,
	}, nil
}

// Validate recomputes the derived fields and rejects an attempt whose stored
// values disagree. defaultPassing is used when the attempt has no threshold.
func (r *QuizResult) Validate(defaultPassing int) error {
	if r == nil {
		return invalid("result is nil")
	}
	if err := shared.RequireIDs("quiz", "Validate",
		"result id", r.ID, "user id", r.UserID, "game id", r.GameID, "concept id", r.ConceptID, "quiz id", r.QuizID,
	); err != nil {
		return shared.WrapError("quiz", "Validate", shared.ErrInvalidQuizResult, "malformed identifiers", err)
	}
	if err := checkScore(r.Score, r.TotalQuestions); err != nil {
		return err
	}

	want := Percentage(r.Score, r.TotalQuestions)
	if r.Percentage != want {
		return invalid(fmt.Sprintf("percentage %d does not match %d/%d (want %d)", r.Percentage, r.Score, r.TotalQuestions, want))
	}

	passing := r.PassingScore
	if passing <= 0 {
		passing = defaultPassing
	}
	if passing <= 0 {
		passing = DefaultPassingScore
	}
	if r.Passed != (want >= passing) {
		return invalid(fmt.Sprintf("passed=%t inconsistent with %d%% at threshold %d", r.Passed, want, passing))
	}
	if r.PerfectScore != (want == 100) {
		return invalid(fmt.Sprintf("perfectScore=%t inconsistent with %d%%", r.PerfectScore, want))
	}
	if r.XPEarned < 0 || (!r.PerfectScore && r.XPEarned != 0) {
		return invalid(fmt.Sprintf("xpEarned=%d only allowed on a perfect attempt", r.XPEarned))
	}
	if r.TimeSpent < 0 {
		return invalid("timeSpent cannot be negative")
	}
	if r.CompletedAt.IsZero() {
		return invalid("completedAt is required")
	}
	return nil
}

// Clone returns a deep copy.
func (r *QuizResult) Clone() *QuizResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Answers = append([]AnswerRecord(nil), r.Answers...)
	return &c
}

func checkScore(score, total int) error {
	if total <= 0 {
		return invalid("totalQuestions must be positive")
	}
	if score < 0 {
		return invalid("score cannot be negative")
	}
	if score > total {
		return invalid(fmt.Sprintf("score %d exceeds totalQuestions %d", score, total))
	}
	return nil
}

func invalid(msg string) error {
	return shared.NewDomainError("quiz", "Validate", shared.ErrInvalidQuizResult, msg)
}
