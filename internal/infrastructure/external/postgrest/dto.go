package postgrest

import (
	"fmt"
	"time"

	"github.com/rulesmaster/progress-sync/internal/domain/progress"
	"github.com/rulesmaster/progress-sync/internal/domain/quiz"
)

// ══════════════════════════════════════════════════════════════════════════════
// ROW DTOs
// Column names match the tables created by the postgres migrations.
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRowDTO is one user_progress row.
type ProgressRowDTO struct {
	UserID            string    `json:"user_id"`
	GameID            string    `json:"game_id"`
	CompletedConcepts []string  `json:"completed_concepts"`
	CurrentConcept    *string   `json:"current_concept"`
	TotalXP           int       `json:"total_xp"`
	Streak            int       `json:"streak"`
	LastActivityDate  time.Time `json:"last_activity_date"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// CompletionRowDTO is one concept_completions row.
type CompletionRowDTO struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	GameID      string    `json:"game_id"`
	ConceptID   string    `json:"concept_id"`
	CompletedAt time.Time `json:"completed_at"`
	XPEarned    int       `json:"xp_earned"`
}

// QuizResultRowDTO is one quiz_results row.
type QuizResultRowDTO struct {
	ID             string              `json:"id"`
	UserID         string              `json:"user_id"`
	GameID         string              `json:"game_id"`
	ConceptID      string              `json:"concept_id"`
	QuizID         string              `json:"quiz_id"`
	Score          int                 `json:"score"`
	TotalQuestions int                 `json:"total_questions"`
	Percentage     int                 `json:"percentage"`
	PassingScore   int                 `json:"passing_score"`
	Passed         bool                `json:"passed"`
	PerfectScore   bool                `json:"perfect_score"`
	XPEarned       int                 `json:"xp_earned"`
	TimeSpent      int                 `json:"time_spent"`
	CompletedAt    time.Time           `json:"completed_at"`
	Answers        []quiz.AnswerRecord `json:"answers"`
}

// APIErrorDTO is the PostgREST error body.
type APIErrorDTO struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (e *APIErrorDTO) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("postgrest: status %d: %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("postgrest: status %d: %s", e.Status, e.Message)
}

// ══════════════════════════════════════════════════════════════════════════════
// MAPPING
// ══════════════════════════════════════════════════════════════════════════════

func progressToRow(p *progress.UserProgress) ProgressRowDTO {
	row := ProgressRowDTO{
		UserID:            p.UserID,
		GameID:            p.GameID,
		CompletedConcepts: p.CompletedConcepts,
		TotalXP:           p.TotalXP,
		Streak:            p.Streak,
		LastActivityDate:  p.LastActivityDate.UTC(),
		CreatedAt:         p.CreatedAt.UTC(),
		UpdatedAt:         p.UpdatedAt.UTC(),
	}
	if row.CompletedConcepts == nil {
		row.CompletedConcepts = []string{}
	}
	if p.CurrentConcept != "" {
		c := p.CurrentConcept
		row.CurrentConcept = &c
	}
	return row
}

func (r ProgressRowDTO) toDomain() *progress.UserProgress {
	p := &progress.UserProgress{
		UserID:            r.UserID,
		GameID:            r.GameID,
		CompletedConcepts: r.CompletedConcepts,
		TotalXP:           r.TotalXP,
		Streak:            r.Streak,
		LastActivityDate:  r.LastActivityDate.UTC(),
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
	}
	if p.CompletedConcepts == nil {
		p.CompletedConcepts = []string{}
	}
	if r.CurrentConcept != nil {
		p.CurrentConcept = *r.CurrentConcept
	}
	return p
}

func completionToRow(c *progress.ConceptCompletion) CompletionRowDTO {
	return CompletionRowDTO{
		ID:          c.ID,
		UserID:      c.UserID,
		GameID:      c.GameID,
		ConceptID:   c.ConceptID,
		CompletedAt: c.CompletedAt.UTC(),
		XPEarned:    c.XPEarned,
	}
}

func quizResultToRow(r *quiz.QuizResult) QuizResultRowDTO {
	answers := r.Answers
	if answers == nil {
		answers = []quiz.AnswerRecord{}
	}
	return QuizResultRowDTO{
		ID:             r.ID,
		UserID:         r.UserID,
		GameID:         r.GameID,
		ConceptID:      r.ConceptID,
		QuizID:         r.QuizID,
		Score:          r.Score,
		TotalQuestions: r.TotalQuestions,
		Percentage:     r.Percentage,
		PassingScore:   r.PassingScore,
		Passed:         r.Passed,
		PerfectScore:   r.PerfectScore,
		XPEarned:       r.XPEarned,
		TimeSpent:      r.TimeSpent,
		CompletedAt:    r.CompletedAt.UTC(),
		Answers:        answers,
	}
}

func (r QuizResultRowDTO) toDomain() quiz.QuizResult {
	return quiz.QuizResult{
		ID:             r.ID,
		UserID:         r.UserID,
		GameID:         r.GameID,
		ConceptID:      r.ConceptID,
		QuizID:         r.QuizID,
		Score:          r.Score,
		TotalQuestions: r.TotalQuestions,
		Percentage:     r.Percentage,
		PassingScore:   r.PassingScore,
		Passed:         r.Passed,
		PerfectScore:   r.PerfectScore,
		XPEarned:       r.XPEarned,
		TimeSpent:      r.TimeSpent,
		CompletedAt:    r.CompletedAt.UTC(),
		Answers:        r.Answers,
	}
}
