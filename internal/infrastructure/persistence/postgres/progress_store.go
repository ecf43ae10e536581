package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rulesmaster/progress-sync/internal/domain/progress"
	"github.com/rulesmaster/progress-sync/internal/domain/quiz"
	"github.com/rulesmaster/progress-sync/internal/domain/shared"
)

const domainRemote = "remote"

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS STORE IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ProgressStore implements progress.RemoteStore and quiz.RemoteStore on
// PostgreSQL. No-row results map to shared.ErrNotFound, unique violations to
// shared.ErrAlreadyExists, and every other failure to
// shared.ErrRemoteUnavailable.
type ProgressStore struct {
	conn *Connection
}

var (
	_ progress.RemoteStore = (*ProgressStore)(nil)
	_ quiz.RemoteStore     = (*ProgressStore)(nil)
)

// NewProgressStore creates a new ProgressStore.
func NewProgressStore(conn *Connection) *ProgressStore {
	return &ProgressStore{conn: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// Progress rows
// ─────────────────────────────────────────────────────────────────────────────

func (s *ProgressStore) FetchProgress(ctx context.Context, userID, gameID string) (*progress.UserProgress, error) {
	query := `
		SELECT user_id, game_id, completed_concepts, COALESCE(current_concept, ''),
		       total_xp, streak, last_activity_date, created_at, updated_at
		FROM user_progress
		WHERE user_id = $1 AND game_id = $2
	`

	var p progress.UserProgress
	err := s.conn.Pool().QueryRow(ctx, query, userID, gameID).Scan(
		&p.UserID,
		&p.GameID,
		&p.CompletedConcepts,
		&p.CurrentConcept,
		&p.TotalXP,
		&p.Streak,
		&p.LastActivityDate,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if IsNoRows(err) {
		return nil, shared.NotFound(domainRemote, "FetchProgress",
			fmt.Sprintf("no progress for %s/%s", userID, gameID))
	}
	if err != nil {
		return nil, classify("FetchProgress", err)
	}

	p.LastActivityDate = p.LastActivityDate.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	if p.CompletedConcepts == nil {
		p.CompletedConcepts = []string{}
	}
	return &p, nil
}

// UpsertProgress writes the row. created_at is kept from the first insert.
func (s *ProgressStore) UpsertProgress(ctx context.Context, p *progress.UserProgress) error {
	query := `
		INSERT INTO user_progress (
			user_id, game_id, completed_concepts, current_concept,
			total_xp, streak, last_activity_date, created_at, updated_at
		) VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, game_id) DO UPDATE SET
			completed_concepts = EXCLUDED.completed_concepts,
			current_concept = EXCLUDED.current_concept,
			total_xp = EXCLUDED.total_xp,
			streak = EXCLUDED.streak,
			last_activity_date = EXCLUDED.last_activity_date,
			updated_at = EXCLUDED.updated_at
	`

	concepts := p.CompletedConcepts
	if concepts == nil {
		concepts = []string{}
	}

	_, err := s.conn.Pool().Exec(ctx, query,
		p.UserID,
		p.GameID,
		concepts,
		p.CurrentConcept,
		p.TotalXP,
		p.Streak,
		p.LastActivityDate,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return classify("UpsertProgress", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Completion log
// ─────────────────────────────────────────────────────────────────────────────

func (s *ProgressStore) InsertCompletion(ctx context.Context, c *progress.ConceptCompletion) error {
	query := `
		INSERT INTO concept_completions (id, user_id, game_id, concept_id, completed_at, xp_earned)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.conn.Pool().Exec(ctx, query,
		c.ID, c.UserID, c.GameID, c.ConceptID, c.CompletedAt, c.XPEarned)
	if IsUniqueViolation(err) {
		return shared.AlreadyExists(domainRemote, "InsertCompletion", "completion "+c.ID+" exists")
	}
	if err != nil {
		return classify("InsertCompletion", err)
	}
	return nil
}

// FetchCompletions returns the completion log for (userID, gameID) oldest first.
func (s *ProgressStore) FetchCompletions(ctx context.Context, userID, gameID string) ([]progress.ConceptCompletion, error) {
	query := `
		SELECT id, user_id, game_id, concept_id, completed_at, xp_earned
		FROM concept_completions
		WHERE user_id = $1 AND game_id = $2
		ORDER BY completed_at, id
	`

	rows, err := s.conn.Pool().Query(ctx, query, userID, gameID)
	if err != nil {
		return nil, classify("FetchCompletions", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (progress.ConceptCompletion, error) {
		var c progress.ConceptCompletion
		err := row.Scan(&c.ID, &c.UserID, &c.GameID, &c.ConceptID, &c.CompletedAt, &c.XPEarned)
		c.CompletedAt = c.CompletedAt.UTC()
		return c, err
	})
	if err != nil {
		return nil, classify("FetchCompletions", err)
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Quiz results
// ─────────────────────────────────────────────────────────────────────────────

func (s *ProgressStore) InsertQuizResult(ctx context.Context, r *quiz.QuizResult) error {
	query := `
		INSERT INTO quiz_results (
			id, user_id, game_id, concept_id, quiz_id, score, total_questions,
			percentage, passing_score, passed, perfect_score, xp_earned,
			time_spent, completed_at, answers
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	answers := r.Answers
	if answers == nil {
		answers = []quiz.AnswerRecord{}
	}

	_, err := s.conn.Pool().Exec(ctx, query,
		r.ID,
		r.UserID,
		r.GameID,
		r.ConceptID,
		r.QuizID,
		r.Score,
		r.TotalQuestions,
		r.Percentage,
		r.PassingScore,
		r.Passed,
		r.PerfectScore,
		r.XPEarned,
		r.TimeSpent,
		r.CompletedAt,
		answers,
	)
	if IsUniqueViolation(err) {
		return shared.AlreadyExists(domainRemote, "InsertQuizResult", "quiz result "+r.ID+" exists")
	}
	if err != nil {
		return classify("InsertQuizResult", err)
	}
	return nil
}

func (s *ProgressStore) FetchQuizResults(ctx context.Context, userID, conceptID string) ([]quiz.QuizResult, error) {
	query := `
		SELECT id, user_id, game_id, concept_id, quiz_id, score, total_questions,
		       percentage, passing_score, passed, perfect_score, xp_earned,
		       time_spent, completed_at, answers
		FROM quiz_results
		WHERE user_id = $1 AND concept_id = $2
		ORDER BY completed_at, id
	`

	rows, err := s.conn.Pool().Query(ctx, query, userID, conceptID)
	if err != nil {
		return nil, classify("FetchQuizResults", err)
	}

	out, err := pgx.CollectRows(rows, scanQuizResult)
	if err != nil {
		return nil, classify("FetchQuizResults", err)
	}
	return out, nil
}

func scanQuizResult(row pgx.CollectableRow) (quiz.QuizResult, error) {
	var r quiz.QuizResult
	err := row.Scan(
		&r.ID,
		&r.UserID,
		&r.GameID,
		&r.ConceptID,
		&r.QuizID,
		&r.Score,
		&r.TotalQuestions,
		&r.Percentage,
		&r.PassingScore,
		&r.Passed,
		&r.PerfectScore,
		&r.XPEarned,
		&r.TimeSpent,
		&r.CompletedAt,
		&r.Answers,
	)
	r.CompletedAt = r.CompletedAt.UTC()
	return r, err
}

// ═════════════════════════════════════════════════════════════════════════════
// HELPERS
// ═════════════════════════════════════════════════════════════════════════════

// classify maps a pgx failure to a remote DomainError.
func classify(op string, err error) error {
	switch {
	case IsNoRows(err):
		return shared.WrapError(domainRemote, op, shared.ErrNotFound, "no rows", err)
	case IsUniqueViolation(err):
		return shared.WrapError(domainRemote, op, shared.ErrAlreadyExists, "duplicate key", err)
	default:
		return shared.Unavailable(domainRemote, op, err)
	}
}
