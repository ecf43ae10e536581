package postgres

// Migrations returns the embedded schema steps in version order.
func Migrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_user_progress", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_concept_completions", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_quiz_results", UpSQL: migration003Up, DownSQL: migration003Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: USER PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS user_progress (
    user_id TEXT NOT NULL,
    game_id TEXT NOT NULL,
    completed_concepts TEXT[] NOT NULL DEFAULT '{}',
    current_concept TEXT,
    total_xp INTEGER NOT NULL DEFAULT 0,
    streak INTEGER NOT NULL DEFAULT 0,
    last_activity_date TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, game_id),
    CONSTRAINT valid_total_xp CHECK (total_xp >= 0),
    CONSTRAINT valid_streak CHECK (streak >= 0)
);

CREATE INDEX IF NOT EXISTS idx_user_progress_user_id ON user_progress(user_id);
`

const migration001Down = `
DROP TABLE IF EXISTS user_progress;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CONCEPT COMPLETIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS concept_completions (
    id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    game_id TEXT NOT NULL,
    concept_id TEXT NOT NULL,
    completed_at TIMESTAMP WITH TIME ZONE NOT NULL,
    xp_earned INTEGER NOT NULL DEFAULT 0,

    CONSTRAINT valid_xp_earned CHECK (xp_earned >= 0)
);

CREATE INDEX IF NOT EXISTS idx_concept_completions_user_game
    ON concept_completions(user_id, game_id, completed_at);
`

const migration002Down = `
DROP TABLE IF EXISTS concept_completions;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: QUIZ RESULTS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS quiz_results (
    id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    game_id TEXT NOT NULL,
    concept_id TEXT NOT NULL,
    quiz_id TEXT NOT NULL,
    score INTEGER NOT NULL,
    total_questions INTEGER NOT NULL,
    percentage INTEGER NOT NULL,
    passing_score INTEGER NOT NULL DEFAULT 0,
    passed BOOLEAN NOT NULL,
    perfect_score BOOLEAN NOT NULL,
    xp_earned INTEGER NOT NULL DEFAULT 0,
    time_spent INTEGER NOT NULL DEFAULT 0,
    completed_at TIMESTAMP WITH TIME ZONE NOT NULL,
    answers JSONB NOT NULL DEFAULT '[]'::jsonb,

    CONSTRAINT valid_score CHECK (score >= 0 AND score <= total_questions),
    CONSTRAINT valid_percentage CHECK (percentage >= 0 AND percentage <= 100)
);

CREATE INDEX IF NOT EXISTS idx_quiz_results_user_concept
    ON quiz_results(user_id, concept_id, completed_at);
`

const migration003Down = `
DROP TABLE IF EXISTS quiz_results;
`
