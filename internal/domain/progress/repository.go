package progress

import "context"

// ══════════════════════════════════════════════════════════════════════════════
// REMOTE STORE PORT
// Implementations live in infrastructure/persistence and infrastructure/external.
// ══════════════════════════════════════════════════════════════════════════════

// RemoteStore is the source of truth for progress rows and completion logs.
//
// Every implementation must keep the outcomes distinct: a missing row is
// shared.ErrNotFound, a duplicate insert is shared.ErrAlreadyExists, and any
// transport or storage failure is shared.ErrRemoteUnavailable.
type RemoteStore interface {
	// FetchProgress returns the row for (userID, gameID) or ErrNotFound.
	FetchProgress(ctx context.Context, userID, gameID string) (*UserProgress, error)

	// UpsertProgress writes the row, resolving conflicts on (userId, gameId).
	UpsertProgress(ctx context.Context, p *UserProgress) error

	// InsertCompletion appends a completion row. A row with the same id
	// yields ErrAlreadyExists.
	InsertCompletion(ctx context.Context, c *ConceptCompletion) error
}
