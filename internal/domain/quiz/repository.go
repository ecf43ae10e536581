package quiz

import "context"

// RemoteStore is the append-only remote log of quiz attempts.
//
// InsertQuizResult yields shared.ErrAlreadyExists for a duplicate id; any
// transport or storage failure is shared.ErrRemoteUnavailable.
type RemoteStore interface {
	InsertQuizResult(ctx context.Context, r *QuizResult) error

	// FetchQuizResults returns every attempt of userID for conceptID.
	// An empty result is not an error.
	FetchQuizResults(ctx context.Context, userID, conceptID string) ([]QuizResult, error)
}
