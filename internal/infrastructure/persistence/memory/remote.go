// Package memory provides an in-process remote store used by tests and by
// the CLI's offline mode. Failures can be injected per operation.
package memory

import (
	"context"
	"sync"

	"github.com/rulesmaster/progress-sync/internal/domain/progress"
	"github.com/rulesmaster/progress-sync/internal/domain/quiz"
	"github.com/rulesmaster/progress-sync/internal/domain/shared"
)

// Operation names accepted by Fail and Calls.
const (
	OpFetchProgress    = "FetchProgress"
	OpUpsertProgress   = "UpsertProgress"
	OpInsertCompletion = "InsertCompletion"
	OpInsertQuizResult = "InsertQuizResult"
	OpFetchQuizResults = "FetchQuizResults"
)

const domainRemote = "remote"

// RemoteStore implements progress.RemoteStore and quiz.RemoteStore in memory.
type RemoteStore struct {
	mu          sync.Mutex
	progress    map[progress.Key]*progress.UserProgress
	completions map[string]progress.ConceptCompletion
	order       []string
	results     map[string]quiz.QuizResult
	faults      map[string]error
	calls       map[string]int
	hook        func(ctx context.Context, op string) error
}

var (
	_ progress.RemoteStore = (*RemoteStore)(nil)
	_ quiz.RemoteStore     = (*RemoteStore)(nil)
)

// NewRemoteStore creates an empty store.
func NewRemoteStore() *RemoteStore {
	return &RemoteStore{
		progress:    make(map[progress.Key]*progress.UserProgress),
		completions: make(map[string]progress.ConceptCompletion),
		results:     make(map[string]quiz.QuizResult),
		faults:      make(map[string]error),
		calls:       make(map[string]int),
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Fault injection
// ─────────────────────────────────────────────────────────────────────────────

// Fail makes op fail with err until cleared with a nil err. The error is
// returned as-is; wrap it in shared.Unavailable to simulate an outage.
func (s *RemoteStore) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

// FailAll makes every operation fail with shared.ErrRemoteUnavailable.
func (s *RemoteStore) FailAll() {
	for _, op := range []string{OpFetchProgress, OpUpsertProgress, OpInsertCompletion, OpInsertQuizResult, OpFetchQuizResults} {
		s.Fail(op, shared.Unavailable(domainRemote, op, context.DeadlineExceeded))
	}
}

// Heal clears every injected fault.
func (s *RemoteStore) Heal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.faults)
}

// OnCall installs a hook run before every operation, outside the store
// lock. A non-nil return fails the operation. Used to block or slow calls.
func (s *RemoteStore) OnCall(hook func(ctx context.Context, op string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = hook
}

// Calls returns how many times op was invoked, including failed calls.
func (s *RemoteStore) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *RemoteStore) begin(ctx context.Context, op string) error {
	s.mu.Lock()
	s.calls[op]++
	hook := s.hook
	fault := s.faults[op]
	s.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, op); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return shared.Unavailable(domainRemote, op, err)
	}
	return fault
}

// ─────────────────────────────────────────────────────────────────────────────
// Seeding and inspection
// ─────────────────────────────────────────────────────────────────────────────

// PutProgress stores a copy of p, bypassing fault injection.
func (s *RemoteStore) PutProgress(p *progress.UserProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[p.Key()] = p.Clone()
}

// Progress returns a copy of the stored row, or nil.
func (s *RemoteStore) Progress(userID, gameID string) *progress.UserProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress[progress.Key{UserID: userID, GameID: gameID}].Clone()
}

// Completions returns the completion rows of (userID, gameID) in insert order.
func (s *RemoteStore) Completions(userID, gameID string) []progress.ConceptCompletion {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []progress.ConceptCompletion
	for _, id := range s.order {
		c := s.completions[id]
		if c.UserID == userID && c.GameID == gameID {
			out = append(out, c)
		}
	}
	return out
}

// QuizResultCount returns the number of stored quiz results.
func (s *RemoteStore) QuizResultCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

// ─────────────────────────────────────────────────────────────────────────────
// progress.RemoteStore
// ─────────────────────────────────────────────────────────────────────────────

func (s *RemoteStore) FetchProgress(ctx context.Context, userID, gameID string) (*progress.UserProgress, error) {
	if err := s.begin(ctx, OpFetchProgress); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[progress.Key{UserID: userID, GameID: gameID}]
	if !ok {
		return nil, shared.NotFound(domainRemote, OpFetchProgress, "no progress for "+userID+"/"+gameID)
	}
	return p.Clone(), nil
}

func (s *RemoteStore) UpsertProgress(ctx context.Context, p *progress.UserProgress) error {
	if err := s.begin(ctx, OpUpsertProgress); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row := p.Clone()
	if prev, ok := s.progress[p.Key()]; ok {
		row.CreatedAt = prev.CreatedAt
	}
	s.progress[p.Key()] = row
	return nil
}

func (s *RemoteStore) InsertCompletion(ctx context.Context, c *progress.ConceptCompletion) error {
	if err := s.begin(ctx, OpInsertCompletion); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.completions[c.ID]; dup {
		return shared.AlreadyExists(domainRemote, OpInsertCompletion, "completion "+c.ID+" exists")
	}
	s.completions[c.ID] = *c
	s.order = append(s.order, c.ID)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// quiz.RemoteStore
// ─────────────────────────────────────────────────────────────────────────────

func (s *RemoteStore) InsertQuizResult(ctx context.Context, r *quiz.QuizResult) error {
	if err := s.begin(ctx, OpInsertQuizResult); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.results[r.ID]; dup {
		return shared.AlreadyExists(domainRemote, OpInsertQuizResult, "quiz result "+r.ID+" exists")
	}
	s.results[r.ID] = *r.Clone()
	return nil
}

func (s *RemoteStore) FetchQuizResults(ctx context.Context, userID, conceptID string) ([]quiz.QuizResult, error) {
	if err := s.begin(ctx, OpFetchQuizResults); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]quiz.QuizResult, 0)
	for _, r := range s.results {
		if r.UserID == userID && r.ConceptID == conceptID {
			out = append(out, *r.Clone())
		}
	}
	quiz.SortChronological(out)
	return out, nil
}
