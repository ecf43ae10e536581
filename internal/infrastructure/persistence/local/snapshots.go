package local

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rulesmaster/progress-sync/internal/domain/progress"
	"github.com/rulesmaster/progress-sync/internal/domain/quiz"
)

// ══════════════════════════════════════════════════════════════════════════════
// KEYS
// ══════════════════════════════════════════════════════════════════════════════

const (
	PrefixProgress      = "@rulesmaster_progress:"
	KeyQuizHistory      = "@rulesmaster_quiz_history"
	PrefixMigrationDone = "@rulesmaster_migration_done_"

	migratedValue = "true"
)

// ProgressKey is the slot holding one game's progress snapshot.
func ProgressKey(gameID string) string { return PrefixProgress + gameID }

// MigrationFlagKey is the slot holding a user's migrated flag.
func MigrationFlagKey(userID string) string { return PrefixMigrationDone + userID }

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT TYPES
// ══════════════════════════════════════════════════════════════════════════════

// ProgressSnapshot is the cached state of one game.
type ProgressSnapshot struct {
	Progress    *progress.UserProgress       `json:"progress"`
	Completions []progress.ConceptCompletion `json:"completions"`
	LastSync    time.Time                    `json:"lastSync"`
}

// HasCompletion reports whether a completion row for conceptID is cached.
func (s *ProgressSnapshot) HasCompletion(conceptID string) bool {
	for _, c := range s.Completions {
		if c.ConceptID == conceptID {
			return true
		}
	}
	return false
}

// QuizHistorySnapshot is the cached attempt log. Pending lists ids whose
// remote insert has not been confirmed yet.
type QuizHistorySnapshot struct {
	Results  []quiz.QuizResult `json:"results"`
	Pending  []string          `json:"pending,omitempty"`
	LastSync time.Time         `json:"lastSync"`
}

// IsPending reports whether id awaits upload.
func (s *QuizHistorySnapshot) IsPending(id string) bool {
	for _, p := range s.Pending {
		if p == id {
			return true
		}
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOTS
// ══════════════════════════════════════════════════════════════════════════════

// Snapshots encodes repository state into a Store. Loads return (nil, nil)
// on a miss; any returned error is a cache read or write error.
type Snapshots struct {
	store Store
}

// NewSnapshots wraps store.
func NewSnapshots(store Store) *Snapshots {
	return &Snapshots{store: store}
}

// Store returns the underlying key-value store.
func (s *Snapshots) Store() Store { return s.store }

// ─────────────────────────────────────────────────────────────────────────────
// Progress
// ─────────────────────────────────────────────────────────────────────────────

func (s *Snapshots) LoadProgress(ctx context.Context, gameID string) (*ProgressSnapshot, error) {
	var snap ProgressSnapshot
	ok, err := s.load(ctx, "LoadProgress", ProgressKey(gameID), &snap)
	if err != nil || !ok {
		return nil, err
	}
	if snap.Progress == nil {
		return nil, ReadError("LoadProgress", errors.New("snapshot has no progress"))
	}
	snap.Progress.Normalize()
	return &snap, nil
}

func (s *Snapshots) SaveProgress(ctx context.Context, snap *ProgressSnapshot) error {
	if snap == nil || snap.Progress == nil {
		return WriteError("SaveProgress", errors.New("snapshot has no progress"))
	}
	if snap.Completions == nil {
		snap.Completions = []progress.ConceptCompletion{}
	}
	return s.save(ctx, "SaveProgress", ProgressKey(snap.Progress.GameID), snap)
}

// ProgressGameIDs lists the games with a cached snapshot.
func (s *Snapshots) ProgressGameIDs(ctx context.Context) ([]string, error) {
	keys, err := s.store.Keys(ctx, PrefixProgress)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, PrefixProgress))
	}
	return ids, nil
}

// ListProgress loads every cached progress snapshot. Unreadable entries are
// skipped and reported in the joined error alongside the readable ones.
func (s *Snapshots) ListProgress(ctx context.Context) ([]*ProgressSnapshot, error) {
	ids, err := s.ProgressGameIDs(ctx)
	if err != nil {
		return nil, err
	}
	var (
		out  []*ProgressSnapshot
		errs []error
	)
	for _, id := range ids {
		snap, err := s.LoadProgress(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if snap != nil {
			out = append(out, snap)
		}
	}
	return out, errors.Join(errs...)
}

func (s *Snapshots) DeleteProgress(ctx context.Context, gameID string) error {
	return s.store.Delete(ctx, ProgressKey(gameID))
}

// DeleteAllProgress removes every progress snapshot.
func (s *Snapshots) DeleteAllProgress(ctx context.Context) error {
	ids, err := s.ProgressGameIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.DeleteProgress(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Quiz history
// ─────────────────────────────────────────────────────────────────────────────

func (s *Snapshots) LoadQuizHistory(ctx context.Context) (*QuizHistorySnapshot, error) {
	var snap QuizHistorySnapshot
	ok, err := s.load(ctx, "LoadQuizHistory", KeyQuizHistory, &snap)
	if err != nil || !ok {
		return nil, err
	}
	return &snap, nil
}

func (s *Snapshots) SaveQuizHistory(ctx context.Context, snap *QuizHistorySnapshot) error {
	if snap.Results == nil {
		snap.Results = []quiz.QuizResult{}
	}
	return s.save(ctx, "SaveQuizHistory", KeyQuizHistory, snap)
}

func (s *Snapshots) DeleteQuizHistory(ctx context.Context) error {
	return s.store.Delete(ctx, KeyQuizHistory)
}

// ─────────────────────────────────────────────────────────────────────────────
// Migration flags
// ─────────────────────────────────────────────────────────────────────────────

func (s *Snapshots) IsMigrated(ctx context.Context, userID string) (bool, error) {
	v, err := s.store.Get(ctx, MigrationFlagKey(userID))
	if errors.Is(err, ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return string(v) == migratedValue, nil
}

func (s *Snapshots) SetMigrated(ctx context.Context, userID string) error {
	return s.store.Set(ctx, MigrationFlagKey(userID), []byte(migratedValue))
}

func (s *Snapshots) ClearMigrated(ctx context.Context, userID string) error {
	return s.store.Delete(ctx, MigrationFlagKey(userID))
}

// ─────────────────────────────────────────────────────────────────────────────
// codec
// ─────────────────────────────────────────────────────────────────────────────

func (s *Snapshots) load(ctx context.Context, op, key string, dest any) (bool, error) {
	data, err := s.store.Get(ctx, key)
	if errors.Is(err, ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, ReadError(op, err)
	}
	return true, nil
}

func (s *Snapshots) save(ctx context.Context, op, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return WriteError(op, err)
	}
	return s.store.Set(ctx, key, data)
}
