// Package remote wraps a remote progress store with the failure policy every
// caller relies on: a bounded per-attempt timeout, retry with backoff for
// transient failures, a circuit breaker, and strict outcome classification.
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/rulesmaster/progress-sync/internal/domain/progress"
	"github.com/rulesmaster/progress-sync/internal/domain/quiz"
	"github.com/rulesmaster/progress-sync/internal/domain/shared"
	"github.com/rulesmaster/progress-sync/pkg/circuitbreaker"
	"github.com/rulesmaster/progress-sync/pkg/logger"
	"github.com/rulesmaster/progress-sync/pkg/retry"
)

const domainRemote = "remote"

// Backend is a store serving both remote ports, e.g. postgres.ProgressStore
// or postgrest.Client.
type Backend interface {
	progress.RemoteStore
	quiz.RemoteStore
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds the decorator policy.
type Config struct {
	// Timeout bounds a single attempt. Zero leaves the caller's deadline alone.
	Timeout time.Duration

	Retry   []retry.Option
	Breaker []circuitbreaker.Option

	Logger *logger.Logger
}

// DefaultConfig returns the policy used in production.
func DefaultConfig() Config {
	return Config{Timeout: 5 * time.Second}
}

// Option configures a Store.
type Option func(*Config)

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithRetry appends retry options to the RemoteStoreRetrier defaults.
func WithRetry(opts ...retry.Option) Option {
	return func(c *Config) { c.Retry = append(c.Retry, opts...) }
}

// WithBreaker appends breaker options to the RemoteStoreBreaker defaults.
func WithBreaker(opts ...circuitbreaker.Option) Option {
	return func(c *Config) { c.Breaker = append(c.Breaker, opts...) }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store decorates a Backend. Every error it returns is classified as one of
// ErrNotFound, ErrAlreadyExists, ErrInvalidInput or ErrRemoteUnavailable.
type Store struct {
	backend Backend
	timeout time.Duration
	retrier *retry.Retrier
	breaker *circuitbreaker.CircuitBreaker
	logger  *logger.Logger
}

var (
	_ progress.RemoteStore = (*Store)(nil)
	_ quiz.RemoteStore     = (*Store)(nil)
)

// New wraps backend.
func New(backend Backend, opts ...Option) *Store {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	log := cfg.Logger.With(logger.Component("remote"))

	retryOpts := append([]retry.Option{
		retry.WithRetryIf(shared.IsRetryable),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			log.Warn("remote call failed, retrying",
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Err(err),
			)
		}),
	}, cfg.Retry...)

	breakerOpts := append([]circuitbreaker.Option{
		circuitbreaker.WithIsFailure(shared.IsRemoteUnavailable),
		circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
			log.Warn("remote circuit state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		}),
	}, cfg.Breaker...)

	return &Store{
		backend: backend,
		timeout: cfg.Timeout,
		retrier: retry.RemoteStoreRetrier(retryOpts...),
		breaker: circuitbreaker.RemoteStoreBreaker(breakerOpts...),
		logger:  log,
	}
}

// BreakerState reports the circuit state.
func (s *Store) BreakerState() circuitbreaker.State {
	return s.breaker.State()
}

// ─────────────────────────────────────────────────────────────────────────────
// progress.RemoteStore
// ─────────────────────────────────────────────────────────────────────────────

func (s *Store) FetchProgress(ctx context.Context, userID, gameID string) (*progress.UserProgress, error) {
	var out *progress.UserProgress
	err := s.call(ctx, "FetchProgress", func(ctx context.Context) error {
		p, err := s.backend.FetchProgress(ctx, userID, gameID)
		out = p
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpsertProgress(ctx context.Context, p *progress.UserProgress) error {
	return s.call(ctx, "UpsertProgress", func(ctx context.Context) error {
		return s.backend.UpsertProgress(ctx, p)
	})
}

func (s *Store) InsertCompletion(ctx context.Context, c *progress.ConceptCompletion) error {
	return s.call(ctx, "InsertCompletion", func(ctx context.Context) error {
		return s.backend.InsertCompletion(ctx, c)
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// quiz.RemoteStore
// ─────────────────────────────────────────────────────────────────────────────

func (s *Store) InsertQuizResult(ctx context.Context, r *quiz.QuizResult) error {
	return s.call(ctx, "InsertQuizResult", func(ctx context.Context) error {
		return s.backend.InsertQuizResult(ctx, r)
	})
}

func (s *Store) FetchQuizResults(ctx context.Context, userID, conceptID string) ([]quiz.QuizResult, error) {
	var out []quiz.QuizResult
	err := s.call(ctx, "FetchQuizResults", func(ctx context.Context) error {
		rs, err := s.backend.FetchQuizResults(ctx, userID, conceptID)
		out = rs
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// policy
// ─────────────────────────────────────────────────────────────────────────────

// call runs op under breaker(retry(timeout(op))). The breaker sees one
// outcome per logical call.
func (s *Store) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.retrier.Do(ctx, func(ctx context.Context) error {
			return classify(op, s.attempt(ctx, fn))
		})
	})
	if circuitbreaker.IsRejection(err) {
		return shared.Unavailable(domainRemote, op, err)
	}
	return err
}

func (s *Store) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return fn(ctx)
}

// classify leaves already-classified errors alone and treats anything else
// as a transient outage.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case shared.IsNotFound(err),
		shared.IsAlreadyExists(err),
		shared.IsRemoteUnavailable(err),
		errors.Is(err, shared.ErrInvalidInput):
		return err
	default:
		return shared.Unavailable(domainRemote, op, err)
	}
}
