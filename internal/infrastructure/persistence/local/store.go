// Package local implements the on-device durable cache: a string-keyed blob
// store that survives restarts, plus the typed snapshots the repositories
// keep in it.
//
// Each key holds a single slot that is always overwritten. There is no
// eviction.
package local

import (
	"context"
	"errors"

	"github.com/rulesmaster/progress-sync/internal/domain/shared"
)

// ErrCacheMiss is returned by Get when the key has never been written.
var ErrCacheMiss = errors.New("cache: key not found")

// Store is the key-value port every cache backend implements.
//
// Get returns ErrCacheMiss on absence. Other failures carry
// shared.ErrCacheRead or shared.ErrCacheWrite so callers can degrade.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Keys lists every key starting with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// ReadError wraps a backend failure as a cache read error.
func ReadError(op string, err error) error {
	return shared.WrapError("cache", op, shared.ErrCacheRead, "cache read failed", err)
}

// WriteError wraps a backend failure as a cache write error.
func WriteError(op string, err error) error {
	return shared.WrapError("cache", op, shared.ErrCacheWrite, "cache write failed", err)
}
