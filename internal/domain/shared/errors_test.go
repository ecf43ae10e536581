package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_IsMatchesKindAndCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Unavailable("remote", "FetchProgress", cause)

	assert.True(t, IsRemoteUnavailable(err))
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsNotFound(err))
	assert.Equal(t, "remote.FetchProgress: remote store unavailable: dial tcp: connection refused", err.Error())
}

func TestDomainError_WrappedByFmt(t *testing.T) {
	err := fmt.Errorf("refresh: %w", NotFound("remote", "FetchProgress", "no row"))

	assert.True(t, IsNotFound(err))
	assert.False(t, IsRemoteUnavailable(err))
	assert.False(t, IsRetryable(err))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(Unavailable("remote", "Upsert", errors.New("timeout"))))
	assert.True(t, IsRetryable(WrapError("progress", "CompleteLesson", ErrCompletionFailed, "not saved", nil)))
	assert.False(t, IsRetryable(NewDomainError("quiz", "Save", ErrInvalidQuizResult, "bad")))
	assert.False(t, IsRetryable(AlreadyExists("remote", "Insert", "dup")))
	assert.False(t, IsRetryable(nil))
}

func TestNotFoundAndUnavailableAreDistinct(t *testing.T) {
	nf := NotFound("remote", "FetchProgress", "no row")
	un := Unavailable("remote", "FetchProgress", errors.New("503"))

	assert.NotErrorIs(t, nf, ErrRemoteUnavailable)
	assert.NotErrorIs(t, un, ErrNotFound)
}

func TestIsCacheError(t *testing.T) {
	assert.True(t, IsCacheError(WrapError("cache", "Get", ErrCacheRead, "corrupt entry", nil)))
	assert.True(t, IsCacheError(fmt.Errorf("save: %w", NewDomainError("cache", "Set", ErrCacheWrite, "disk full"))))
	assert.False(t, IsCacheError(Unavailable("remote", "FetchProgress", errors.New("503"))))
}

func TestRequireID(t *testing.T) {
	assert.NoError(t, RequireID("progress", "Get", "user id", "user-1"))
	assert.ErrorIs(t, RequireID("progress", "Get", "user id", "  "), ErrInvalidInput)
	assert.ErrorIs(t, RequireID("progress", "Get", "user id", "a\nb"), ErrInvalidInput)

	long := make([]byte, MaxIDLength+1)
	for i := range long {
		long[i] = 'x'
	}
	assert.ErrorIs(t, RequireID("progress", "Get", "user id", string(long)), ErrInvalidInput)

	err := RequireIDs("progress", "Get", "user id", "u", "game id", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "game id is required")
}
