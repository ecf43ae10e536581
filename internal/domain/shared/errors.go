// Package shared contains the error taxonomy and domain events used across
// the progress and quiz domains. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base error kinds, matched with errors.Is().
var (
	// Remote store outcomes. NotFound is a legitimate absence; RemoteUnavailable
	// is a transient failure and must never be read as "no progress".
	ErrNotFound          = errors.New("entity not found")
	ErrAlreadyExists     = errors.New("entity already exists")
	ErrRemoteUnavailable = errors.New("remote store unavailable")

	// Local cache failures. Always non-fatal to callers.
	ErrCacheRead  = errors.New("cache read failed")
	ErrCacheWrite = errors.New("cache write failed")

	// Repository outcomes.
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidQuizResult   = errors.New("invalid quiz result")
	ErrCompletionFailed    = errors.New("lesson completion not saved")
	ErrProgressUnavailable = errors.New("progress unavailable")
)

// DomainError carries the failing domain and operation alongside a kind.
type DomainError struct {
	Domain  string // e.g. "progress", "quiz", "migration", "cache", "remote"
	Op      string // e.g. "CompleteLesson", "FetchProgress"
	Kind    error  // base error kind for errors.Is()
	Message string
	Err     error // underlying cause (optional)
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the cause if present, otherwise the kind.
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is matches against both the kind and the wrapped cause.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

// NotFound builds a NotFound error for a remote lookup.
func NotFound(domain, op, message string) *DomainError {
	return NewDomainError(domain, op, ErrNotFound, message)
}

// Unavailable wraps a transport or storage failure as RemoteUnavailable.
func Unavailable(domain, op string, err error) *DomainError {
	return WrapError(domain, op, ErrRemoteUnavailable, "remote store unavailable", err)
}

// AlreadyExists builds an AlreadyExists error for a duplicate insert.
func AlreadyExists(domain, op, message string) *DomainError {
	return NewDomainError(domain, op, ErrAlreadyExists, message)
}

// IsNotFound reports whether err is a NotFound outcome.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists reports whether err is a duplicate-insert outcome.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsRemoteUnavailable reports whether err is a transient remote failure.
func IsRemoteUnavailable(err error) bool {
	return errors.Is(err, ErrRemoteUnavailable)
}

// IsCacheError reports whether err originated in the local cache.
func IsCacheError(err error) bool {
	return errors.Is(err, ErrCacheRead) || errors.Is(err, ErrCacheWrite)
}

// IsRetryable reports whether the failed operation may succeed on retry.
// Validation failures and definitive answers (NotFound, AlreadyExists) are not.
func IsRetryable(err error) bool {
	if err == nil || IsNotFound(err) || IsAlreadyExists(err) {
		return false
	}
	if errors.Is(err, ErrInvalidQuizResult) || errors.Is(err, ErrInvalidInput) {
		return false
	}
	return IsRemoteUnavailable(err) ||
		errors.Is(err, ErrCompletionFailed) ||
		errors.Is(err, ErrProgressUnavailable)
}
