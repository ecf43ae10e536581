package shared

import (
	"strings"
	"unicode/utf8"
)

// MaxIDLength bounds every opaque identifier (user, game, concept, quiz).
const MaxIDLength = 128

// RequireID validates an opaque identifier: non-blank, bounded length, no
// control characters. The identifier itself is never interpreted.
func RequireID(domain, op, field, value string) error {
	if strings.TrimSpace(value) == "" {
		return NewDomainError(domain, op, ErrInvalidInput, field+" is required")
	}
	if utf8.RuneCountInString(value) > MaxIDLength {
		return NewDomainError(domain, op, ErrInvalidInput, field+" is too long")
	}
	for _, r := range value {
		if r < 0x20 || r == 0x7f {
			return NewDomainError(domain, op, ErrInvalidInput, field+" contains control characters")
		}
	}
	return nil
}

// RequireIDs validates several field/value pairs in order.
func RequireIDs(domain, op string, pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if err := RequireID(domain, op, pairs[i], pairs[i+1]); err != nil {
			return err
		}
	}
	return nil
}
