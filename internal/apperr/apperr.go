// Package apperr defines the error taxonomy surfaced by the engine.
package apperr

import (
	"errors"
	"fmt"
)

// Kind groups errors by how callers should react to them.
type Kind int

const (
	// KindStorage is a transient or unknown infrastructure failure.
	KindStorage Kind = iota
	// KindValidation is a malformed request the caller can correct.
	KindValidation
	// KindConflict is a request that collides with existing state.
	KindConflict
	// KindNotFound is a reference to an unknown user or post.
	KindNotFound
	// KindInvariant is an operation that would break a bookkeeping invariant.
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindInvariant:
		return "invariant"
	default:
		return "storage"
	}
}

// Error is a domain error with a stable reason code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches any *Error carrying the same code, so detailed copies still
// compare equal to the sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Withf returns a copy of e with a more specific message.
func (e *Error) Withf(format string, args ...any) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrInvalidAmount       = &Error{KindValidation, "invalid_amount", "amount must be positive"}
	ErrInvalidVerdict      = &Error{KindValidation, "invalid_verdict", "verdict must be one of true, false, misleading, partially_true"}
	ErrInvalidSources      = &Error{KindValidation, "invalid_sources", "between 1 and 5 source URLs are required"}
	ErrExplanationTooShort = &Error{KindValidation, "explanation_too_short", "explanation must be at least 20 characters"}
	ErrInvalidPeriod       = &Error{KindValidation, "invalid_period", "period must be one of daily, weekly, monthly, allTime"}
	ErrInvalidMetric       = &Error{KindValidation, "invalid_metric", "metric must be one of tokensEarned, trustScore"}
	ErrInvalidID           = &Error{KindValidation, "invalid_id", "id is required"}

	ErrSelfVerification      = &Error{KindConflict, "self_verification_forbidden", "you cannot verify your own post"}
	ErrDuplicateVerification = &Error{KindConflict, "duplicate_verification", "you have already verified this post"}
	ErrAlreadyClaimedToday   = &Error{KindConflict, "already_claimed_today", "daily bonus already claimed today"}
	ErrUserExists            = &Error{KindConflict, "user_exists", "user already exists"}
	ErrPostExists            = &Error{KindConflict, "post_exists", "post already exists"}

	ErrUserNotFound = &Error{KindNotFound, "user_not_found", "user not found"}
	ErrPostNotFound = &Error{KindNotFound, "post_not_found", "post not found"}

	ErrNegativeBalance = &Error{KindInvariant, "negative_balance", "operation would create a negative balance"}
)

// KindOf classifies err. Errors outside this package are storage errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorage
}

// CodeOf returns the reason code of err, or "internal" for foreign errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}

// UserMessage returns the text safe to show a caller. Storage and invariant
// failures never leak their details.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInvariant {
		return e.Message
	}
	return "something went wrong, please try again"
}
