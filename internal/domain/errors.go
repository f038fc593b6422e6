package domain

import "github.com/cockroachdb/errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUpstream     = errors.New("upstream unavailable")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")

	// Subclasses wrap their parent: errors.Is matches the parent from the
	// subclass, never the subclass from the parent.
	ErrAlreadyUsed          = errors.Wrap(ErrInvalidState, "ticket already used")
	ErrSerializationFailure = errors.Wrap(ErrUpstream, "serialization failure")
)

// Upstream tags err as a retryable dependency failure.
func Upstream(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, msg), ErrUpstream)
}

// IsRetryable reports whether retrying the same call may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUpstream)
}
