package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable reports any failure talking to the key-value store.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrTimeout is a store call that exceeded its deadline.
	ErrTimeout = fmt.Errorf("%w: timeout", ErrStoreUnavailable)
	// ErrConnectionClosed is a store call on a closed client.
	ErrConnectionClosed = fmt.Errorf("%w: connection closed", ErrStoreUnavailable)

	ErrLockTimeout   = errors.New("lock acquisition timed out")
	ErrSerialization = errors.New("serialization failed")
	ErrMisconfigured = errors.New("misconfigured caller")
)

// Unavailable wraps err so that it matches ErrStoreUnavailable. Errors that
// already match are annotated with op only.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// Serialization wraps err so that it matches ErrSerialization.
func Serialization(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrSerialization, what, err)
}

// Misconfigured builds an ErrMisconfigured error with a formatted reason.
func Misconfigured(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMisconfigured, fmt.Sprintf(format, args...))
}
