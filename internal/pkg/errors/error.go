package xerrors

import (
	"errors"
	"fmt"
)

// Common reusable application errors
var (
	ErrNotFound       = errors.New("resource not found")
	ErrUnauthorized   = errors.New("unauthorized access")
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidInput   = errors.New("invalid input")
	ErrConflict       = errors.New("conflict: resource already exists")
	ErrInternal       = errors.New("internal server error")
	ErrBadRequest     = errors.New("bad request")
	ErrDuplicateEntry = errors.New("duplicate entry")
	ErrLockBusy       = errors.New("lock is held by another worker")
)

// Router and reconciliation errors
var (
	// ErrRouterUnavailable covers connect, auth and timeout failures. Retryable.
	ErrRouterUnavailable = errors.New("router unavailable")
	// ErrRouterNotFound is returned when a secret or profile is absent on the router.
	ErrRouterNotFound = errors.New("router item not found")
	// ErrRouterConflict is a validation error reported by the router. Never retried.
	ErrRouterConflict = errors.New("router rejected request")
	// ErrInconsistentSubscriber means the subscriber cannot be evaluated (e.g. dangling package reference).
	ErrInconsistentSubscriber = errors.New("inconsistent subscriber")
	// ErrPersistence is a database write failure after a successful router mutation.
	ErrPersistence = errors.New("persistence failure")
)

// Wrap adds context to an error (similar to fmt.Errorf("%w")).
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is allows checking whether an error is a specific sentinel error.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Unwrap extracts the underlying wrapped error.
func Unwrap(err error) error {
	return errors.Unwrap(err)
}

// MessageOrDefault returns err.Error() or a fallback message if err is nil.
func MessageOrDefault(err error, fallback string) string {
	if err != nil {
		return err.Error()
	}
	return fallback
}

// Kind returns a short label for the error class, used in logs and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrRouterUnavailable):
		return "router_unavailable"
	case errors.Is(err, ErrRouterNotFound):
		return "router_not_found"
	case errors.Is(err, ErrRouterConflict):
		return "router_conflict"
	case errors.Is(err, ErrInconsistentSubscriber):
		return "inconsistent_subscriber"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	case errors.Is(err, ErrLockBusy):
		return "lock_busy"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
