package store

import (
	"errors"
	"fmt"

	"fleetctl/apperrors"
)

// ErrNotFound is returned when a referenced wallet, cluster, or operation
// does not exist.
var ErrNotFound = apperrors.ErrNotFound

// ErrConflict is returned when a write would violate a uniqueness invariant
// (duplicate wallet name/address, duplicate cluster name, duplicate swing
// config key) or an operation-status transition is out of order.
var ErrConflict = apperrors.ErrStateConflict

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// IsNotFound reports whether err represents a missing entity.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err represents a uniqueness or transition
// conflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }
