package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrStatusChanged is returned when a guarded update matched no row
	// because the entity is no longer in the expected state.
	ErrStatusChanged = errors.New("entity state changed")

	// ErrCapacityReached is returned when an accept would exceed the
	// mechanic's concurrent job limit.
	ErrCapacityReached = errors.New("mechanic capacity reached")

	// ErrDuplicate is returned when a unique constraint is violated.
	ErrDuplicate = errors.New("duplicate entity")
)
