package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrConditionFailed is returned when a guarded update matched no row
	// because the entity was no longer in an expected state.
	ErrConditionFailed = errors.New("entity not in expected state")

	// ErrDuplicate is returned when an insert violates a uniqueness rule.
	ErrDuplicate = errors.New("entity already exists")
)
