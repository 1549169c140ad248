package store

import "errors"

// Common storage errors.
var (
	// ErrNotFound is returned when an entity is not found.
	ErrNotFound = errors.New("entity not found")
	// ErrConflict is returned when an optimistic state transition loses the
	// race: the entity was modified (or claimed) by someone else.
	ErrConflict = errors.New("entity modified concurrently")
)
