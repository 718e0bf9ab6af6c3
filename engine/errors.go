package engine

import "errors"

var (
	// ErrNotFound is returned when an operation requires an existing key
	// that has never been seen (or was deleted).
	ErrNotFound = errors.New("limiter not found")

	// ErrInvalidArgument is returned for negative points/duration/refill
	// rates, non-positive capacities, or an empty key.
	ErrInvalidArgument = errors.New("invalid argument")
)
