package store

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	// Returned for unknown conversations and for cache misses.
	ErrNotFound = errors.New("not found")
)
