package domain

import "errors"

var (
	// ErrInvalidGeometry is returned when a coordinate list is empty or a
	// point has fewer than two components. Fatal on synchronous create and
	// update paths; counted as a skip on batch import and migration paths.
	ErrInvalidGeometry = errors.New("invalid geometry")

	// ErrNotFound is returned when a referenced device, segment, or alert
	// does not exist. Query-style read paths return empty results instead.
	ErrNotFound = errors.New("not found")
)
