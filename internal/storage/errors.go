package storage

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStatusConflict is returned when a compare-and-set transition finds a
	// document in a status other than the expected one.
	ErrStatusConflict = errors.New("document status conflict")

	// ErrNoChunks is returned when completing a document without chunks.
	ErrNoChunks = errors.New("document has no chunks")

	// ErrInvalid is returned for records missing required fields.
	ErrInvalid = errors.New("invalid record")
)
