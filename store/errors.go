package store

import "errors"

var (
	// ErrNotFound is returned when a document doesn't exist.
	ErrNotFound = errors.New("store: document not found")

	// ErrAlreadyExists is returned when creating a document with an existing id.
	ErrAlreadyExists = errors.New("store: document already exists")

	// ErrInvalidArgument is returned for malformed paths, ids or field paths.
	ErrInvalidArgument = errors.New("store: invalid argument")

	// ErrTooManyOps is returned when a commit exceeds the per-transaction operation limit.
	ErrTooManyOps = errors.New("store: too many operations in one transaction")
)
