package store

import "errors"

var (
	// ErrNotFound is returned when an object or operation id does not exist
	// in the store. It is never retried; callers surface it.
	ErrNotFound = errors.New("object not found")

	// ErrCorrupt is returned when stored bytes do not hash back to the id
	// they were filed under. Fatal for the command that hit it.
	ErrCorrupt = errors.New("corrupt object")

	// ErrLockContended is returned when the advisory lock could not be
	// acquired within the retry budget.
	ErrLockContended = errors.New("lock contended")
)
