package state

import "errors"

// ErrNotFound is returned by backend reads for an unknown ID.
var ErrNotFound = errors.New("state: not found")

// Error wraps a backend I/O failure. Manager's mutating methods return it
// when the record write fails; a failed event write is logged instead.
// Callers that need the raw cause use errors.As.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return "state: " + e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }
