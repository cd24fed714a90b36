package db

import "errors"

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrConflict indicates a state transition lost to a concurrent one:
// the request was already in a terminal state when the update ran.
var ErrConflict = errors.New("request is already in a terminal state")
