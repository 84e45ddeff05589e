package channel

import "errors"

var (
	// ErrClosed is returned for commands issued after, or pending at, Close.
	ErrClosed = errors.New("messenger is closed")
	// ErrTimeout is returned when a command's optional timeout elapses.
	ErrTimeout = errors.New("command timed out")
	// ErrDuplicateID is returned when an ID generator repeats a pending ID.
	ErrDuplicateID = errors.New("duplicate correlation id")
	// ErrMalformed wraps every reason a wire message is rejected.
	ErrMalformed = errors.New("malformed message")
)
