package backend

import "errors"

var (
	// ErrClosed is returned by Invoke on a closed executable.
	ErrClosed = errors.New("executable is closed")

	// ErrUnknownMethod is returned when a program has no method with the requested name.
	ErrUnknownMethod = errors.New("unknown method")
)
