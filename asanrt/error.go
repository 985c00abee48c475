package asanrt

import "errors"

var (
	// ErrNoFrame is returned when the stack is used outside any frame.
	ErrNoFrame = errors.New("asanrt: no active stack frame")

	// ErrUnknownFunction is returned by Call for names the runtime does
	// not implement.
	ErrUnknownFunction = errors.New("asanrt: unknown runtime function")

	// ErrBadArgs is returned when a runtime function gets too few
	// arguments.
	ErrBadArgs = errors.New("asanrt: bad arguments")
)
