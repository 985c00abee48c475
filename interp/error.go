package interp

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownFunction = errors.New("interp: call to unknown function")
	ErrUndefinedValue  = errors.New("interp: use of undefined value")
	ErrUnreachable     = errors.New("interp: reached unreachable")
	ErrStepLimit       = errors.New("interp: step limit exceeded")
	ErrStackOverflow   = errors.New("interp: call depth exceeded")
	ErrDivideByZero    = errors.New("interp: integer division by zero")
	ErrUnsupported     = errors.New("interp: unsupported instruction")
	ErrBadArgs         = errors.New("interp: wrong number of arguments")
)

// ExitError is returned when the program calls exit or abort.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("interp: exit status %d", e.Code)
}
