package ssabuilder

import (
	"errors"
	"fmt"
)

var (
	ErrNoFiles   = errors.New("no files specified for analysis")
	ErrBuildMode = errors.New("unknown build mode")
	ErrNoFuncs   = errors.New("no function could be lowered")
)

// UnsupportedError is returned when a function uses Go features that have
// no ir counterpart.
type UnsupportedError struct {
	Func   string
	Reason string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s: unsupported %s", e.Func, e.Reason)
}
