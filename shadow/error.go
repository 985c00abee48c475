package shadow

import "errors"

var (
	// ErrUnknownArch is returned when a target triple names an unsupported
	// architecture.
	ErrUnknownArch = errors.New("unknown target architecture")
)
