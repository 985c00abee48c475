package ir

import "errors"

var (
	ErrNoTerminator     = errors.New("block has no terminator")
	ErrTerminatorInside = errors.New("terminator in the middle of a block")
	ErrPhiNotAtTop      = errors.New("phi after non-phi instruction")
	ErrPhiMismatch      = errors.New("phi does not match predecessors")
	ErrForeignBlock     = errors.New("branch to a block of another function")
	ErrBadParent        = errors.New("instruction parent mismatch")
	ErrUndefinedValue   = errors.New("use of a value not defined in the function")
	ErrNotDominated     = errors.New("definition does not dominate use")
)
