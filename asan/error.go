package asan

import "errors"

var (
	// ErrNoAddress is returned when a classified access has no pointer.
	ErrNoAddress = errors.New("asan: access without address")

	// ErrBadAccessSize is returned for access sizes the checks cannot encode.
	ErrBadAccessSize = errors.New("asan: bad access size")

	// ErrMissingMember is returned when a merged check has no members.
	ErrMissingMember = errors.New("asan: merged check without members")

	// ErrNotInstrumentable is returned for functions the pass must not touch.
	ErrNotInstrumentable = errors.New("asan: function cannot be instrumented")
)
