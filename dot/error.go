package dot

import "errors"

// ErrNoBody is returned for functions without a body.
var ErrNoBody = errors.New("function has no body")
