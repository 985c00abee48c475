package webservice

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrInternal is an error of the service, or of the request when Code is
// a 4xx status.
type ErrInternal struct {
	cause error
	msg   string
	Code  int
}

func NewErrInternal(cause error, message string) *ErrInternal {
	return &ErrInternal{cause: cause, msg: message, Code: http.StatusInternalServerError}
}

func NewErrBadRequest(cause error, message string) *ErrInternal {
	return &ErrInternal{cause: cause, msg: message, Code: http.StatusBadRequest}
}

func (e *ErrInternal) Error() string {
	return fmt.Sprintf("%s: %v", e.msg, e.cause)
}

func (e *ErrInternal) Unwrap() error { return e.cause }

// Report sends the error to web client also logs to console.
func (e *ErrInternal) Report(w http.ResponseWriter) {
	http.Error(w, e.Error(), e.Code)
	logger().WithField("status", e.Code).Warn(e)
}

// ErrUnknownLang is returned for an unsupported lang parameter.
var ErrUnknownLang = errors.New("unknown input language")
