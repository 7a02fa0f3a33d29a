// Package errs defines the error taxonomy shared by every arbiter component.
//
// Each failure is an *Error carrying a stable code and unwrapping to one or
// more kind sentinels, so callers can match either the broad kind
// (errors.Is(err, errs.StateConflict)) or the specific error value.
package errs

import (
	"errors"
	"strings"
)

// Kinds.
var (
	Validation    = errors.New("validation error")
	Authorization = errors.New("authorization error")
	StateConflict = errors.New("state conflict")
	Timing        = errors.New("timing error")
	Funds         = errors.New("funds error")
	Consensus     = errors.New("consensus error")
	Registry      = errors.New("registry error")
	Signature     = errors.New("signature error")
	NotFound      = errors.New("not found")
)

// Error is a coded failure of a single operation.
type Error struct {
	code  string
	msg   string
	kinds []error
}

// New returns an error with the given code and message belonging to kinds.
func New(code, msg string, kinds ...error) *Error {
	return &Error{code: code, msg: msg, kinds: kinds}
}

func (e *Error) Error() string { return e.msg }

// Code returns the stable machine-readable code.
func (e *Error) Code() string { return e.code }

// Unwrap exposes the kinds to errors.Is.
func (e *Error) Unwrap() []error { return e.kinds }

// Code returns the code of the first *Error in err's chain, or "Internal".
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}
	return "Internal"
}

// KindOf returns the primary kind of err, or nil if err carries no kind.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) && len(e.kinds) > 0 {
		return e.kinds[0]
	}
	return nil
}

// KindName returns a short name for the primary kind of err.
func KindName(err error) string {
	k := KindOf(err)
	if k == nil {
		return "internal"
	}
	return strings.ReplaceAll(k.Error(), " ", "_")
}
