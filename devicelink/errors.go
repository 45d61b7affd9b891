package devicelink

import (
	"errors"
	"fmt"
)

// Error kinds reported by the link. Use errors.Is to test for them.
var (
	ErrInvalidArg = errors.New("invalid argument")
	ErrPlist      = errors.New("plist error")
	ErrMux        = errors.New("mux error")
	ErrBadVersion = errors.New("bad version")
)

// Error is a device link failure of a given kind.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("devicelink %s: %s", e.Op, e.Kind)
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == e.Kind }

func newError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
