package mcl

import "github.com/embedmcl/mcl/api"

// Error wraps a non-OK api.Result returned by Init. The other Context
// operations return the lower packages' errors unwrapped. It implements
// Unwrap so callers can use
// errors.As/errors.Is against a cause from a lower package (e.g.
// arena.New's validation error) when one is present.
type Error struct {
	Code  api.Result
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return "mcl: " + e.Code.String() + ": " + e.cause.Error()
	}
	return "mcl: " + e.Code.String()
}

func (e *Error) Unwrap() error {
	return e.cause
}
