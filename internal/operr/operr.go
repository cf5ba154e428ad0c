package operr

import (
	"errors"
	"fmt"
)

// Error is a failure of one update step. Severe means the installation may be
// in neither the old nor the new layout and no automated recovery may follow.
// A non-severe error leaves the existing installation intact and relaunchable.
type Error struct {
	Message string
	Severe  bool
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a non-severe error.
func New(msg string, err error) *Error {
	return &Error{Message: msg, Err: err}
}

// Severe returns a severe error.
func Severe(msg string, err error) *Error {
	return &Error{Message: msg, Severe: true, Err: err}
}

// IsSevere reports whether any *Error in err's chain is severe.
// Errors that are not *Error are treated as non-severe.
func IsSevere(err error) bool {
	var opErr *Error
	if errors.As(err, &opErr) {
		return opErr.Severe
	}
	return false
}
