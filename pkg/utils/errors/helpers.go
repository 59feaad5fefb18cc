package errors

import stderrors "errors"

// FromError extracts the first Errno in err's chain.
func FromError(err error) *Errno {
	var e *Errno
	if stderrors.As(err, &e) {
		return e
	}
	return nil
}

// IsCode reports whether err carries an Errno with the given code.
func IsCode(err error, code int) bool {
	e := FromError(err)
	return e != nil && e.Code == code
}

// GetCode returns the Errno code of err, or 0 when err carries none.
func GetCode(err error) int {
	if e := FromError(err); e != nil {
		return e.Code
	}
	return 0
}

// Is is errors.Is, re-exported so callers need a single import.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As is errors.As, re-exported so callers need a single import.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
