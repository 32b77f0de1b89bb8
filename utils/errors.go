package utils

import "errors"

type PermError string

func (e PermError) Error() string {
	return string(e)
}

func (e PermError) IsPermanent() bool {
	return true
}

// permanentError marks a cause as not retryable while keeping it on the error
// chain, so errors.Is/As still match the wrapped sentinel.
type permanentError struct {
	err error
}

func (e permanentError) Error() string {
	return e.err.Error()
}

func (e permanentError) Unwrap() error {
	return e.err
}

func (e permanentError) IsPermanent() bool {
	return true
}

// NewPermError wraps err so the retry loop stops immediately without losing
// the chain.
func NewPermError(err error) error {
	return permanentError{err: err}
}

// IsPermanentError reports whether err (or anything it wraps) should not be retried.
func IsPermanentError(err error) bool {
	var pe interface{ IsPermanent() bool }
	return errors.As(err, &pe)
}
