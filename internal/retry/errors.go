// Package retry wraps event store operations in a fixed-delay retry policy and
// classifies their failures as retriable or fatal.
package retry

import "errors"

// RetriableError marks a failure that may succeed if the operation is retried.
type RetriableError struct {
	Err error
}

func (e *RetriableError) Error() string {
	return e.Err.Error()
}

func (e *RetriableError) Unwrap() error {
	return e.Err
}

// FatalError marks a failure the caller cannot recover from, including a
// retriable failure that exhausted its attempts.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return "fatal: " + e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Retriable wraps err as a RetriableError. A nil error stays nil.
func Retriable(err error) error {
	if err == nil {
		return nil
	}
	return &RetriableError{Err: err}
}

// Fatal wraps err as a FatalError. A nil error stays nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsRetriable checks if an error is a RetriableError and not a FatalError.
func IsRetriable(err error) bool {
	if IsFatal(err) {
		return false
	}
	var re *RetriableError
	return errors.As(err, &re)
}

// IsFatal checks if an error is a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
