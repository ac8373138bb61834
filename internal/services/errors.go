package services

import "errors"

// ErrQueueFull is returned by Schedule when the target queue is at capacity.
// The caller must handle backpressure; the operation is never silently dropped.
var ErrQueueFull = errors.New("operation queue is full")

// ErrNotInitialized is returned when the manager is used before Initialize.
var ErrNotInitialized = errors.New("service manager not initialized")

// permanentError marks a failure that must not be retried: malformed payload,
// referenced entity gone, or a validation outcome that will not change.
type permanentError struct {
	err error
}

// Permanent wraps err as non-retryable. Returns nil for a nil err.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// IsPermanent reports whether err (or anything it wraps) was marked Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
