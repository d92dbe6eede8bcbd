package adapter

import "errors"

// Class categorizes an adapter-internal error for retry and breaker
// decisions before it is counted against the adapter's breaker.
type Class string

const (
	ClassTransient  Class = "transient"
	ClassAuthFailed Class = "auth_failed"
	ClassNotFound   Class = "not_found"
	ClassRateLimited Class = "rate_limited"
	ClassMalformed  Class = "malformed"
	ClassFatal      Class = "fatal"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrRateLimited   = errors.New("adapter rate limit exceeded")
	ErrAuthFailed    = errors.New("adapter authentication failed")
	ErrUnsupported   = errors.New("capability not supported by this adapter")
)

// ClassifiedError wraps an error with the Class used to decide
// retry/breaker behavior in BaseAdapter.Call.
type ClassifiedError struct {
	Class Class
	Cause error
}

func (e *ClassifiedError) Error() string {
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return string(e.Class)
}

func (e *ClassifiedError) Unwrap() error { return e.Cause }

// Classify assigns a Class to err based on sentinel matches, defaulting
// to ClassTransient so unrecognized errors are still retried a bounded
// number of times rather than immediately fatal.
func Classify(err error) Class {
	if err == nil {
		return ""
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	case errors.Is(err, ErrRateLimited):
		return ClassRateLimited
	case errors.Is(err, ErrAuthFailed):
		return ClassAuthFailed
	default:
		return ClassTransient
	}
}

// Retryable reports whether a Class should be retried by BaseAdapter.Call.
func (c Class) Retryable() bool {
	return c == ClassTransient || c == ClassRateLimited
}
