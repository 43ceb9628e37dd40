package entity

import (
	"errors"
	"fmt"
)

// Standard domain errors
var (
	ErrValidation        = errors.New("invalid request payload")
	ErrUpstream          = errors.New("upstream model request failed")
	ErrUpstreamTimeout   = errors.New("upstream model timed out")
	ErrRateLimitExceeded = errors.New("rate limit exceeded: too many tokens used")
	ErrConfiguration     = errors.New("invalid configuration")
	ErrUnknownMode       = errors.New("unknown analysis mode")
)

// UpstreamError describes a failed call to the vision model. Retryable tells the
// caller whether resubmitting the same request may succeed.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Retryable  bool
	Timeout    bool
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s upstream (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s upstream: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the sentinel for the error's class.
func (e *UpstreamError) Is(target error) bool {
	switch target {
	case ErrUpstream:
		return true
	case ErrUpstreamTimeout:
		return e.Timeout
	}
	return false
}

// IsRetryable reports whether err is an UpstreamError marked retryable.
func IsRetryable(err error) bool {
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return upErr.Retryable
	}
	return false
}
