package httpclient

import (
	"errors"
	"fmt"
	"time"
)

// RetryableError marks a failure that exhausted the retry budget but was of
// a transient nature. Callers use IsRetryable to drive provider fallback.
type RetryableError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *RetryableError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("HTTP %d: %s (retry after %v)", e.StatusCode, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func (e *RetryableError) IsRetryable() bool {
	return true
}

// IsRetryable reports whether err (or any wrapped error) is transient.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}
