package speech

import (
	"errors"
	"fmt"
	"time"
)

// Common errors for the speech subsystem.
var (
	// ErrSynthesisFailed indicates the service rejected the request with a
	// non-retryable status. The unit is substituted with silence; it is
	// never retried.
	ErrSynthesisFailed = errors.New("speech synthesis failed")

	// ErrEmptyText is returned when synthesis is requested for an empty unit.
	ErrEmptyText = errors.New("empty text for synthesis")

	// ErrEmptyAudio is returned when the service responds with success but
	// no audio payload.
	ErrEmptyAudio = errors.New("synthesis response contained no audio")
)

// RateLimitedError reports a rate-limit response from the synthesis
// service, carrying the server-suggested delay if one was given.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// TransientError wraps a network-level fault that is worth retrying after
// a short jittered delay.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient synthesis error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the pipeline should retry the unit after
// this error. Rate limits and transient faults are retryable; everything
// else ends the unit's attempts.
func IsRetryable(err error) bool {
	var rl *RateLimitedError
	var tr *TransientError
	return errors.As(err, &rl) || errors.As(err, &tr)
}
