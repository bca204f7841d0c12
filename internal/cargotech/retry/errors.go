package retry

import (
	"errors"
	"fmt"
)

// ErrRateLimitExceeded is returned when every attempt was answered with 429.
var ErrRateLimitExceeded = errors.New("cargotech rate limit exceeded")

// TransientError is returned when the attempt budget ran out on network
// failures, timeouts or 5xx responses. It carries the last failure.
type TransientError struct {
	Op         string
	Attempts   int
	StatusCode int   // last HTTP status, 0 for network failures
	Err        error // last network error, nil for HTTP failures
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cargotech %s: transient failure after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("cargotech %s: transient failure after %d attempts: status %d", e.Op, e.Attempts, e.StatusCode)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is, or wraps, a *TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
