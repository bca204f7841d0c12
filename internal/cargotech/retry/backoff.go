package retry

import "time"

// maxShift keeps base<<n from overflowing.
const maxShift = 20

// Backoff is the wait before retry n (0-based): base×2^n + jitter.
// Callers draw jitter from [0, jitterMax]; keeping the draw outside makes
// the schedule deterministic for a given input.
func Backoff(base time.Duration, n int, jitter time.Duration) time.Duration {
	if n < 0 {
		n = 0
	}
	if n > maxShift {
		n = maxShift
	}
	if jitter < 0 {
		jitter = 0
	}
	return base<<n + jitter
}

// Schedule returns the [min, max] wait for every retry of a policy.
func Schedule(p Policy) [][2]time.Duration {
	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	out := make([][2]time.Duration, retries)
	for n := range retries {
		out[n] = [2]time.Duration{Backoff(p.Base, n, 0), Backoff(p.Base, n, p.JitterMax)}
	}
	return out
}
