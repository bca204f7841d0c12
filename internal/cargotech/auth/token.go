package auth

import "time"

// Token is the upstream bearer token. The upstream does not report an
// expiry, so validity is bounded by a locally configured TTL.
type Token struct {
	Value      string
	AcquiredAt time.Time
	TTL        time.Duration
}

// ValidAt reports whether the token may still be used at now.
func (t *Token) ValidAt(now time.Time) bool {
	if t == nil || t.Value == "" {
		return false
	}
	return now.Sub(t.AcquiredAt) < t.TTL
}
