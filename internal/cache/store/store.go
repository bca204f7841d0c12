// Package store holds the cache backends: an in-process map for single
// instance deployments and Redis for shared caching.
package store

import (
	"time"
)

// Entry is one cached value.
type Entry struct {
	Key       string    `json:"key"`
	Tier      string    `json:"tier"`
	Value     []byte    `json:"value"`
	StoredAt  time.Time `json:"stored_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// FreshAt reports whether the entry is within its TTL at now.
func (e Entry) FreshAt(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}
