// Package sentinel holds the dependency errors stores and the marketplace
// client return. Services translate them into domain errors in one place.
package sentinel

import "errors"

var (
	// ErrNotFound means the key, row or upstream resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyUsed means a unique key was already recorded, such as a
	// processed webhook's external ID.
	ErrAlreadyUsed = errors.New("already used")
)
