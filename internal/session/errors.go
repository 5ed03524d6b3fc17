package session

import "errors"

// Sentinel errors for session operations, checked with errors.Is().
var (
	// ErrSessionNotFound indicates the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidRating indicates a rating outside the accepted [1,5] range.
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
)
