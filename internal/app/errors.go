package service

import "errors"

// Sentinel error kinds returned by the service. The HTTP layer maps them to
// status codes with errors.Is.
var (
	// ErrValidation rejects a request before storage is touched.
	ErrValidation = errors.New("validation failed")

	// ErrStorageUnavailable reports a failed or timed out store call.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNotConfigured means the process runs without a store.
	ErrNotConfigured = errors.New("leaderboard storage not configured")
)
