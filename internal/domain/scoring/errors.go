package scoring

import "errors"

// Sentinel kinds for submission validation errors.
var (
	ErrInvalidTrack = errors.New("invalid track id")
)
