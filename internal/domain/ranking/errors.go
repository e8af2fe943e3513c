package ranking

import "errors"

// Sentinel kinds for ranking errors.
var (
	ErrMalformedKey = errors.New("malformed sort key")
)
