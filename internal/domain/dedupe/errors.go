package dedupe

import "errors"

// ErrInvalidSize is returned when the configured capacity is not positive.
var ErrInvalidSize = errors.New("invalid dedupe size")
