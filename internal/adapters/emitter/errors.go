package emitter

import "errors"

// ErrSignFailure is returned when a reply could not be sealed or signed.
// Nothing is transmitted in that case.
var ErrSignFailure = errors.New("sign failure")
