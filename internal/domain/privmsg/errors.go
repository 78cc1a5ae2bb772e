package privmsg

import "errors"

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrDecryptFailure    = errors.New("decrypt failure")
)
