package identity

import "errors"

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrInvalidKey        = errors.New("invalid key")
	ErrInvalidSignature  = errors.New("invalid signature")
)
