package fanout

import "errors"

// Sentinel errors for the fan-out engine.
var (
	// ErrInterrupted means a key's subscription ended before it resolved,
	// so its absence says nothing about the relay's contents.
	ErrInterrupted = errors.New("fan-out subscription interrupted")
)
