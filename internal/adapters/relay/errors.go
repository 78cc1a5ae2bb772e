package relay

import "errors"

// Sentinel kinds for relay errors.
var (
	// ErrConnection marks a transient transport failure; the manager retries.
	ErrConnection = errors.New("relay connection error")
	// ErrNotConnected is returned by Send, Publish and Subscribe while the
	// manager is not in the Connected state. Nothing is queued.
	ErrNotConnected = errors.New("relay not connected")
	// ErrMalformedFrame marks an inbound frame that could not be decoded.
	ErrMalformedFrame = errors.New("malformed relay frame")
)
