package relay

import "time"

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Default reconnect policy.
const (
	DefaultBackoffBase = time.Second
	DefaultBackoffCap  = 30 * time.Second
)

// Backoff is a capped exponential reconnect policy.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// Delay returns min(Cap, 2^attempt * Base). Negative attempts count as zero.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 || b.Cap <= 0 {
		return 0
	}
	d := b.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.Cap {
			return b.Cap
		}
	}
	if d > b.Cap {
		return b.Cap
	}
	return d
}
