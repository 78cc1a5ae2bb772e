package relay

import (
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/okian/askbot/pkg/logger"
)

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithBackoff sets the reconnect base delay and cap.
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(m *Manager) {
		if base > 0 && maxDelay >= base {
			m.backoff = Backoff{Base: base, Cap: maxDelay}
		}
	}
}

// WithCutoverGrace sets how far before the connect time the standing
// subscription starts.
func WithCutoverGrace(grace time.Duration) Option {
	return func(m *Manager) {
		if grace >= 0 {
			m.grace = grace
		}
	}
}

// WithRequestRate limits outbound REQ frames. perSecond <= 0 disables it.
func WithRequestRate(perSecond float64, burst int) Option {
	return func(m *Manager) {
		if perSecond <= 0 {
			m.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithKeepalive sets the ping interval and how long to wait for a pong.
func WithKeepalive(pingInterval, pongTimeout time.Duration) Option {
	return func(m *Manager) {
		if pingInterval > 0 {
			m.pingInterval = pingInterval
		}
		if pongTimeout > 0 {
			m.pongTimeout = pongTimeout
		}
	}
}

// WithStandingKinds sets the kinds requested by the standing subscription.
func WithStandingKinds(kinds ...int) Option {
	return func(m *Manager) {
		if len(kinds) > 0 {
			m.kinds = kinds
		}
	}
}

// WithBufferSize sets the per-subscription event buffer.
func WithBufferSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.bufferSize = n
		}
	}
}

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(m *Manager) {
		if d != nil {
			m.dialer = d
		}
	}
}

// WithClock overrides the time source used for the cutover.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}
