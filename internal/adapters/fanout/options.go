package fanout

import (
	"time"

	"github.com/okian/askbot/pkg/logger"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithBatchSize sets how many keys are queried at once.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithMaxListeners caps concurrent subscriptions regardless of batch size.
func WithMaxListeners(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxListeners = n
		}
	}
}

// WithWindow sets the window used when a call passes a non-positive one.
func WithWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.window = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}
