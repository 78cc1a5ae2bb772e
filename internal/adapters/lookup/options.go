package lookup

import (
	"time"

	"github.com/okian/askbot/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithCollectWindow bounds single-subscription lookups.
func WithCollectWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.collectWindow = d
		}
	}
}

// WithQueryWindow bounds each fan-out batch.
func WithQueryWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.queryWindow = d
		}
	}
}

// WithStaleAfter sets how old a last note may be before an account counts
// as inactive.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

// WithNoteURLPrefix sets the prefix of note links in image results.
func WithNoteURLPrefix(prefix string) Option {
	return func(s *Service) {
		if prefix != "" {
			s.noteURLPrefix = prefix
		}
	}
}

// WithLimit caps how many notes a notes or images lookup requests.
func WithLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithClock overrides the time source used for the inactivity horizon.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
