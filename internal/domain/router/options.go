package router

import "github.com/okian/askbot/pkg/logger"

// Option applies a configuration option to the Router.
type Option func(*Router)

// WithKeywords sets the trigger keywords. Matching ignores case.
func WithKeywords(keywords ...string) Option {
	return func(r *Router) {
		r.keywords = keywords
	}
}

// WithMaxContent caps inbound content, in runes.
func WithMaxContent(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.maxContent = n
		}
	}
}

// WithHintURL sets the page suggested to users asking about inactive accounts.
func WithHintURL(url string) Option {
	return func(r *Router) {
		r.hintURL = url
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Router) {
		r.logger = l
	}
}
