package dedupe

// Option applies a configuration option to the deduper.
type Option func(*lruDeduper)

// WithMaxSize sets the maximum number of IDs to keep in memory.
// Must be positive.
func WithMaxSize(maxSize int) Option {
	return func(d *lruDeduper) {
		d.maxSize = maxSize
	}
}
