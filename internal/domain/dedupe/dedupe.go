// Package dedupe tracks recently handled event ids so each event is
// answered at most once, even when relays redeliver it.
package dedupe

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

const defaultMaxSize = 50000

// Deduper records seen event IDs to ensure at-most-once processing.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord removes an ID from the seen list, allowing it to be retried.
	// Used when an event was recorded but could not be enqueued.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// lruDeduper is a bounded Deduper. Once full, the least recently
// recorded id is evicted.
type lruDeduper struct {
	maxSize int
	cache   *lru.Cache
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) (Deduper, error) {
	d := &lruDeduper{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(d)
	}
	if d.maxSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, d.maxSize)
	}
	cache, err := lru.New(d.maxSize)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	d.cache = cache
	return d, nil
}

func (d *lruDeduper) SeenAndRecord(_ context.Context, id string) bool {
	seen, _ := d.cache.ContainsOrAdd(id, struct{}{})
	return seen
}

func (d *lruDeduper) Unrecord(_ context.Context, id string) {
	d.cache.Remove(id)
}

// Size returns the current number of entries in the deduper.
func (d *lruDeduper) Size() int64 {
	return int64(d.cache.Len())
}
