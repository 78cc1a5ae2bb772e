// Package fanout answers one question per key across many short-lived
// relay subscriptions, batched so the relay never sees more than a fixed
// number of concurrent listeners from us.
package fanout

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/errgroup"

	"github.com/okian/askbot/internal/adapters/relay"
	"github.com/okian/askbot/internal/domain/model"
	"github.com/okian/askbot/pkg/logger"
	"github.com/okian/askbot/pkg/metrics"
)

// Default engine configuration constants.
const (
	defaultBatchSize    = 50
	defaultMaxListeners = 50
	defaultWindow       = 5 * time.Second
)

// Subscriber opens ad-hoc relay subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context, filter model.Filter) (*relay.Subscription, error)
}

// Result is the outcome for one key. Found is false when the key is Absent.
// Err is set when the key could not be queried at all; such a key is not
// Absent, it is unknown.
type Result struct {
	Key   string
	Event model.Event
	Found bool
	Err   error
}

// Engine runs batched fan-out queries.
type Engine struct {
	sub          Subscriber
	batchSize    int
	maxListeners int
	window       time.Duration
	logger       logger.Logger
}

// NewEngine creates an engine over sub.
func NewEngine(sub Subscriber, opts ...Option) *Engine {
	e := &Engine{
		sub:          sub,
		batchSize:    defaultBatchSize,
		maxListeners: defaultMaxListeners,
		window:       defaultWindow,
		logger:       logger.Get().Named("fanout"),
	}

	// Apply all options
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BatchSize is the number of keys queried concurrently.
func (e *Engine) BatchSize() int {
	return max(1, min(e.batchSize, e.maxListeners))
}

// Query resolves every distinct key to exactly one Result. Keys are split
// into batches run one after another; each batch lives at most window, so
// the call returns within batches*window. A key resolves on the first event
// matching build(key), or as Absent on EOSE without a match or on expiry.
// Keys whose subscription could not be opened, or was dropped with the
// connection, carry Err instead.
func (e *Engine) Query(ctx context.Context, keys []string, build func(key string) model.Filter, window time.Duration) map[string]Result {
	if window <= 0 {
		window = e.window
	}

	seen := mapset.NewThreadUnsafeSet[string]()
	ordered := make([]string, 0, len(keys))
	for _, k := range keys {
		if seen.Add(k) {
			ordered = append(ordered, k)
		}
	}

	results := make(map[string]Result, len(ordered))
	var mu sync.Mutex
	size := e.BatchSize()

	for start := 0; start < len(ordered) && ctx.Err() == nil; start += size {
		batch := ordered[start:min(start+size, len(ordered))]
		began := time.Now()

		bctx, cancel := context.WithTimeout(ctx, window)
		g, gctx := errgroup.WithContext(bctx)
		for _, key := range batch {
			g.Go(func() error {
				ev, found, err := e.listen(gctx, build(key))
				mu.Lock()
				results[key] = Result{Key: key, Event: ev, Found: found, Err: err}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
		cancel()

		metrics.RecordFanoutBatchLatency(float64(time.Since(began).Milliseconds()))
		e.logger.Debug(ctx, "fan-out batch done",
			logger.Int("keys", len(batch)),
			logger.Duration("elapsed", time.Since(began)),
		)
	}

	// Keys never reached because ctx ended are Absent.
	for _, k := range ordered {
		r, ok := results[k]
		if !ok {
			r = Result{Key: k}
			results[k] = r
		}
		switch {
		case r.Err != nil:
			metrics.RecordFanoutKey("failed")
		case r.Found:
			metrics.RecordFanoutKey("found")
		default:
			metrics.RecordFanoutKey("absent")
		}
	}
	return results
}

// listen waits for the first event matching f. The subscription is always
// released before it returns. A subscription that closes while ctx is still
// live was dropped by the manager, which is reported as ErrInterrupted.
func (e *Engine) listen(ctx context.Context, f model.Filter) (model.Event, bool, error) {
	sub, err := e.sub.Subscribe(ctx, f)
	if err != nil {
		e.logger.Debug(ctx, "fan-out subscribe failed", logger.Error(err))
		return model.Event{}, false, fmt.Errorf("%w: %w", ErrInterrupted, err)
	}
	defer sub.Close()

	closed := func() (model.Event, bool, error) {
		if ctx.Err() != nil {
			return model.Event{}, false, nil
		}
		return model.Event{}, false, ErrInterrupted
	}

	events := sub.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return closed()
			}
			if f.Matches(ev) {
				return ev, true, nil
			}
		case <-sub.EOSE():
			// Stored events precede EOSE on the wire, so anything left is buffered.
			for {
				select {
				case ev, ok := <-events:
					if !ok {
						return closed()
					}
					if f.Matches(ev) {
						return ev, true, nil
					}
				default:
					return model.Event{}, false, nil
				}
			}
		case <-ctx.Done():
			return model.Event{}, false, nil
		}
	}
}

// Collect gathers every event matching f until EOSE or window, deduplicated
// by id and sorted newest first. f.Limit, when set, caps the result. A
// partial result is returned with ctx's error if the caller gave up.
func (e *Engine) Collect(ctx context.Context, f model.Filter, window time.Duration) ([]model.Event, error) {
	if window <= 0 {
		window = e.window
	}
	cctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	sub, err := e.sub.Subscribe(cctx, f)
	if err != nil {
		return nil, err
	}
	defer sub.Close()

	seen := mapset.NewThreadUnsafeSet[string]()
	var out []model.Event
	add := func(ev model.Event) {
		if f.Matches(ev) && seen.Add(ev.ID) {
			out = append(out, ev)
		}
	}

	events := sub.Events()
collect:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				break collect
			}
			add(ev)
		case <-sub.EOSE():
			for len(events) > 0 {
				ev, ok := <-events
				if !ok {
					break
				}
				add(ev)
			}
			break collect
		case <-cctx.Done():
			break collect
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	metrics.RecordCollectedEvents(len(out))

	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}
