// Package worker runs the inbound event handler over the queue with a fixed
// number of goroutines. Replies to different triggers are not ordered.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/okian/askbot/internal/domain/model"
	"github.com/okian/askbot/pkg/logger"
	"github.com/okian/askbot/pkg/metrics"
)

// Default worker configuration constants.
const (
	DefaultWorkerCount  = 4
	defaultEventTimeout = 5 * time.Minute
)

// Handler processes one inbound event.
type Handler interface {
	Handle(ctx context.Context, ev model.Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev model.Event) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, ev model.Event) error { return f(ctx, ev) }

// Queue defines how workers receive events.
type Queue interface {
	Dequeue(ctx context.Context) <-chan model.Event
}

// Counters are the totals shared by the workers of a pool.
type Counters struct {
	processed atomic.Int64
	failed    atomic.Int64
}

// Processed is the number of events handled without error.
func (c *Counters) Processed() int64 { return c.processed.Load() }

// Failed is the number of events whose handler returned an error.
func (c *Counters) Failed() int64 { return c.failed.Load() }

// InMemoryWorker pulls events off a queue and hands them to a Handler.
type InMemoryWorker struct {
	queue    Queue
	handler  Handler
	name     string
	timeout  time.Duration
	counters *Counters

	done   chan struct{}
	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(queue Queue, handler Handler, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    queue,
		handler:  handler,
		name:     "worker",
		timeout:  defaultEventTimeout,
		counters: &Counters{},
		done:     make(chan struct{}),
		logger:   logger.Get().Named("worker"),
	}

	// Apply all options
	for _, opt := range opts {
		opt(w)
	}

	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}

	return w
}

// Counters returns the worker's totals.
func (w *InMemoryWorker) Counters() *Counters { return w.counters }

// Run handles events until the queue is drained and closed or ctx ends.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	events := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := w.process(ctx, ev); err != nil {
				w.logger.Debug(ctx, "event failed",
					logger.String("event_id", ev.ID),
					logger.Error(err))
			}
		}
	}
}

// Done is closed when Run returns.
func (w *InMemoryWorker) Done() <-chan struct{} { return w.done }

func (w *InMemoryWorker) process(ctx context.Context, ev model.Event) error { //nolint:gocritic // hugeParam: Event is passed by value for channel semantics
	start := time.Now()
	metrics.AddWorkerActive(1)
	defer func() {
		metrics.AddWorkerActive(-1)
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	if err := w.handler.Handle(ctx, ev); err != nil {
		w.counters.failed.Add(1)
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "handle_error")
		return fmt.Errorf("handle event %s: %w", ev.ID, err)
	}
	w.counters.processed.Add(1)
	return nil
}

// Pool manages multiple workers over one queue.
type Pool struct {
	workers  []*InMemoryWorker
	queue    Queue
	counters *Counters
	logger   logger.Logger
}

// NewPool creates a worker pool. A count below one uses DefaultWorkerCount.
func NewPool(workerCount int, queue Queue, handler Handler, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = DefaultWorkerCount
	}

	pool := &Pool{
		workers:  make([]*InMemoryWorker, workerCount),
		queue:    queue,
		counters: &Counters{},
		logger:   logger.Get().Named("worker-pool"),
	}

	for i := 0; i < workerCount; i++ {
		wopts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		w := NewInMemoryWorker(queue, handler, wopts...)
		w.counters = pool.counters
		pool.workers[i] = w
	}

	metrics.UpdateWorkerCount(workerCount)
	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Counters returns the pool's totals.
func (p *Pool) Counters() *Counters { return p.counters }

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Shutdown closes the queue and waits for the workers to drain it.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-ctx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			return fmt.Errorf("shutdown timed out: %w", ctx.Err())
		}
	}
	return nil
}
