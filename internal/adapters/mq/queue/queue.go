// Package queue buffers inbound events between the relay reader and the workers.
//
// Enqueue never blocks: the reader must keep draining the socket, so a full
// queue rejects the event instead.
package queue

import (
	"context"
	"sync"

	"github.com/okian/askbot/internal/domain/model"
	"github.com/okian/askbot/pkg/metrics"
)

// DefaultCapacity is the queue size when none is configured.
const DefaultCapacity = 1024

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds an event. It returns ErrFull or ErrClosed instead of blocking.
	Enqueue(ctx context.Context, ev model.Event) error

	// Dequeue returns a channel that receives events in arrival order.
	// The channel is closed once the queue is closed and drained.
	Dequeue(ctx context.Context) <-chan model.Event

	// Len returns the current number of queued events.
	Len() int

	// Cap returns the configured capacity.
	Cap() int

	// Close stops accepting events. Buffered events can still be dequeued.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	events   chan model.Event
	capacity int

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity: DefaultCapacity,
	}

	// Apply all options
	for _, opt := range opts {
		opt(q)
	}

	q.events = make(chan model.Event, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)

	return q
}

// Enqueue adds an event to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, ev model.Event) error { //nolint:gocritic // hugeParam: Event is passed by value for channel semantics
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "closed")
		return ErrClosed
	}

	select {
	case <-ctx.Done():
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return ctx.Err()
	default:
	}

	select {
	case q.events <- ev:
		metrics.RecordQueueEnqueue()
		metrics.UpdateQueueSize(len(q.events))
		return nil
	default:
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "queue_full")
		return ErrFull
	}
}

// Dequeue returns a channel that will receive events as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan model.Event {
	out := make(chan model.Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-q.events:
				if !ok {
					return
				}
				metrics.RecordQueueDequeue()
				metrics.UpdateQueueSize(len(q.events))
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Len returns the current number of queued events.
func (q *InMemoryQueue) Len() int {
	return len(q.events)
}

// Cap returns the configured capacity.
func (q *InMemoryQueue) Cap() int {
	return q.capacity
}

// Close gracefully shuts down the queue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	close(q.events)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
