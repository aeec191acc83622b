package dispatch

import (
	"context"
	"iter"
	"sync"

	"yqhp/work-queue/pkg/types"
)

// Channel carries assignments to workers and buffers worker traffic for the
// master loop.
type Channel interface {
	// Send delivers a task to a connected worker. It fails with
	// types.ErrUnreachable when the worker has no live connection.
	Send(ctx context.Context, workerID string, task *types.Task) error

	// Poll yields the events buffered when it is called. A new call is needed
	// to see events that arrive later.
	Poll() iter.Seq[*types.Event]

	// Ready is signalled whenever events are buffered.
	Ready() <-chan struct{}

	Close() error
}

// Disconnector is implemented by channels that can drop a worker connection
// the master has evicted.
type Disconnector interface {
	Disconnect(workerID string) error
}

// EventBuffer is the event queue shared by the transports.
type EventBuffer struct {
	mu     sync.Mutex
	events []*types.Event
	ready  chan struct{}
}

// NewEventBuffer creates an empty buffer.
func NewEventBuffer() *EventBuffer {
	return &EventBuffer{ready: make(chan struct{}, 1)}
}

// Push appends an event and signals Ready.
func (b *EventBuffer) Push(ev *types.Event) {
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// Drain yields the events buffered at call time. Events pushed during
// iteration stay for the next Drain.
func (b *EventBuffer) Drain() iter.Seq[*types.Event] {
	return func(yield func(*types.Event) bool) {
		b.mu.Lock()
		batch := b.events
		b.events = nil
		b.mu.Unlock()

		for i, ev := range batch {
			if !yield(ev) {
				b.requeue(batch[i+1:])
				return
			}
		}
	}
}

// requeue puts unconsumed events back in front.
func (b *EventBuffer) requeue(rest []*types.Event) {
	if len(rest) == 0 {
		return
	}
	b.mu.Lock()
	b.events = append(append([]*types.Event{}, rest...), b.events...)
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// Len returns the number of buffered events.
func (b *EventBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Ready is signalled after Push.
func (b *EventBuffer) Ready() <-chan struct{} {
	return b.ready
}
