package session

import (
	"context"
	"sync"
)

// Outbox is the FIFO between Send callers and the writer goroutine.
// Any number of producers may Push; exactly one consumer may Pop.
type Outbox[M any] struct {
	mu     sync.Mutex
	items  []M
	limit  int
	closed bool
	notify chan struct{}
}

// NewOutbox returns an outbox holding at most limit items; limit <= 0 is unbounded.
func NewOutbox[M any](limit int) *Outbox[M] {
	return &Outbox[M]{
		limit:  limit,
		notify: make(chan struct{}, 1),
	}
}

// Push enqueues msg without blocking.
func (o *Outbox[M]) Push(msg M) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrNotRunning
	}
	if o.limit > 0 && len(o.items) >= o.limit {
		o.mu.Unlock()
		return ErrQueueFull
	}
	o.items = append(o.items, msg)
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
	return nil
}

// Pop waits for the oldest item or ctx cancellation.
func (o *Outbox[M]) Pop(ctx context.Context) (M, error) {
	var zero M
	for {
		o.mu.Lock()
		if len(o.items) > 0 {
			msg := o.items[0]
			o.items[0] = zero
			o.items = o.items[1:]
			o.mu.Unlock()
			return msg, nil
		}
		closed := o.closed
		o.mu.Unlock()
		if closed {
			return zero, ErrNotRunning
		}

		select {
		case <-o.notify:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

func (o *Outbox[M]) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}

// Clear closes the outbox and returns how many queued items were dropped.
func (o *Outbox[M]) Clear() int {
	o.mu.Lock()
	dropped := len(o.items)
	o.items = nil
	o.closed = true
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
	return dropped
}
