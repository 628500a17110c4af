package topics

import (
	"context"
	"io"
	"sync"

	"go.uber.org/atomic"
)

// subscriptionID is only unique within a single Topic
type subscriptionID uint

// Subscription receives the values published on a Topic.
// Values published while its buffer is full are lost for this subscriber
// and counted in Dropped.
// Subscription MUST always be closed with Close() when no longer used.
type Subscription[T any] struct {
	id      subscriptionID
	send    chan T // Only used by the Topic, under its lock
	dropped atomic.Uint64

	mu    sync.Mutex
	topic *Topic[T]
	ch    <-chan T
}

// Channel returns the chan that can be used to receive values from this
// subscription. It returns nil after Close.
func (s *Subscription[T]) Channel() <-chan T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

// Dropped returns how many values this subscription missed.
func (s *Subscription[T]) Dropped() uint64 {
	return s.dropped.Load()
}

// Next blocks until the next value is available, or until the context is
// closed. It returns io.ErrClosedPipe once the subscription is closed.
func (s *Subscription[T]) Next(ctx context.Context) (value T, err error) {
	var zero T
	ch := s.Channel()
	if ch == nil {
		return zero, io.ErrClosedPipe
	}
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case v, ok := <-ch:
		if !ok {
			return zero, io.ErrClosedPipe
		}
		return v, nil
	}
}

// Close terminates this subscription and closes its channel. It is safe to
// call more than once, from any goroutine.
func (s *Subscription[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.topic == nil {
		return
	}
	s.topic.unsubscribeID(s.id)
	s.ch = nil
	s.topic = nil
}
