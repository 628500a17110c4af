// Package topics implements a small in-process publish/subscribe mechanism.
//
// Publishers never block: a subscriber that does not keep up misses
// values, which are counted as dropped.
package topics

import (
	"context"
	"sync"

	"go.uber.org/atomic"
)

// DefaultBuffer is the channel buffer size of a new Subscription.
const DefaultBuffer = 16

// New returns a new Topic
func New[T any]() *Topic[T] {
	return &Topic[T]{
		subscribers: make(map[subscriptionID]*Subscription[T]),
	}
}

// NewWithInitial returns a new Topic that is pre-seeded with a last value.
func NewWithInitial[T any](v T) *Topic[T] {
	t := New[T]()
	t.last = v
	t.hasLast = true
	return t
}

// Topic is a single topic that subscribers can Subscribe() to
type Topic[T any] struct {
	mu          sync.Mutex
	subscribers map[subscriptionID]*Subscription[T]
	lastID      subscriptionID
	last        T
	hasLast     bool

	dropped atomic.Uint64
}

// Publish publishes a new value to all subscribers that have room for it.
// It never blocks.
func (t *Topic[T]) Publish(v T) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.last = v
	t.hasLast = true
	for _, sub := range t.subscribers {
		select {
		case sub.send <- v:
		default:
			sub.dropped.Inc()
			t.dropped.Inc()
		}
	}
}

// Dropped returns how many values were not delivered to a subscriber
// because its buffer was full.
func (t *Topic[T]) Dropped() uint64 {
	return t.dropped.Load()
}

// Last returns the last published value, if available
func (t *Topic[T]) Last() (value T, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.hasLast {
		var zero T
		return zero, false
	}
	return t.last, true
}

// Subscribe creates a new Subscription with a channel buffer of
// DefaultBuffer values.
// If sendLast is set, we will immediately send the last value, if any.
func (t *Topic[T]) Subscribe(sendLast bool) *Subscription[T] {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan T, DefaultBuffer)

	t.lastID++
	id := t.lastID

	sub := &Subscription[T]{
		id:    id,
		topic: t,
		ch:    ch,
		send:  ch,
	}
	t.subscribers[id] = sub

	if sendLast && t.hasLast {
		// Will not block, because the channel is new and buffered, and
		// nothing else can publish into this while we hold the lock.
		ch <- t.last
	}
	return sub
}

// Handle makes it easy to consume a topic with a simple handler func.
// This function only returns when the callback returns an error or
// the context is canceled.
func (t *Topic[T]) Handle(ctx context.Context, cb func(T) error) error {
	sub := t.Subscribe(false)
	defer sub.Close()
	for {
		v, err := sub.Next(ctx)
		if err != nil {
			return err
		}
		if err := cb(v); err != nil {
			return err
		}
	}
}

// unsubscribeID is called by Subscription.Close()
// It removes a subscription.
func (t *Topic[T]) unsubscribeID(id subscriptionID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sub, exists := t.subscribers[id]
	if !exists {
		return
	}
	close(sub.send)
	delete(t.subscribers, id)
}
