// Package execctx implements the per-execution telemetry scope.
//
// An Execution represents one logical unit of work (an HTTP request or a
// background job). It is attached to a context.Context and carries one
// event buffer per collector. Executions are never shared: every request
// gets its own, and collectors look it up through the context they are
// handed. A collector that fires outside any Execution gets a nil
// *Execution, and all methods on a nil *Execution are no-ops.
//
// Starting an Execution on a context that already carries one resets the
// existing Execution instead of nesting a new one. Re-entrant tracking is
// not supported.
package execctx

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type ctxKey struct{}

// Execution holds the telemetry state of a single request or job.
type Execution struct {
	// mu protects everything below. Only goroutines spawned by the same
	// request can contend on it.
	mu        sync.Mutex
	id        string
	startedAt time.Time
	stopped   bool
	buffers   map[string]*buffer
	limits    map[string]int
	attrs     map[string]any
}

type buffer struct {
	events  []any
	evicted int
}

// Start attaches a fresh Execution to the returned context.
// If id is empty, a random UUID is used.
// If parent already carries an Execution, it is reset and reused.
func Start(parent context.Context, id string) (context.Context, *Execution) {
	if parent == nil {
		parent = context.Background()
	}
	if id == "" {
		id = uuid.NewString()
	}
	if e := From(parent); e != nil {
		e.reset(id)
		return parent, e
	}
	e := &Execution{}
	e.reset(id)
	return context.WithValue(parent, ctxKey{}, e), e
}

// From returns the Execution attached to ctx, or nil if we are not tracking.
func From(ctx context.Context) *Execution {
	if ctx == nil {
		return nil
	}
	e, _ := ctx.Value(ctxKey{}).(*Execution)
	return e
}

// Active returns true if ctx carries an Execution that was not stopped yet.
func Active(ctx context.Context) bool {
	return From(ctx).Active()
}

func (e *Execution) reset(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.id = id
	e.startedAt = time.Now()
	e.stopped = false
	e.buffers = make(map[string]*buffer)
	e.limits = make(map[string]int)
	e.attrs = make(map[string]any)
}

// ID returns the correlation id of the Execution.
func (e *Execution) ID() string {
	if e == nil {
		return ""
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.id
}

// StartedAt returns when the Execution was started.
func (e *Execution) StartedAt() time.Time {
	if e == nil {
		return time.Time{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startedAt
}

// Active returns false for a nil or stopped Execution.
func (e *Execution) Active() bool {
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.stopped
}

// SetLimit bounds the number of events kept for a collector. When the
// buffer is full, the oldest event is evicted. A limit <= 0 means
// unbounded.
func (e *Execution) SetLimit(collector string, limit int) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.limits[collector] = limit
}

// Append adds an event to the buffer of a collector.
func (e *Execution) Append(collector string, ev any) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	b := e.buffers[collector]
	if b == nil {
		b = &buffer{}
		e.buffers[collector] = b
	}
	if limit := e.limits[collector]; limit > 0 && len(b.events) >= limit {
		b.events[0] = nil // release for GC
		b.events = b.events[1:]
		b.evicted++
	}
	b.events = append(b.events, ev)
}

// Buffer returns a copy of the events currently held for a collector.
func (e *Execution) Buffer(collector string) []any {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	b := e.buffers[collector]
	if b == nil || len(b.events) == 0 {
		return nil
	}
	out := make([]any, len(b.events))
	copy(out, b.events)
	return out
}

// Drain returns the events of a collector and clears its buffer.
func (e *Execution) Drain(collector string) []any {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	b := e.buffers[collector]
	if b == nil {
		return nil
	}
	events := b.events
	b.events = nil
	return events
}

// Evicted returns how many events were dropped from a collector buffer
// because of its limit.
func (e *Execution) Evicted(collector string) int {
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if b := e.buffers[collector]; b != nil {
		return b.evicted
	}
	return 0
}

// Set stores a small attribute on the Execution.
func (e *Execution) Set(key string, value any) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.attrs[key] = value
}

// Get retrieves an attribute set with Set.
func (e *Execution) Get(key string) (value any, ok bool) {
	if e == nil {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	value, ok = e.attrs[key]
	return value, ok
}

// GetBool is a convenience wrapper around Get for boolean attributes.
func (e *Execution) GetBool(key string) bool {
	v, _ := e.Get(key)
	b, _ := v.(bool)
	return b
}

// Stop returns all remaining buffers and clears the Execution. Any later
// Append is ignored.
func (e *Execution) Stop() map[string][]any {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return nil
	}
	out := make(map[string][]any, len(e.buffers))
	for name, b := range e.buffers {
		if len(b.events) > 0 {
			out[name] = b.events
		}
	}
	e.stopped = true
	e.buffers = nil
	e.limits = nil
	return out
}
