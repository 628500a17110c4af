// Package breaker implements the circuit breaker that protects the host from
// a failing or slow collector.
//
// The breaker is the only telemetry state shared between executions. Every
// delivery outcome is fed back through OnSuccess or OnFailure, and Allow
// decides whether the next delivery is attempted at all.
package breaker

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/PowerDNS/perfagent/config"
	"github.com/PowerDNS/perfagent/config/logger"
	"github.com/PowerDNS/perfagent/utils"
)

// ErrOpen is returned by Call when the breaker does not allow the call.
var ErrOpen = errors.New("circuit breaker is open")

// State is the state of a Breaker
type State int32

// Breaker states
const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Options are optional Breaker settings.
type Options struct {
	Name   string             // Used in metrics and logs, defaults to "delivery"
	Logger logrus.FieldLogger // State transitions are logged here
	Clock  func() time.Time   // Defaults to time.Now
}

// Snapshot is a point in time copy of the Breaker state.
type Snapshot struct {
	State       State
	Failures    int
	LastFailure time.Time
	LastSuccess time.Time
}

// Breaker is a circuit breaker. It is safe for concurrent use.
type Breaker struct {
	conf config.Breaker
	name string
	now  func() time.Time
	l    logrus.FieldLogger

	mu          utils.MonitoredMutex
	state       State
	failures    int
	lastFailure time.Time
	lastSuccess time.Time
	probing     bool // A half-open test request is in flight
}

// New creates a Breaker in the Closed state.
func New(conf config.Breaker, opt Options) *Breaker {
	if conf.FailureThreshold < 1 {
		conf.FailureThreshold = 1
	}
	name := opt.Name
	if name == "" {
		name = "delivery"
	}
	now := opt.Clock
	if now == nil {
		now = time.Now
	}
	l := logger.OrNull(opt.Logger).WithField("component", "breaker").WithField("breaker", name)
	b := &Breaker{
		conf: conf,
		name: name,
		now:  now,
		l:    l,
	}
	b.mu.Logger = l
	b.mu.Name = "breaker"
	metricState.WithLabelValues(name).Set(float64(Closed))
	return b
}

// Allow returns true if a call may be attempted now.
//
// In the Open state, once ShouldAttemptReset is true, the breaker moves to
// HalfOpen and allows exactly one test request. Further calls are refused
// until the outcome of that request is reported.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if !b.shouldAttemptReset() {
			metricRejected.WithLabelValues(b.name).Inc()
			return false
		}
		b.transition(HalfOpen)
		b.probing = true
		return true
	case HalfOpen:
		if b.probing {
			metricRejected.WithLabelValues(b.name).Inc()
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// Cancel gives back a call granted by Allow that was never attempted. In
// the HalfOpen state this allows the next call to be the test request. It
// records neither a success nor a failure.
func (b *Breaker) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

// ShouldAttemptReset returns true once the recovery timeout or the retry
// timeout has elapsed since the last failure.
func (b *Breaker) ShouldAttemptReset() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shouldAttemptReset()
}

func (b *Breaker) shouldAttemptReset() bool {
	if b.lastFailure.IsZero() {
		return true
	}
	elapsed := b.now().Sub(b.lastFailure)
	return elapsed >= b.conf.RecoveryTimeout || elapsed >= b.conf.RetryTimeout
}

// OnSuccess records a successful call. The failure count is reset and the
// breaker closes.
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
	b.lastSuccess = b.now()
	b.transition(Closed)
}

// OnFailure records a failed call. A failed test request reopens the
// breaker, and reaching the failure threshold opens a closed one.
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.probing = false
	b.lastFailure = b.now()
	metricFailures.WithLabelValues(b.name).Inc()
	switch b.state {
	case HalfOpen:
		b.transition(Open)
	case Closed:
		if b.failures >= b.conf.FailureThreshold {
			b.transition(Open)
		}
	}
}

// Call runs fn if the breaker allows it and records the outcome. When the
// call is not allowed, fn is not run and ErrOpen is returned.
func (b *Breaker) Call(fn func() error) error {
	if !b.Allow() {
		return ErrOpen
	}
	if err := fn(); err != nil {
		b.OnFailure()
		return err
	}
	b.OnSuccess()
	return nil
}

// Reset forces the breaker back to Closed with no failures.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
	b.lastFailure = time.Time{}
	b.transition(Closed)
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the number of consecutive failures.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Snapshot returns a copy of the current state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:       b.state,
		Failures:    b.failures,
		LastFailure: b.lastFailure,
		LastSuccess: b.lastSuccess,
	}
}

// transition must be called with the lock held
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	metricState.WithLabelValues(b.name).Set(float64(to))
	metricTransitions.WithLabelValues(b.name, to.String()).Inc()
	l := b.l.WithFields(logrus.Fields{
		"from":     from.String(),
		"to":       to.String(),
		"failures": b.failures,
	})
	if to == Open {
		l.Warn("Circuit breaker opened, deliveries are suspended")
	} else {
		l.Info("Circuit breaker state changed")
	}
}
