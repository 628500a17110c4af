// Package climit limits the number of concurrent operations.
package climit

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/PowerDNS/perfagent/config/logger"
)

// New creates a new ConcurrencyLimit with a given limit.
// The name is used for Prometheus metrics.
func New(name string, limit int, l logrus.FieldLogger) *ConcurrencyLimit {
	l = logger.OrNull(l).WithField("limit_name", name)
	if limit < 1 {
		l.Warnf(
			"Increasing concurrency limit from configured %d to minimum of 1", limit)
		limit = 1
	}
	cl := &ConcurrencyLimit{
		name:   name,
		limit:  limit,
		labels: prometheus.Labels{"limit_name": name},
		ch:     make(chan internalToken, limit),
		log:    l,
	}
	for i := 0; i < limit; i++ {
		cl.ch <- internalToken{}
	}
	metricLimit.With(cl.labels).Set(float64(limit))
	return cl
}

// ConcurrencyLimit enforce a concurrency limit with tokens that need to be held
// by routines.
// A Token can be acquired by calling Acquire() or TryAcquire(), and MUST be
// released by calling Token.Release().
type ConcurrencyLimit struct {
	name   string
	limit  int
	labels prometheus.Labels
	ch     chan internalToken
	log    logrus.FieldLogger
}

type internalToken struct{}

// Acquire acquires a Token. It will block until a free Token is available.
// You MUST call Token.Release() when you are done with the operation.
func (cl *ConcurrencyLimit) Acquire() *Token {
	metricWaiting.With(cl.labels).Inc()
	t0 := time.Now()
	it := <-cl.ch
	dt := time.Since(t0)
	metricWaiting.With(cl.labels).Dec()
	metricWaitingSeconds.With(cl.labels).Observe(dt.Seconds())
	return cl.newToken(it)
}

// TryAcquire acquires a Token if one is available right away. It never
// blocks. It returns nil if all tokens are in use.
func (cl *ConcurrencyLimit) TryAcquire() *Token {
	select {
	case it := <-cl.ch:
		return cl.newToken(it)
	default:
		metricRejectedTotal.With(cl.labels).Inc()
		cl.log.Debug("No token available")
		return nil
	}
}

// Active returns the number of tokens currently held.
func (cl *ConcurrencyLimit) Active() int {
	return cl.limit - len(cl.ch)
}

// Limit returns the configured limit.
func (cl *ConcurrencyLimit) Limit() int {
	return cl.limit
}

func (cl *ConcurrencyLimit) newToken(it internalToken) *Token {
	metricActive.With(cl.labels).Inc()
	metricAcquiredTotal.With(cl.labels).Inc()
	return &Token{
		cl:    cl,
		token: it,
		time:  time.Now(),
	}
}

// Token represents the token that allows the caller to proceed with a limited
// operation.
type Token struct {
	cl   *ConcurrencyLimit
	time time.Time

	mu       sync.Mutex
	released bool
	token    internalToken
}

// Release releases the Token.
// It can safely be called more than once, even from different goroutines.
// It returns how long the Token was held, or 0 if it had already been released.
func (t *Token) Release() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return 0
	}
	t.cl.ch <- t.token
	t.released = true
	dt := time.Since(t.time)
	metricActive.With(t.cl.labels).Dec()
	metricActiveSeconds.With(t.cl.labels).Observe(dt.Seconds())
	t.cl = nil
	return dt
}
