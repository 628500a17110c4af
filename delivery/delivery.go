// Package delivery sends telemetry to the collector.
//
// Delivery is best effort and at most once. Callers are never blocked on
// network I/O and never see an error: a message that cannot be sent right
// away is dropped and counted. Every attempt outcome is fed to the circuit
// breaker, which stops attempts while the collector is unhealthy.
package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/PowerDNS/perfagent/breaker"
	"github.com/PowerDNS/perfagent/config"
	"github.com/PowerDNS/perfagent/config/logger"
	"github.com/PowerDNS/perfagent/delivery/events"
	"github.com/PowerDNS/perfagent/delivery/transport"
	"github.com/PowerDNS/perfagent/sampler"
	"github.com/PowerDNS/perfagent/sanitize"
	"github.com/PowerDNS/perfagent/utils/climit"
)

// Reasons for not sending a message
const (
	ReasonDisabled    = "disabled"
	ReasonUnsampled   = "unsampled"
	ReasonNoAPIKey    = "no_api_key"
	ReasonInvalid     = "invalid_payload"
	ReasonBusy        = "busy"
	ReasonBreakerOpen = "breaker_open"
)

// Health receives the outcome of every delivery attempt.
type Health interface {
	AddSuccess()
	AddFailure()
}

// Options are optional Client settings. Zero values get defaults.
type Options struct {
	Logger    logrus.FieldLogger
	Transport transport.Interface // Overrides delivery.transport
	Breaker   *breaker.Breaker    // Defaults to a new Breaker for this Client
	Events    *events.Events
	Health    Health
	Sampler   sampler.Sampler
	Clock     func() time.Time
}

// Message is a single telemetry message.
type Message struct {
	Event   string
	Payload map[string]any
	Error   bool
}

// Stats are the Client counters.
type Stats struct {
	Sent    uint64
	Failed  uint64
	Skipped uint64
}

// Client delivers messages. It is safe for concurrent use.
type Client struct {
	conf     config.Config
	tr       transport.Interface
	breaker  *breaker.Breaker
	limit    *climit.ConcurrencyLimit
	events   *events.Events
	health   Health
	sampler  sampler.Sampler
	limits   sanitize.Limits
	revision string
	timeout  time.Duration
	now      func() time.Time
	l        logrus.FieldLogger

	wg      sync.WaitGroup
	sent    atomic.Uint64
	failed  atomic.Uint64
	skipped atomic.Uint64
}

// New creates a Client.
func New(conf config.Config, opt Options) (*Client, error) {
	l := logger.OrNull(opt.Logger).WithField("component", "delivery")
	now := opt.Clock
	if now == nil {
		now = time.Now
	}
	tr := opt.Transport
	if tr == nil {
		var err error
		tr, err = transport.Get(conf, l)
		if err != nil {
			return nil, err
		}
	}
	br := opt.Breaker
	if br == nil {
		br = breaker.New(conf.Breaker, breaker.Options{Logger: l, Clock: now})
	}
	ev := opt.Events
	if ev == nil {
		ev = events.New()
	}
	timeout := conf.Delivery.OpenTimeout + conf.Delivery.ReadTimeout
	if timeout <= 0 {
		timeout = 2 * config.DefaultTimeout
	}
	c := &Client{
		conf:     conf,
		tr:       tr,
		breaker:  br,
		limit:    climit.New("delivery", conf.Delivery.MaxConcurrency, l),
		events:   ev,
		health:   opt.Health,
		sampler:  opt.Sampler,
		limits:   payloadLimits(conf.Payload),
		revision: Revision(conf),
		timeout:  timeout,
		now:      now,
		l:        l,
	}
	return c, nil
}

func payloadLimits(p config.Payload) sanitize.Limits {
	l := sanitize.DefaultLimits
	if p.MaxString > 0 {
		l.MaxString = p.MaxString
	}
	if p.MaxArray > 0 {
		l.MaxArray = p.MaxArray
	}
	if p.MaxKeys > 0 {
		l.MaxKeys = p.MaxKeys
	}
	return l
}

// PostMetric sends a metrics message, subject to sampling at the
// configured rate. It returns true if a delivery attempt was dispatched.
func (c *Client) PostMetric(event string, payload map[string]any) bool {
	sampled := c.sampler.ShouldSample(c.conf.SampleRate)
	return c.Deliver(Message{Event: event, Payload: payload}, sampled)
}

// PostError sends an error message. Error messages are never sampled out.
func (c *Client) PostError(event string, payload map[string]any) bool {
	return c.Deliver(Message{Event: event, Payload: payload, Error: true}, true)
}

// Deliver dispatches a message on a background goroutine if all
// preconditions are met, checked in order: delivery is enabled, the message
// is sampled (or an error), an API key is configured and the circuit
// breaker allows it. The payload is only encoded after these checks. It
// returns false without any network activity otherwise.
func (c *Client) Deliver(m Message, sampled bool) (dispatched bool) {
	defer func() {
		if r := recover(); r != nil {
			c.l.WithField("panic", fmt.Sprint(r)).Debug("Delivery error ignored")
			dispatched = false
		}
	}()

	if !c.conf.Enabled {
		return c.skip(m, ReasonDisabled)
	}
	if !sampled && !m.Error {
		return c.skip(m, ReasonUnsampled)
	}
	if c.conf.APIKey == "" {
		return c.skip(m, ReasonNoAPIKey)
	}

	if !c.breaker.Allow() {
		return c.skip(m, ReasonBreakerOpen)
	}
	// From here on, a call granted by the breaker that is not sent must be
	// given back, or a half-open breaker would wait for its test request
	// forever.
	env, err := c.envelope(m)
	if err != nil {
		c.breaker.Cancel()
		c.l.WithError(err).WithField("event", m.Event).Debug("Cannot encode payload")
		return c.skip(m, ReasonInvalid)
	}
	token := c.limit.TryAcquire()
	if token == nil {
		c.breaker.Cancel()
		return c.skip(m, ReasonBusy)
	}

	c.wg.Add(1)
	go c.send(env, token)
	return true
}

// envelope normalizes the payload into a bounded JSON tree and wraps it.
func (c *Client) envelope(m Message) (transport.Envelope, error) {
	raw, err := json.Marshal(m.Payload)
	if err != nil {
		return transport.Envelope{}, err
	}
	metricPayloadBytes.Observe(float64(len(raw)))
	var tree map[string]any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return transport.Envelope{}, err
	}
	payload, _ := sanitize.Payload(tree, c.limits).(map[string]any)
	if payload == nil {
		payload = map[string]any{}
	}
	return transport.Envelope{
		Event:    m.Event,
		Payload:  payload,
		SentAt:   c.now().UTC().Format(time.RFC3339),
		Revision: c.revision,
		Error:    m.Error,
	}, nil
}

func (c *Client) send(env transport.Envelope, token *climit.Token) {
	defer c.wg.Done()
	defer token.Release()

	t0 := time.Now()
	err := c.transmit(env)
	dt := time.Since(t0)
	metricDuration.Observe(dt.Seconds())

	l := c.l.WithField("event", env.Event).WithField("duration", dt.Round(time.Millisecond))
	if err != nil {
		c.failed.Inc()
		metricAttempts.WithLabelValues("failure").Inc()
		c.breaker.OnFailure()
		if c.health != nil {
			c.health.AddFailure()
		}
		l.WithError(err).Debug("Delivery failed")
	} else {
		c.sent.Inc()
		metricAttempts.WithLabelValues("success").Inc()
		c.breaker.OnSuccess()
		if c.health != nil {
			c.health.AddSuccess()
		}
		l.Debug("Delivered")
	}
	c.events.Delivered.Publish(events.Result{
		Event:    env.Event,
		Error:    env.Error,
		Err:      err,
		Duration: dt,
	})
}

// transmit converts a transport panic into an error.
func (c *Client) transmit(env transport.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panic: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.tr.Send(ctx, env)
}

func (c *Client) skip(m Message, reason string) bool {
	c.skipped.Inc()
	metricSkipped.WithLabelValues(reason).Inc()
	c.events.Skipped.Publish(events.Skip{Event: m.Event, Reason: reason})
	return false
}

// Wait blocks until all dispatched deliveries have completed. The request
// path never calls this; it exists for graceful shutdown and tests.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Breaker returns the circuit breaker of this Client.
func (c *Client) Breaker() *breaker.Breaker {
	return c.breaker
}

// Events returns the event topics of this Client.
func (c *Client) Events() *events.Events {
	return c.events
}

// Revision returns the deploy revision sent with every envelope.
func (c *Client) Revision() string {
	return c.revision
}

// Stats returns the Client counters.
func (c *Client) Stats() Stats {
	return Stats{
		Sent:    c.sent.Load(),
		Failed:  c.failed.Load(),
		Skipped: c.skipped.Load(),
	}
}
