// Package httpclient collects outgoing HTTP calls made by the host.
//
// Calls are observed through an http.RoundTripper. Only requests whose
// context carries an execution are recorded, and requests to the agent's
// own collector endpoint are never recorded.
package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/PowerDNS/perfagent/collector"
	"github.com/PowerDNS/perfagent/config"
	"github.com/PowerDNS/perfagent/config/logger"
	"github.com/PowerDNS/perfagent/execctx"
	"github.com/PowerDNS/perfagent/sanitize"
)

// Name is the buffer name used in the Execution.
const Name = "http"

// Library is reported as the client library of recorded calls.
const Library = "net/http"

// Call is a single outgoing HTTP request.
type Call struct {
	Library    string        `json:"library"`
	Method     string        `json:"method"`
	URL        string        `json:"url"`
	Host       string        `json:"host"`
	Path       string        `json:"path"`
	Status     int           `json:"status,omitempty"`
	Duration   time.Duration `json:"-"`
	DurationMS float64       `json:"duration_ms"`
	ErrorClass string        `json:"error_class,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
}

// Collector records Call events into the active Execution.
type Collector struct {
	ownHost  string
	maxCalls int
	l        logrus.FieldLogger
}

// New creates a Collector. Calls to the host of endpoint are ignored.
func New(endpoint string, c config.Calls, l logrus.FieldLogger) *Collector {
	var ownHost string
	if u, err := url.Parse(endpoint); err == nil {
		ownHost = strings.ToLower(u.Hostname())
	}
	return &Collector{
		ownHost:  ownHost,
		maxCalls: c.MaxCalls,
		l:        logger.OrNull(l).WithField("component", "http"),
	}
}

// Start bounds the call buffer of the execution in ctx.
func (c *Collector) Start(ctx context.Context) {
	execctx.From(ctx).SetLimit(Name, c.maxCalls)
}

// Evicted returns how many calls of the execution in ctx were dropped
// because the buffer was full.
func (c *Collector) Evicted(ctx context.Context) int {
	return execctx.From(ctx).Evicted(Name)
}

// Transport wraps base, which defaults to http.DefaultTransport.
func (c *Collector) Transport(base http.RoundTripper) *Transport {
	return &Transport{Base: base, c: c}
}

// Wrap returns a shallow copy of client that records its calls.
// A nil client is treated as http.DefaultClient.
func (c *Collector) Wrap(client *http.Client) *http.Client {
	if client == nil {
		client = http.DefaultClient
	}
	wrapped := *client
	wrapped.Transport = c.Transport(client.Transport)
	return &wrapped
}

// OnCall records a call. It is a no-op outside an execution.
func (c *Collector) OnCall(ctx context.Context, call Call) {
	e := execctx.From(ctx)
	if !e.Active() {
		return
	}
	collector.Guard(c.l, Name, func() {
		call.URL = sanitize.URL(call.URL)
		if call.Library == "" {
			call.Library = Library
		}
		if call.DurationMS == 0 {
			call.DurationMS = collector.Milliseconds(call.Duration)
		}
		e.Append(Name, call)
		collector.Recorded(Name)
	})
}

// Drain returns and clears the calls of the execution in ctx.
func (c *Collector) Drain(ctx context.Context) []Call {
	return Convert(execctx.From(ctx).Drain(Name))
}

// Convert turns raw buffer contents back into calls.
func Convert(events []any) []Call {
	if len(events) == 0 {
		return nil
	}
	out := make([]Call, 0, len(events))
	for _, ev := range events {
		if c, ok := ev.(Call); ok {
			out = append(out, c)
		}
	}
	return out
}

func (c *Collector) isOwn(u *url.URL) bool {
	return c.ownHost != "" && strings.EqualFold(u.Hostname(), c.ownHost)
}

// Transport is an http.RoundTripper that records calls.
type Transport struct {
	Base http.RoundTripper
	c    *Collector
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if t.c == nil || !execctx.Active(ctx) || t.c.isOwn(req.URL) {
		return t.base().RoundTrip(req)
	}
	start := time.Now()
	resp, err := t.base().RoundTrip(req)
	call := Call{
		Method:    req.Method,
		URL:       req.URL.String(),
		Host:      req.URL.Host,
		Path:      req.URL.Path,
		Duration:  time.Since(start),
		StartedAt: start,
	}
	if err != nil {
		call.ErrorClass = fmt.Sprintf("%T", err)
	} else if resp != nil {
		call.Status = resp.StatusCode
	}
	t.c.OnCall(ctx, call)
	return resp, err
}
