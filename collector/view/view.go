// Package view collects template render timings.
package view

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/PowerDNS/perfagent/collector"
	"github.com/PowerDNS/perfagent/config"
	"github.com/PowerDNS/perfagent/config/logger"
	"github.com/PowerDNS/perfagent/execctx"
	"github.com/PowerDNS/perfagent/sanitize"
)

// Name is the buffer name used in the Execution.
const Name = "view"

// Kind is the type of a rendered view.
type Kind string

// Supported kinds
const (
	KindTemplate   Kind = "template"
	KindPartial    Kind = "partial"
	KindCollection Kind = "collection"
)

// MaxTemplateLength limits the length of template identifiers.
const MaxTemplateLength = 200

// Render is a single template render.
type Render struct {
	Template   string        `json:"template"`
	Kind       Kind          `json:"kind"`
	Duration   time.Duration `json:"-"`
	DurationMS float64       `json:"duration_ms"`
	CacheHit   *bool         `json:"cache_hit,omitempty"` // nil when caching does not apply
	StartedAt  time.Time     `json:"started_at"`
}

// Collector records Render events into the active Execution.
type Collector struct {
	maxRenders int
	l          logrus.FieldLogger
}

// New creates a Collector.
func New(c config.Views, l logrus.FieldLogger) *Collector {
	return &Collector{
		maxRenders: c.MaxRenders,
		l:          logger.OrNull(l).WithField("component", "view"),
	}
}

// Start bounds the render buffer of the execution in ctx.
func (c *Collector) Start(ctx context.Context) {
	execctx.From(ctx).SetLimit(Name, c.maxRenders)
}

// Evicted returns how many renders of the execution in ctx were dropped
// because the buffer was full.
func (c *Collector) Evicted(ctx context.Context) int {
	return execctx.From(ctx).Evicted(Name)
}

// OnRender records a render. It is a no-op outside an execution.
func (c *Collector) OnRender(ctx context.Context, r Render) {
	e := execctx.From(ctx)
	if !e.Active() {
		return
	}
	collector.Guard(c.l, Name, func() {
		r.Template = sanitize.Truncate(r.Template, MaxTemplateLength)
		if r.Kind == "" {
			r.Kind = KindTemplate
		}
		if r.DurationMS == 0 {
			r.DurationMS = collector.Milliseconds(r.Duration)
		}
		if r.StartedAt.IsZero() {
			r.StartedAt = time.Now().Add(-r.Duration)
		}
		e.Append(Name, r)
		collector.Recorded(Name)
	})
}

// Instrument times fn as a render of the given template and returns its
// error unchanged. fn is always called, even outside an execution.
func (c *Collector) Instrument(ctx context.Context, template string, kind Kind, fn func() error) error {
	start := time.Now()
	err := fn()
	c.OnRender(ctx, Render{
		Template:  template,
		Kind:      kind,
		Duration:  time.Since(start),
		StartedAt: start,
	})
	return err
}

// Drain returns and clears the renders of the execution in ctx.
func (c *Collector) Drain(ctx context.Context) []Render {
	return Convert(execctx.From(ctx).Drain(Name))
}

// Convert turns raw buffer contents back into renders.
func Convert(events []any) []Render {
	if len(events) == 0 {
		return nil
	}
	out := make([]Render, 0, len(events))
	for _, ev := range events {
		if r, ok := ev.(Render); ok {
			out = append(out, r)
		}
	}
	return out
}

// Hit returns a pointer to b, for use as Render.CacheHit.
func Hit(b bool) *bool {
	return &b
}
