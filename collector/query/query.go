// Package query collects the SQL queries executed during an execution.
//
// Drivers report queries through OnQuery, either directly or through the
// pgx tracer returned by Tracer. Query text is redacted and backtraces are
// reduced to application frames before anything is stored.
package query

import (
	"context"
	"fmt"
	"runtime"
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
const Name = "sql"

// Query is a single SQL query observed during an execution.
type Query struct {
	SQL              string        `json:"sql"`
	Name             string        `json:"name,omitempty"`
	Duration         time.Duration `json:"-"`
	DurationMS       float64       `json:"duration_ms"`
	Cached           bool          `json:"cached"`
	ConnectionID     string        `json:"connection_id,omitempty"`
	Backtrace        []string      `json:"backtrace,omitempty"`
	AllocatedObjects uint64        `json:"allocated_objects,omitempty"`
	Error            string        `json:"error,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
}

// Collector records Query events into the active Execution.
type Collector struct {
	maxQueries  int
	appPrefixes []string
	backtraces  bool
	trackAllocs bool
	l           logrus.FieldLogger
}

// New creates a Collector. trackAllocs enables the allocation delta of
// queries reported through the pgx tracer.
func New(c config.SQL, trackAllocs bool, l logrus.FieldLogger) *Collector {
	return &Collector{
		maxQueries:  c.MaxQueries,
		appPrefixes: c.AppPrefixes,
		backtraces:  c.Backtraces,
		trackAllocs: trackAllocs,
		l:           logger.OrNull(l).WithField("component", "sql"),
	}
}

// Start prepares the query buffer of the execution in ctx.
func (c *Collector) Start(ctx context.Context) {
	execctx.From(ctx).SetLimit(Name, c.maxQueries)
}

// OnQuery records a query. It is a no-op outside an execution.
func (c *Collector) OnQuery(ctx context.Context, q Query) {
	e := execctx.From(ctx)
	if !e.Active() {
		return
	}
	collector.Guard(c.l, Name, func() {
		q.SQL = sanitize.SQL(q.SQL)
		if q.Name == "" {
			q.Name = nameFromContext(ctx)
		}
		if q.Name == "" {
			q.Name = firstKeyword(q.SQL)
		}
		if q.DurationMS == 0 {
			q.DurationMS = collector.Milliseconds(q.Duration)
		}
		if q.StartedAt.IsZero() {
			q.StartedAt = time.Now().Add(-q.Duration)
		}
		if len(q.Backtrace) == 0 && c.backtraces {
			q.Backtrace = Capture(2)
		}
		q.Backtrace = sanitize.Frames(q.Backtrace, c.appPrefixes)
		e.Append(Name, q)
		collector.Recorded(Name)
	})
}

// Drain returns and clears the queries of the execution in ctx.
func (c *Collector) Drain(ctx context.Context) []Query {
	return Convert(execctx.From(ctx).Drain(Name))
}

// Convert turns raw buffer contents back into queries.
func Convert(events []any) []Query {
	if len(events) == 0 {
		return nil
	}
	out := make([]Query, 0, len(events))
	for _, ev := range events {
		if q, ok := ev.(Query); ok {
			out = append(out, q)
		}
	}
	return out
}

type nameKey struct{}

// WithName labels all queries run with the returned context, for example
// "User Load".
func WithName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, nameKey{}, name)
}

func nameFromContext(ctx context.Context) string {
	name, _ := ctx.Value(nameKey{}).(string)
	return name
}

func firstKeyword(sql string) string {
	kw, _, _ := strings.Cut(strings.TrimLeft(sql, " ("), " ")
	return strings.ToUpper(kw)
}

// Capture returns the call stack of the caller as "file:line function"
// strings. skip has the same meaning as for runtime.Callers, where 0
// would be Capture itself.
func Capture(skip int) []string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	if n == 0 {
		return nil
	}
	frames := runtime.CallersFrames(pcs[:n])
	var out []string
	for {
		f, more := frames.Next()
		out = append(out, fmt.Sprintf("%s:%d %s", f.File, f.Line, f.Function))
		if !more {
			break
		}
	}
	return out
}
