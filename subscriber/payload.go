package subscriber

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/PowerDNS/perfagent/aggregate"
	"github.com/PowerDNS/perfagent/collector"
	"github.com/PowerDNS/perfagent/collector/memory"
	"github.com/PowerDNS/perfagent/collector/query"
	"github.com/PowerDNS/perfagent/execctx"
	"github.com/PowerDNS/perfagent/sanitize"
)

const (
	// MaxErrorMessage is the maximum length of a reported error message.
	MaxErrorMessage = 500

	// MaxErrorFrames is the maximum number of reported error backtrace frames.
	MaxErrorFrames = 20
)

// buildPayload drains all collectors and assembles the metrics payload.
func (s *Subscriber) buildPayload(ctx context.Context, e *execctx.Execution, f Finish) map[string]any {
	p := s.identity(e)
	p["duration_ms"] = collector.Milliseconds(f.Duration)
	p["execution_id"] = e.ID()
	p["started_at"] = e.StartedAt().UTC().Format(time.RFC3339Nano)

	kind, _ := getAttr[Kind](e, attrKind)
	if kind == KindJob {
		p["status"] = "completed"
		if f.Err != nil {
			p["status"] = "failed"
		}
	} else {
		p["status"] = f.Status
	}

	limit := s.maxArray()

	queries := s.collectors.SQL.Drain(ctx)
	p["sql_summary"] = aggregate.Queries(queries)
	queries, cut := newest(queries, limit)
	p["sql_queries"] = lo.Ternary(queries == nil, []query.Query{}, queries)
	if dropped := e.Evicted(query.Name) + cut; dropped > 0 {
		p["sql_queries_dropped"] = dropped
	}

	renders := s.collectors.Views.Drain(ctx)
	if len(renders) > 0 {
		p["view_summary"] = aggregate.Views(renders, s.slowest)
		renders, cut = newest(renders, limit)
		p["views"] = renders
		if dropped := s.collectors.Views.Evicted(ctx) + cut; dropped > 0 {
			p["views_dropped"] = dropped
		}
	}

	if s.collectors.Memory.Enabled() {
		d := s.collectors.Memory.Drain(ctx)
		summary := aggregate.Memory(d)
		snaps, cut := snapshots(d, limit)
		if len(snaps) > 0 {
			p["memory_snapshots"] = snaps
		}
		summary.SnapshotsDropped = d.SnapshotsEvicted + cut
		summary.AllocationsDropped = d.AllocationsEvicted
		summary.LargeObjects, cut = newest(summary.LargeObjects, limit)
		summary.LargeObjectsDropped = d.LargeObjectsEvicted + cut
		summary.GrowthRates, _ = newest(summary.GrowthRates, limit)
		p["memory"] = summary
	}

	calls := s.collectors.HTTP.Drain(ctx)
	if len(calls) > 0 {
		p["http_summary"] = aggregate.Calls(calls)
		calls, cut = newest(calls, limit)
		p["http_calls"] = calls
		if dropped := s.collectors.HTTP.Evicted(ctx) + cut; dropped > 0 {
			p["http_calls_dropped"] = dropped
		}
	}

	if len(f.Metadata) > 0 {
		p["metadata"] = f.Metadata
	}
	return p
}

// maxArray is the number of array elements that survive sanitizing.
func (s *Subscriber) maxArray() int {
	if s.conf.Payload.MaxArray > 0 {
		return s.conf.Payload.MaxArray
	}
	return sanitize.DefaultLimits.MaxArray
}

// newest returns the last n elements of xs and how many were cut.
func newest[T any](xs []T, n int) ([]T, int) {
	if n <= 0 || len(xs) <= n {
		return xs, 0
	}
	return xs[len(xs)-n:], len(xs) - n
}

// snapshots returns the raw snapshots to ship, at most n. The start
// snapshot is always first, followed by the newest others.
func snapshots(d memory.Data, n int) ([]memory.Snapshot, int) {
	snaps := d.Snapshots
	if d.Before != nil && (len(snaps) == 0 || snaps[0].Label != memory.LabelStart) {
		snaps = append([]memory.Snapshot{*d.Before}, snaps...)
	}
	if n <= 0 || len(snaps) <= n {
		return snaps, 0
	}
	if snaps[0].Label != memory.LabelStart || n == 1 {
		return newest(snaps, n)
	}
	rest, cut := newest(snaps[1:], n-1)
	return append([]memory.Snapshot{snaps[0]}, rest...), cut
}

// buildErrorPayload assembles the error payload of a failed execution.
func (s *Subscriber) buildErrorPayload(e *execctx.Execution, f Finish) map[string]any {
	p := s.identity(e)
	p["execution_id"] = e.ID()
	p["class"] = ErrorClass(f.Err)
	p["message"] = sanitize.Truncate(f.Err.Error(), MaxErrorMessage)
	bt := f.Backtrace
	if len(bt) == 0 {
		bt = errorBacktrace(f.Err, 0)
	}
	if len(bt) > MaxErrorFrames {
		bt = bt[:MaxErrorFrames]
	}
	p["backtrace"] = sanitize.ScrubFrames(bt)
	if f.Status != 0 {
		p["status"] = f.Status
	}
	return p
}

func (s *Subscriber) identity(e *execctx.Execution) map[string]any {
	kind, _ := getAttr[Kind](e, attrKind)
	name, _ := getAttr[string](e, attrName)
	if kind == KindJob {
		queue, _ := getAttr[string](e, attrQueue)
		return map[string]any{
			"job_class": name,
			"queue":     queue,
		}
	}
	action, _ := getAttr[string](e, attrAction)
	return map[string]any{
		"controller": name,
		"action":     action,
	}
}

// ErrorClass returns the type name of the innermost wrapped error.
func ErrorClass(err error) string {
	if err == nil {
		return ""
	}
	for {
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		err = next
	}
	return fmt.Sprintf("%T", err)
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// errorBacktrace returns the stack recorded in err by github.com/pkg/errors,
// if any. Otherwise, if skip > 0, the current stack is captured, skipping
// skip frames.
func errorBacktrace(err error, skip int) []string {
	var st stackTracer
	if errors.As(err, &st) {
		var out []string
		for _, f := range st.StackTrace() {
			pc := uintptr(f) - 1
			fn := runtime.FuncForPC(pc)
			if fn == nil {
				continue
			}
			file, line := fn.FileLine(pc)
			out = append(out, fmt.Sprintf("%s:%d %s", file, line, fn.Name()))
		}
		return out
	}
	if skip > 0 {
		return query.Capture(skip + 1)
	}
	return nil
}
