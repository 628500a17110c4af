package query

import (
	"context"
	"fmt"
	"runtime/metrics"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/PowerDNS/perfagent/execctx"
)

// Tracer returns a pgx.QueryTracer that reports every query to the
// Collector. Set it as ConnConfig.Tracer of the host's pgx connections.
func (c *Collector) Tracer() *Tracer {
	return &Tracer{c: c}
}

// Tracer implements pgx.QueryTracer.
type Tracer struct {
	c *Collector
}

var _ pgx.QueryTracer = (*Tracer)(nil)

type traceKey struct{}

type traceStart struct {
	start  time.Time
	sql    string
	allocs uint64
}

// TraceQueryStart implements pgx.QueryTracer
func (t *Tracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	if !execctx.Active(ctx) {
		return ctx
	}
	ts := traceStart{
		start: time.Now(),
		sql:   data.SQL,
	}
	if t.c.trackAllocs {
		ts.allocs = heapAllocObjects()
	}
	return context.WithValue(ctx, traceKey{}, ts)
}

// TraceQueryEnd implements pgx.QueryTracer
func (t *Tracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	ts, ok := ctx.Value(traceKey{}).(traceStart)
	if !ok {
		return
	}
	q := Query{
		SQL:          ts.sql,
		Duration:     time.Since(ts.start),
		StartedAt:    ts.start,
		ConnectionID: connectionID(conn),
	}
	if t.c.trackAllocs {
		if now := heapAllocObjects(); now >= ts.allocs {
			q.AllocatedObjects = now - ts.allocs
		}
	}
	if data.Err != nil {
		q.Error = fmt.Sprintf("%T", data.Err)
	}
	if t.c.backtraces {
		// Skip this method and the pgx internals calling it, the frame
		// filter drops the remaining library frames.
		q.Backtrace = Capture(2)
	}
	t.c.OnQuery(ctx, q)
}

func connectionID(conn *pgx.Conn) string {
	if conn == nil {
		return ""
	}
	pc := conn.PgConn()
	if pc == nil {
		return ""
	}
	return strconv.FormatUint(uint64(pc.PID()), 10)
}

const allocsMetric = "/gc/heap/allocs:objects"

// heapAllocObjects returns the cumulative number of heap allocations of
// the process. It is process-wide, so deltas are an approximation when
// other goroutines allocate concurrently.
func heapAllocObjects() uint64 {
	sample := []metrics.Sample{{Name: allocsMetric}}
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return sample[0].Value.Uint64()
}
