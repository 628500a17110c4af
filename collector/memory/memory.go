// Package memory collects memory snapshots and host-reported allocations.
//
// Snapshots are read from the Go runtime. The resident set size comes from
// /proc when it is available, otherwise the total memory obtained from the
// OS is used as an approximation.
package memory

import (
	"context"
	"runtime"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/prometheus/procfs"
	"github.com/sirupsen/logrus"

	"github.com/PowerDNS/perfagent/collector"
	"github.com/PowerDNS/perfagent/config"
	"github.com/PowerDNS/perfagent/config/logger"
	"github.com/PowerDNS/perfagent/execctx"
)

// Buffer names used in the Execution
const (
	Name            = "memory"
	NameAllocations = "memory_alloc"
	NameLarge       = "memory_large"
)

// Snapshot labels used by Begin and End
const (
	LabelStart  = "start"
	LabelFinish = "finish"
)

// startKey holds the start snapshot as an execution attribute, so it
// survives eviction from the snapshot buffer.
const startKey = "memory.start"

// heapPageSize is the page size of the Go heap allocator.
const heapPageSize = 8192

// Snapshot is the memory state of the process at a point in time.
type Snapshot struct {
	Label                 string    `json:"label"`
	RSS                   int64     `json:"rss"`
	HeapAlloc             uint64    `json:"heap_alloc"`
	HeapObjects           uint64    `json:"heap_objects"`
	HeapPages             uint64    `json:"heap_pages"`
	GCCount               uint32    `json:"gc_count"`
	TotalAllocatedObjects uint64    `json:"total_allocated_objects"`
	TotalAllocatedBytes   uint64    `json:"total_allocated_bytes"`
	Timestamp             time.Time `json:"timestamp"`
}

// Allocation is a single allocation reported by the host.
type Allocation struct {
	Class string `json:"class"`
	Bytes int64  `json:"bytes"`
}

// Data is everything the memory collector gathered for an execution.
type Data struct {
	Before       *Snapshot
	After        *Snapshot
	Snapshots    []Snapshot // All snapshots in order, including start and finish
	Allocations  []Allocation
	LargeObjects []Allocation

	// Number of entries dropped from the full buffers
	SnapshotsEvicted    int
	AllocationsEvicted  int
	LargeObjectsEvicted int
}

// Collector records memory snapshots and allocations.
type Collector struct {
	enabled     bool
	trackAllocs bool
	threshold   datasize.ByteSize
	maxSnaps    int
	maxAllocs   int
	l           logrus.FieldLogger

	// read is replaced in tests
	read func() Snapshot
}

// New creates a Collector.
func New(c config.Memory, l logrus.FieldLogger) *Collector {
	threshold := c.LargeObjectThreshold
	if threshold == 0 {
		threshold = config.DefaultLargeObjectThreshold
	}
	return &Collector{
		enabled:     c.Enabled,
		trackAllocs: c.TrackAllocations,
		threshold:   threshold,
		maxSnaps:    c.MaxSnapshots,
		maxAllocs:   c.MaxAllocations,
		l:           logger.OrNull(l).WithField("component", "memory"),
		read:        Read,
	}
}

// Enabled returns false when memory collection is switched off.
func (c *Collector) Enabled() bool {
	return c.enabled
}

// Begin bounds the memory buffers of the execution in ctx and records the
// start snapshot.
func (c *Collector) Begin(ctx context.Context) {
	e := execctx.From(ctx)
	e.SetLimit(Name, c.maxSnaps)
	e.SetLimit(NameAllocations, c.maxAllocs)
	e.SetLimit(NameLarge, c.maxAllocs)
	c.Mark(ctx, LabelStart)
}

// End records the finish snapshot.
func (c *Collector) End(ctx context.Context) {
	c.Mark(ctx, LabelFinish)
}

// Mark records a labelled snapshot. It is a no-op outside an execution.
func (c *Collector) Mark(ctx context.Context, label string) {
	if !c.enabled {
		return
	}
	e := execctx.From(ctx)
	if !e.Active() {
		return
	}
	collector.Guard(c.l, Name, func() {
		s := c.read()
		s.Label = label
		if label == LabelStart {
			e.Set(startKey, s)
		}
		e.Append(Name, s)
		collector.Recorded(Name)
	})
}

// RecordAllocation records an allocation reported by the host. Objects of
// at least the large object threshold are also recorded as large objects.
func (c *Collector) RecordAllocation(ctx context.Context, class string, bytes int64) {
	if !c.enabled || !c.trackAllocs {
		return
	}
	e := execctx.From(ctx)
	if !e.Active() {
		return
	}
	collector.Guard(c.l, NameAllocations, func() {
		a := Allocation{Class: class, Bytes: bytes}
		e.Append(NameAllocations, a)
		if bytes >= 0 && datasize.ByteSize(bytes) >= c.threshold {
			e.Append(NameLarge, a)
			c.l.WithField("class", class).
				WithField("size", datasize.ByteSize(bytes).HumanReadable()).
				Debug("Large object allocated")
		}
		collector.Recorded(NameAllocations)
	})
}

// Drain returns and clears all memory data of the execution in ctx.
func (c *Collector) Drain(ctx context.Context) Data {
	e := execctx.From(ctx)
	d := Convert(e.Drain(Name), e.Drain(NameAllocations), e.Drain(NameLarge))
	d.SnapshotsEvicted = e.Evicted(Name)
	d.AllocationsEvicted = e.Evicted(NameAllocations)
	d.LargeObjectsEvicted = e.Evicted(NameLarge)
	if d.Before == nil {
		if v, ok := e.Get(startKey); ok {
			if s, ok := v.(Snapshot); ok {
				d.Before = &s
			}
		}
	}
	return d
}

// Convert turns raw buffer contents back into Data.
func Convert(snapshots, allocs, large []any) Data {
	var d Data
	for _, ev := range snapshots {
		if s, ok := ev.(Snapshot); ok {
			d.Snapshots = append(d.Snapshots, s)
		}
	}
	for _, ev := range allocs {
		if a, ok := ev.(Allocation); ok {
			d.Allocations = append(d.Allocations, a)
		}
	}
	for _, ev := range large {
		if a, ok := ev.(Allocation); ok {
			d.LargeObjects = append(d.LargeObjects, a)
		}
	}
	for i := range d.Snapshots {
		s := d.Snapshots[i]
		if s.Label == LabelStart && d.Before == nil {
			d.Before = &s
		}
		if s.Label == LabelFinish {
			d.After = &s
		}
	}
	return d
}

// Read takes a snapshot of the current process.
func Read() Snapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	rss := residentMemory()
	if rss <= 0 {
		rss = int64(ms.Sys)
	}
	return Snapshot{
		RSS:                   rss,
		HeapAlloc:             ms.HeapAlloc,
		HeapObjects:           ms.HeapObjects,
		HeapPages:             ms.HeapInuse / heapPageSize,
		GCCount:               ms.NumGC,
		TotalAllocatedObjects: ms.Mallocs,
		TotalAllocatedBytes:   ms.TotalAlloc,
		Timestamp:             time.Now(),
	}
}

func residentMemory() int64 {
	p, err := procfs.Self()
	if err != nil {
		return 0
	}
	stat, err := p.Stat()
	if err != nil {
		return 0
	}
	return int64(stat.ResidentMemory())
}
