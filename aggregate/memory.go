package aggregate

import (
	"github.com/c2h5oh/datasize"
	"github.com/samber/lo"
	"golang.org/x/exp/slices"

	"github.com/PowerDNS/perfagent/collector/memory"
)

// TopAllocatorCount is the number of allocation classes reported.
const TopAllocatorCount = 10

// Allocator is the allocation total of one class.
type Allocator struct {
	Class string `json:"class"`
	Count int    `json:"count"`
	Bytes int64  `json:"bytes"`
}

// Rate is the memory growth between two consecutive snapshots.
type Rate struct {
	From           string  `json:"from"`
	To             string  `json:"to"`
	BytesPerSecond float64 `json:"bytes_per_second"`
}

// GCStats holds garbage collector deltas between start and finish.
type GCStats struct {
	CountDelta            int64 `json:"count_delta"`
	HeapPagesDelta        int64 `json:"heap_pages_delta"`
	AllocatedObjectsDelta int64 `json:"allocated_objects_delta"`
}

// MemorySummary summarizes the memory data of an execution.
type MemorySummary struct {
	GrowthBytes         int64               `json:"growth_bytes"`
	Growth              string              `json:"growth"` // Human readable GrowthBytes
	TotalAllocations    int                 `json:"total_allocations"`
	TotalAllocatedBytes int64               `json:"total_allocated_bytes"`
	TopAllocators       []Allocator         `json:"top_allocators"`
	LargeObjects        []memory.Allocation `json:"large_objects"`
	LargeObjectsByClass map[string]int      `json:"large_objects_by_class"`
	GrowthRates         []Rate              `json:"growth_rates"`
	GC                  GCStats             `json:"gc"`

	// Entries dropped to keep the buffers and the payload bounded
	SnapshotsDropped    int `json:"snapshots_dropped,omitempty"`
	AllocationsDropped  int `json:"allocations_dropped,omitempty"`
	LargeObjectsDropped int `json:"large_objects_dropped,omitempty"`
}

// Memory summarizes memory data. Growth and GC deltas are zero unless both
// the start and finish snapshot are present.
func Memory(d memory.Data) MemorySummary {
	s := MemorySummary{
		TotalAllocations: len(d.Allocations),
		TotalAllocatedBytes: lo.SumBy(d.Allocations, func(a memory.Allocation) int64 {
			return a.Bytes
		}),
		TopAllocators: topAllocators(d.Allocations, TopAllocatorCount),
		LargeObjects:  d.LargeObjects,
		LargeObjectsByClass: lo.CountValuesBy(d.LargeObjects, func(a memory.Allocation) string {
			return a.Class
		}),
		GrowthRates: growthRates(d.Snapshots),
	}
	if d.Before != nil && d.After != nil {
		s.GrowthBytes = d.After.RSS - d.Before.RSS
		s.GC = GCStats{
			CountDelta:            int64(d.After.GCCount) - int64(d.Before.GCCount),
			HeapPagesDelta:        int64(d.After.HeapPages) - int64(d.Before.HeapPages),
			AllocatedObjectsDelta: int64(d.After.TotalAllocatedObjects) - int64(d.Before.TotalAllocatedObjects),
		}
	}
	s.Growth = humanBytes(s.GrowthBytes)
	return s
}

// topAllocators groups allocations by class and returns the n largest by
// bytes. Ties keep the order in which classes were first seen.
func topAllocators(allocs []memory.Allocation, n int) []Allocator {
	if len(allocs) == 0 {
		return nil
	}
	index := make(map[string]int)
	var out []Allocator
	for _, a := range allocs {
		i, ok := index[a.Class]
		if !ok {
			i = len(out)
			index[a.Class] = i
			out = append(out, Allocator{Class: a.Class})
		}
		out[i].Count++
		out[i].Bytes += a.Bytes
	}
	slices.SortStableFunc(out, func(a, b Allocator) int {
		switch {
		case a.Bytes > b.Bytes:
			return -1
		case a.Bytes < b.Bytes:
			return 1
		default:
			return 0
		}
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// growthRates returns the RSS growth per second between consecutive
// snapshots. The rate is 0 when no time passed between them.
func growthRates(snaps []memory.Snapshot) []Rate {
	if len(snaps) < 2 {
		return nil
	}
	rates := make([]Rate, 0, len(snaps)-1)
	for i := 1; i < len(snaps); i++ {
		prev, cur := snaps[i-1], snaps[i]
		r := Rate{From: prev.Label, To: cur.Label}
		if dt := cur.Timestamp.Sub(prev.Timestamp).Seconds(); dt > 0 {
			r.BytesPerSecond = float64(cur.RSS-prev.RSS) / dt
		}
		rates = append(rates, r)
	}
	return rates
}

func humanBytes(n int64) string {
	if n < 0 {
		return "-" + datasize.ByteSize(-n).HumanReadable()
	}
	return datasize.ByteSize(n).HumanReadable()
}
