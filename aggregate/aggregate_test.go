package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PowerDNS/perfagent/collector/httpclient"
	"github.com/PowerDNS/perfagent/collector/memory"
	"github.com/PowerDNS/perfagent/collector/query"
	"github.com/PowerDNS/perfagent/collector/view"
)

func TestQueries(t *testing.T) {
	s := Queries([]query.Query{
		{DurationMS: 1.5},
		{DurationMS: 4, Cached: true},
		{DurationMS: 0.5},
	})
	assert.Equal(t, QuerySummary{Count: 3, TotalDurationMS: 6, CachedCount: 1, SlowestMS: 4}, s)
	assert.Equal(t, QuerySummary{}, Queries(nil))
}

func TestViews(t *testing.T) {
	rs := []view.Render{
		{Template: "a", Kind: view.KindTemplate, DurationMS: 10},
		{Template: "b", Kind: view.KindPartial, DurationMS: 30, CacheHit: view.Hit(true)},
		{Template: "c", Kind: view.KindPartial, DurationMS: 30, CacheHit: view.Hit(false)},
		{Template: "d", Kind: view.KindPartial, DurationMS: 5, CacheHit: view.Hit(true)},
		{Template: "e", Kind: view.KindCollection, DurationMS: 20},
		{Template: "f", Kind: view.KindTemplate, DurationMS: 1},
		{Template: "g", Kind: view.KindTemplate, DurationMS: 2},
	}
	s := Views(rs, 3)
	assert.Equal(t, 7, s.TotalRenders)
	assert.Equal(t, 98.0, s.TotalDurationMS)
	assert.Equal(t, 14.0, s.AverageDurationMS)
	assert.Equal(t, KindStats{Count: 3, TotalMS: 65}, s.ByKind[view.KindPartial])
	assert.Equal(t, KindStats{Count: 3, TotalMS: 13}, s.ByKind[view.KindTemplate])

	require.Len(t, s.Slowest, 3)
	// Ties keep observation order
	assert.Equal(t, "b", s.Slowest[0].Template)
	assert.Equal(t, "c", s.Slowest[1].Template)
	assert.Equal(t, "e", s.Slowest[2].Template)

	assert.InDelta(t, 2.0/3.0, s.PartialCacheHitRate, 1e-9)
	assert.Equal(t, 0.0, s.CollectionCacheHitRate)

	// Input order is untouched
	assert.Equal(t, "a", rs[0].Template)
}

func TestViewsEmpty(t *testing.T) {
	s := Views(nil, 0)
	assert.Equal(t, 0, s.TotalRenders)
	assert.Equal(t, 0.0, s.AverageDurationMS)
	assert.Empty(t, s.Slowest)
	assert.Equal(t, 0.0, s.PartialCacheHitRate)
}

func TestViewsDefaultSlowest(t *testing.T) {
	var rs []view.Render
	for i := 0; i < 10; i++ {
		rs = append(rs, view.Render{DurationMS: float64(i)})
	}
	s := Views(rs, 0)
	require.Len(t, s.Slowest, DefaultSlowest)
	assert.Equal(t, 9.0, s.Slowest[0].DurationMS)
}

func TestMemory(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	start := memory.Snapshot{Label: "start", RSS: 1000, GCCount: 2, HeapPages: 10, TotalAllocatedObjects: 100, Timestamp: t0}
	mid := memory.Snapshot{Label: "mid", RSS: 3000, Timestamp: t0.Add(2 * time.Second)}
	same := memory.Snapshot{Label: "same", RSS: 5000, Timestamp: t0.Add(2 * time.Second)}
	finish := memory.Snapshot{Label: "finish", RSS: 2000, GCCount: 5, HeapPages: 8, TotalAllocatedObjects: 250, Timestamp: t0.Add(4 * time.Second)}

	d := memory.Data{
		Before:    &start,
		After:     &finish,
		Snapshots: []memory.Snapshot{start, mid, same, finish},
		Allocations: []memory.Allocation{
			{Class: "A", Bytes: 10},
			{Class: "B", Bytes: 50},
			{Class: "A", Bytes: 40},
			{Class: "C", Bytes: 2_000_000},
		},
		LargeObjects: []memory.Allocation{{Class: "C", Bytes: 2_000_000}},
	}
	s := Memory(d)
	assert.Equal(t, int64(1000), s.GrowthBytes)
	assert.Equal(t, 4, s.TotalAllocations)
	assert.Equal(t, int64(2_000_100), s.TotalAllocatedBytes)
	assert.Equal(t, []Allocator{
		{Class: "C", Count: 1, Bytes: 2_000_000},
		{Class: "A", Count: 2, Bytes: 50},
		{Class: "B", Count: 1, Bytes: 50},
	}, s.TopAllocators)
	assert.Equal(t, map[string]int{"C": 1}, s.LargeObjectsByClass)
	assert.Equal(t, []Rate{
		{From: "start", To: "mid", BytesPerSecond: 1000},
		{From: "mid", To: "same", BytesPerSecond: 0},
		{From: "same", To: "finish", BytesPerSecond: -1500},
	}, s.GrowthRates)
	assert.Equal(t, GCStats{CountDelta: 3, HeapPagesDelta: -2, AllocatedObjectsDelta: 150}, s.GC)
	assert.NotEmpty(t, s.Growth)
}

func TestMemoryTopAllocatorsLimit(t *testing.T) {
	var allocs []memory.Allocation
	for i := 0; i < 15; i++ {
		allocs = append(allocs, memory.Allocation{Class: string(rune('a' + i)), Bytes: int64(i)})
	}
	s := Memory(memory.Data{Allocations: allocs})
	require.Len(t, s.TopAllocators, TopAllocatorCount)
	assert.Equal(t, "o", s.TopAllocators[0].Class)
	assert.Equal(t, int64(0), s.GrowthBytes)
	assert.Nil(t, s.GrowthRates)
}

func TestCalls(t *testing.T) {
	s := Calls([]httpclient.Call{
		{Host: "api.example.com", Status: 200, DurationMS: 10},
		{Host: "api.example.com", Status: 503, DurationMS: 5},
		{Host: "other.example.com", ErrorClass: "*net.OpError", DurationMS: 1},
	})
	assert.Equal(t, 3, s.Count)
	assert.Equal(t, 16.0, s.TotalDurationMS)
	assert.Equal(t, 2, s.ErrorCount)
	assert.Equal(t, map[string]int{"api.example.com": 2, "other.example.com": 1}, s.ByHost)
}
