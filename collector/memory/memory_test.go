package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PowerDNS/perfagent/config"
	"github.com/PowerDNS/perfagent/execctx"
)

func fakeReader(rss ...int64) func() Snapshot {
	i := 0
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() Snapshot {
		s := Snapshot{RSS: rss[i], Timestamp: t0.Add(time.Duration(i) * time.Second)}
		i++
		return s
	}
}

func TestCollector(t *testing.T) {
	c := New(config.Default().Memory, nil)
	c.read = fakeReader(100, 150, 400)

	ctx, _ := execctx.Start(context.Background(), "")
	c.Begin(ctx)
	c.Mark(ctx, "after_query")
	c.RecordAllocation(ctx, "[]byte", 512)
	c.RecordAllocation(ctx, "Report", 2_000_000)
	c.End(ctx)

	d := c.Drain(ctx)
	require.NotNil(t, d.Before)
	require.NotNil(t, d.After)
	assert.Equal(t, int64(100), d.Before.RSS)
	assert.Equal(t, int64(400), d.After.RSS)
	require.Len(t, d.Snapshots, 3)
	assert.Equal(t, "after_query", d.Snapshots[1].Label)
	assert.Len(t, d.Allocations, 2)
	assert.Equal(t, []Allocation{{Class: "Report", Bytes: 2_000_000}}, d.LargeObjects)
}

func TestThreshold(t *testing.T) {
	c := New(config.Memory{Enabled: true, TrackAllocations: true}, nil)
	ctx, _ := execctx.Start(context.Background(), "")
	c.RecordAllocation(ctx, "a", 999_999)
	c.RecordAllocation(ctx, "b", 1_000_000)
	d := c.Drain(ctx)
	assert.Len(t, d.Allocations, 2)
	require.Len(t, d.LargeObjects, 1)
	assert.Equal(t, "b", d.LargeObjects[0].Class)
}

func TestDisabled(t *testing.T) {
	ctx, _ := execctx.Start(context.Background(), "")

	c := New(config.Memory{Enabled: false, TrackAllocations: true}, nil)
	c.Begin(ctx)
	c.RecordAllocation(ctx, "x", 10)
	d := c.Drain(ctx)
	assert.Nil(t, d.Before)
	assert.Empty(t, d.Allocations)

	c = New(config.Memory{Enabled: true, TrackAllocations: false}, nil)
	c.RecordAllocation(ctx, "x", 10)
	assert.Empty(t, c.Drain(ctx).Allocations)
}

func TestUntracked(t *testing.T) {
	c := New(config.Default().Memory, nil)
	ctx := context.Background()
	c.Begin(ctx)
	c.RecordAllocation(ctx, "x", 10)
	d := c.Drain(ctx)
	assert.Nil(t, d.Before)
	assert.Empty(t, d.Snapshots)
}

func TestRead(t *testing.T) {
	s := Read()
	assert.Greater(t, s.RSS, int64(0))
	assert.Greater(t, s.HeapAlloc, uint64(0))
	assert.Greater(t, s.TotalAllocatedObjects, uint64(0))
	assert.False(t, s.Timestamp.IsZero())
}

func TestBufferLimits(t *testing.T) {
	c := New(config.Memory{
		Enabled:          true,
		TrackAllocations: true,
		MaxSnapshots:     3,
		MaxAllocations:   2,
	}, nil)
	c.read = fakeReader(100, 200, 300, 400, 500, 600)

	ctx, _ := execctx.Start(context.Background(), "")
	c.Begin(ctx)
	for i := 0; i < 4; i++ {
		c.Mark(ctx, "loop")
	}
	c.End(ctx)
	for i := 0; i < 5; i++ {
		c.RecordAllocation(ctx, "Blob", 2_000_000+int64(i))
	}

	d := c.Drain(ctx)
	require.Len(t, d.Snapshots, 3)
	assert.Equal(t, int64(400), d.Snapshots[0].RSS)
	assert.Equal(t, 3, d.SnapshotsEvicted)
	require.NotNil(t, d.Before, "start snapshot kept after eviction")
	assert.Equal(t, int64(100), d.Before.RSS)
	require.NotNil(t, d.After)
	assert.Equal(t, int64(600), d.After.RSS)

	require.Len(t, d.Allocations, 2)
	assert.Equal(t, int64(2_000_003), d.Allocations[0].Bytes)
	assert.Equal(t, 3, d.AllocationsEvicted)
	assert.Len(t, d.LargeObjects, 2)
	assert.Equal(t, 3, d.LargeObjectsEvicted)
}
