package status

import (
	"sort"
	"sync"
	"time"

	"github.com/c2h5oh/datasize"

	"github.com/PowerDNS/perfagent/breaker"
	"github.com/PowerDNS/perfagent/collector/memory"
	"github.com/PowerDNS/perfagent/delivery"
)

type info struct {
	mu      sync.Mutex
	clients map[string]*delivery.Client
}

// ClientInfo is the state of a delivery Client shown on the status page.
type ClientInfo struct {
	Name        string
	Revision    string
	State       breaker.State
	Failures    int
	LastFailure time.Time
	LastSuccess time.Time
	Stats       delivery.Stats
	Dropped     uint64 // Events missed by slow subscribers
}

// ProcessInfo is the memory state of the process.
type ProcessInfo struct {
	RSS       datasize.ByteSize
	HeapAlloc datasize.ByteSize
	GCCount   uint32
}

var gi = info{
	clients: make(map[string]*delivery.Client),
}

func (i *info) ClientInfo() (res []ClientInfo) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for name, c := range i.clients {
		snap := c.Breaker().Snapshot()
		ev := c.Events()
		res = append(res, ClientInfo{
			Name:        name,
			Revision:    c.Revision(),
			State:       snap.State,
			Failures:    snap.Failures,
			LastFailure: snap.LastFailure,
			LastSuccess: snap.LastSuccess,
			Stats:       c.Stats(),
			Dropped:     ev.Delivered.Dropped() + ev.Skipped.Dropped(),
		})
	}
	sort.Slice(res, func(a, b int) bool {
		return res[a].Name < res[b].Name
	})
	return res
}

func (i *info) ProcessInfo() ProcessInfo {
	s := memory.Read()
	return ProcessInfo{
		RSS:       datasize.ByteSize(s.RSS),
		HeapAlloc: datasize.ByteSize(s.HeapAlloc),
		GCCount:   s.GCCount,
	}
}

// AddClient registers a delivery Client with the status page
func AddClient(name string, c *delivery.Client) {
	gi.mu.Lock()
	defer gi.mu.Unlock()
	gi.clients[name] = c
}

func RemoveClient(name string) {
	gi.mu.Lock()
	defer gi.mu.Unlock()
	delete(gi.clients, name)
}
