// Package aggregate reduces the raw events of an execution into compact
// summaries. All functions are pure.
package aggregate

import (
	"github.com/samber/lo"
	"golang.org/x/exp/slices"

	"github.com/PowerDNS/perfagent/collector/httpclient"
	"github.com/PowerDNS/perfagent/collector/query"
	"github.com/PowerDNS/perfagent/collector/view"
)

// DefaultSlowest is the number of slowest renders reported by default.
const DefaultSlowest = 5

// QuerySummary summarizes the SQL queries of an execution.
type QuerySummary struct {
	Count           int     `json:"count"`
	TotalDurationMS float64 `json:"total_duration_ms"`
	CachedCount     int     `json:"cached_count"`
	SlowestMS       float64 `json:"slowest_ms"`
}

// Queries summarizes queries.
func Queries(qs []query.Query) QuerySummary {
	s := QuerySummary{Count: len(qs)}
	for _, q := range qs {
		s.TotalDurationMS += q.DurationMS
		if q.Cached {
			s.CachedCount++
		}
		if q.DurationMS > s.SlowestMS {
			s.SlowestMS = q.DurationMS
		}
	}
	return s
}

// KindStats holds per kind render totals.
type KindStats struct {
	Count   int     `json:"count"`
	TotalMS float64 `json:"total_ms"`
}

// ViewSummary summarizes the renders of an execution.
type ViewSummary struct {
	TotalRenders           int                     `json:"total_renders"`
	TotalDurationMS        float64                 `json:"total_duration_ms"`
	AverageDurationMS      float64                 `json:"average_duration_ms"`
	ByKind                 map[view.Kind]KindStats `json:"by_kind"`
	Slowest                []view.Render           `json:"slowest"`
	PartialCacheHitRate    float64                 `json:"partial_cache_hit_rate"`
	CollectionCacheHitRate float64                 `json:"collection_cache_hit_rate"`
}

// Views summarizes renders. The n slowest renders are included, ties are
// kept in the order they were observed. A non-positive n uses
// DefaultSlowest.
func Views(rs []view.Render, n int) ViewSummary {
	if n <= 0 {
		n = DefaultSlowest
	}
	s := ViewSummary{
		TotalRenders: len(rs),
		ByKind:       make(map[view.Kind]KindStats),
	}
	for _, r := range rs {
		s.TotalDurationMS += r.DurationMS
		ks := s.ByKind[r.Kind]
		ks.Count++
		ks.TotalMS += r.DurationMS
		s.ByKind[r.Kind] = ks
	}
	if len(rs) > 0 {
		s.AverageDurationMS = s.TotalDurationMS / float64(len(rs))
	}

	sorted := slices.Clone(rs)
	slices.SortStableFunc(sorted, func(a, b view.Render) int {
		return compareDesc(a.DurationMS, b.DurationMS)
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	s.Slowest = sorted

	s.PartialCacheHitRate = hitRate(rs, view.KindPartial)
	s.CollectionCacheHitRate = hitRate(rs, view.KindCollection)
	return s
}

// hitRate returns hits/(hits+misses) for renders of a kind. Renders without
// cache information are not counted. Returns 0 when there are none.
func hitRate(rs []view.Render, kind view.Kind) float64 {
	var hits, total int
	for _, r := range rs {
		if r.Kind != kind || r.CacheHit == nil {
			continue
		}
		total++
		if *r.CacheHit {
			hits++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// CallSummary summarizes outgoing HTTP calls.
type CallSummary struct {
	Count           int            `json:"count"`
	TotalDurationMS float64        `json:"total_duration_ms"`
	ErrorCount      int            `json:"error_count"`
	ByHost          map[string]int `json:"by_host"`
}

// Calls summarizes outgoing HTTP calls. A call counts as an error when it
// failed at the transport level or returned a 5xx status.
func Calls(cs []httpclient.Call) CallSummary {
	return CallSummary{
		Count: len(cs),
		TotalDurationMS: lo.SumBy(cs, func(c httpclient.Call) float64 {
			return c.DurationMS
		}),
		ErrorCount: lo.CountBy(cs, func(c httpclient.Call) bool {
			return c.ErrorClass != "" || c.Status >= 500
		}),
		ByHost: lo.CountValuesBy(cs, func(c httpclient.Call) string {
			return c.Host
		}),
	}
}

func compareDesc(a, b float64) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	default:
		return 0
	}
}
