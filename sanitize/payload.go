package sanitize

import (
	"sort"
)

// Limits bounds the size of a payload tree.
type Limits struct {
	MaxString int // Default maximum length of string leaves
	MaxArray  int // Maximum number of array elements
	MaxKeys   int // Maximum number of keys per map
	MaxDepth  int // Containers nested deeper are replaced by MaxDepthMarker

	// KeyString overrides MaxString for strings (and arrays of strings)
	// stored directly under a given map key.
	KeyString map[string]int
}

// MaxDepthMarker replaces containers beyond Limits.MaxDepth.
const MaxDepthMarker = "[MAX DEPTH]"

// DefaultLimits are used for delivered payloads.
var DefaultLimits = Limits{
	MaxString: 1000,
	MaxArray:  20,
	MaxKeys:   30,
	MaxDepth:  8,
	KeyString: map[string]int{
		"sql":       MaxSQLLength + len(Ellipsis),
		"message":   500,
		"backtrace": 300,
		"url":       500,
		"template":  200,
	},
}

// Payload returns a bounded copy of a JSON-like tree. Keys that look
// sensitive are dropped before anything else is applied.
//
// Only the types produced by decoding JSON into an `any` are walked:
// map[string]any, []any, string, float64, bool and nil. Anything else is
// passed through untouched.
func Payload(v any, l Limits) any {
	return walk(v, l, l.MaxString, 0)
}

func walk(v any, l Limits, maxString, depth int) any {
	switch t := v.(type) {
	case string:
		return Truncate(t, maxString)
	case []any:
		if l.MaxDepth > 0 && depth >= l.MaxDepth {
			return MaxDepthMarker
		}
		n := len(t)
		if l.MaxArray > 0 && n > l.MaxArray {
			n = l.MaxArray
		}
		out := make([]any, n)
		for i := 0; i < n; i++ {
			out[i] = walk(t[i], l, maxString, depth+1)
		}
		return out
	case map[string]any:
		if l.MaxDepth > 0 && depth >= l.MaxDepth {
			return MaxDepthMarker
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			if IsSensitiveKey(k) {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if l.MaxKeys > 0 && len(keys) > l.MaxKeys {
			keys = keys[:l.MaxKeys]
		}
		out := make(map[string]any, len(keys))
		for _, k := range keys {
			childMax := l.MaxString
			if m, ok := l.KeyString[k]; ok {
				childMax = m
			}
			out[k] = walk(t[k], l, childMax, depth+1)
		}
		return out
	default:
		return v
	}
}
