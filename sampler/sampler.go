// Package sampler decides which executions are reported.
package sampler

import (
	"math/rand/v2"
)

// Sampler makes sampling decisions. The zero value uses the global random
// source and is safe for concurrent use.
type Sampler struct {
	// IntN returns a uniform random int in [0, n). It must be safe for
	// concurrent use if the Sampler is shared. Nil means rand.IntN.
	IntN func(n int) int
}

// ShouldSample returns true if an execution must be reported at the given
// rate in percent. A rate of 100 or more always samples, 0 or less never
// does.
func (s Sampler) ShouldSample(rate int) bool {
	if rate >= 100 {
		return true
	}
	if rate <= 0 {
		return false
	}
	intn := s.IntN
	if intn == nil {
		intn = rand.IntN
	}
	return intn(100)+1 <= rate
}

var global Sampler

// ShouldSample uses the global random source.
func ShouldSample(rate int) bool {
	return global.ShouldSample(rate)
}
