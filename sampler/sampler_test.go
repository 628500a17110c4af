package sampler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtremes(t *testing.T) {
	for i := 0; i < 1000; i++ {
		assert.True(t, ShouldSample(100))
		assert.True(t, ShouldSample(150))
		assert.False(t, ShouldSample(0))
		assert.False(t, ShouldSample(-5))
	}
}

func TestBoundaries(t *testing.T) {
	low := Sampler{IntN: func(n int) int { return 0 }}
	high := Sampler{IntN: func(n int) int { return n - 1 }}

	assert.True(t, low.ShouldSample(1))
	assert.False(t, high.ShouldSample(99))
	assert.True(t, high.ShouldSample(100))

	// Exactly rate out of 100 draws are accepted
	for _, rate := range []int{1, 25, 50, 99} {
		accepted := 0
		for v := 0; v < 100; v++ {
			v := v
			s := Sampler{IntN: func(n int) int { return v }}
			if s.ShouldSample(rate) {
				accepted++
			}
		}
		assert.Equal(t, rate, accepted, "rate %d", rate)
	}
}

func TestDistribution(t *testing.T) {
	const n = 100_000
	for _, rate := range []int{10, 50, 90} {
		accepted := 0
		for i := 0; i < n; i++ {
			if ShouldSample(rate) {
				accepted++
			}
		}
		assert.InDelta(t, float64(rate)/100, float64(accepted)/n, 0.02, "rate %d", rate)
	}
}
