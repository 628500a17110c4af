package utils

import (
	"context"
	"math/rand/v2"
	"time"
)

// SleepContext sleeps for given duration. If the context closes in the
// meantime, it returns immediately with a context.Canceled error.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return context.Canceled
	case <-t.C:
		return nil
	}
}

// SleepContextPerturb sleeps for given duration like SleepContext, but it
// perturbs the duration with a 20% random component, so that generated
// traffic does not arrive in lockstep.
// If the context closes in the meantime, it returns immediately with a
// context.Canceled error.
func SleepContextPerturb(ctx context.Context, d time.Duration) error {
	r := rand.IntN(400)
	// Random duration between 80% and 120% of original
	d = time.Duration(800+r) * d / 1000
	return SleepContext(ctx, d)
}

// IsCanceled checks if the context has been canceled.
func IsCanceled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// TimeDiff returns the difference between two times, rounded to milliseconds.
func TimeDiff(t1, t0 time.Time) time.Duration {
	return t1.Sub(t0).Round(time.Millisecond)
}
