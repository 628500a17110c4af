// Package collector holds what the event collectors have in common.
//
// Collectors run inline with host code. They must never block for long,
// and they must never let an error or panic escape into the host. Guard
// is used around every callback to enforce the latter.
package collector

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Guard runs fn and recovers any panic. Panics are counted and logged at
// debug level only: instrumentation problems must not be noisy.
func Guard(l logrus.FieldLogger, collector string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			metricErrors.WithLabelValues(collector).Inc()
			if l != nil {
				l.WithField("collector", collector).
					WithField("panic", fmt.Sprint(r)).
					Debug("Instrumentation error ignored")
			}
		}
	}()
	fn()
}

// Recorded counts one event appended by a collector.
func Recorded(collector string) {
	metricEvents.WithLabelValues(collector).Inc()
}

// Milliseconds converts a duration to fractional milliseconds, rounded to
// microseconds.
func Milliseconds(d time.Duration) float64 {
	return float64(d.Round(time.Microsecond)) / float64(time.Millisecond)
}
