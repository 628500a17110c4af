package starttracker

import (
	"time"

	"github.com/PowerDNS/perfagent/config"
)

const (
	// MinEvaluationInterval is the minimum interval allowed between healthz evaluation
	MinEvaluationInterval = time.Second

	// MinErrorDuration is the minimum duration before healthz evaluates a tracked item as failing
	MinErrorDuration = 0 * time.Second

	// MinWarnDuration is the minimum duration before healthz evaluates a tracked item as warning
	MinWarnDuration = 0 * time.Second
)

// Validated returns sc with the minimum values enforced.
func Validated(sc config.Startup) config.Startup {
	if sc.EvaluationInterval < MinEvaluationInterval {
		sc.EvaluationInterval = MinEvaluationInterval
	}
	if sc.ErrorDuration < MinErrorDuration {
		sc.ErrorDuration = MinErrorDuration
	}
	if sc.WarnDuration < MinWarnDuration {
		sc.WarnDuration = MinWarnDuration
	}
	return sc
}
