package healthtracker

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

// Validated returns hc with the minimum values enforced.
func Validated(hc config.Health) config.Health {
	if hc.EvaluationInterval < MinEvaluationInterval {
		hc.EvaluationInterval = MinEvaluationInterval
	}
	if hc.ErrorDuration < MinErrorDuration {
		hc.ErrorDuration = MinErrorDuration
	}
	if hc.WarnDuration < MinWarnDuration {
		hc.WarnDuration = MinWarnDuration
	}
	// A zero sequence threshold would report failure without any failure
	if hc.ErrorSequence == 0 {
		hc.ErrorSequence = 1
	}
	if hc.WarnSequence == 0 {
		hc.WarnSequence = 1
	}
	return hc
}
