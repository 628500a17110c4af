// Package healthtracker reports consecutive delivery failures as healthz
// checks.
package healthtracker

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wojas/go-healthz"
	"go.uber.org/atomic"

	"github.com/PowerDNS/perfagent/config"
	"github.com/PowerDNS/perfagent/config/logger"
)

// HealthTracker tracks the success of a repeated activity, like sending
// telemetry to the collector. It implements delivery.Health.
type HealthTracker struct {
	Config   config.Health
	sequence atomic.Uint32
	since    atomic.Time
	prefix   string
	activity string
	logger   logrus.FieldLogger
	now      func() time.Time
}

// New creates a HealthTracker. Call Register to add its checks to healthz.
func New(hc config.Health, prefix string, activity string, l logrus.FieldLogger) *HealthTracker {
	return &HealthTracker{
		Config:   Validated(hc),
		prefix:   prefix,
		activity: activity,
		logger:   logger.OrNull(l).WithField("healthtracker", prefix),
		now:      time.Now,
	}
}

// Register registers the sequence and duration checks with healthz.
func (ht *HealthTracker) Register() {
	healthz.Register(ht.SequenceName(), ht.Config.EvaluationInterval, ht.CheckSequence)
	healthz.Register(ht.DurationName(), ht.Config.EvaluationInterval, ht.CheckDuration)
	ht.logger.Info("registered delivery health trackers")
}

// Deregister removes the checks from healthz.
func (ht *HealthTracker) Deregister() {
	healthz.Deregister(ht.SequenceName())
	healthz.Deregister(ht.DurationName())
}

// SequenceName is the healthz name of the consecutive failures check.
func (ht *HealthTracker) SequenceName() string {
	return fmt.Sprintf("%s_failed_attempts", ht.prefix)
}

// DurationName is the healthz name of the failure duration check.
func (ht *HealthTracker) DurationName() string {
	return fmt.Sprintf("%s_failed_duration", ht.prefix)
}

// CheckSequence evaluates the number of consecutive failures.
func (ht *HealthTracker) CheckSequence() error {
	conseqFails := ht.sequence.Load()

	if conseqFails >= ht.Config.ErrorSequence {
		ht.logger.Warnf("%d consecutive failures is violating the error threshold (%d)", conseqFails, ht.Config.ErrorSequence)
		return fmt.Errorf("failed to %s %d consecutive times", ht.activity, conseqFails)
	} else if conseqFails >= ht.Config.WarnSequence {
		ht.logger.Debugf("%d consecutive failures is violating the warning threshold (%d)", conseqFails, ht.Config.WarnSequence)
		return healthz.Warnf("failed to %s %d consecutive times", ht.activity, conseqFails)
	}
	return nil
}

// CheckDuration evaluates how long the activity has been failing.
func (ht *HealthTracker) CheckDuration() error {
	conseqFails := ht.sequence.Load()
	if conseqFails == 0 {
		return nil
	}
	failingFor := ht.now().Sub(ht.since.Load())

	if failingFor >= ht.Config.ErrorDuration {
		ht.logger.Warnf("failure for %s is violating the error threshold (%s)", failingFor.Round(time.Second), ht.Config.ErrorDuration)
		return fmt.Errorf("failed to %s for %s", ht.activity, failingFor.Round(time.Second))
	} else if failingFor >= ht.Config.WarnDuration {
		ht.logger.Debugf("failure for %s is violating the warning threshold (%s)", failingFor.Round(time.Second), ht.Config.WarnDuration)
		return healthz.Warnf("failed to %s for %s", ht.activity, failingFor.Round(time.Second))
	}
	return nil
}

// AddFailure tracks a failed attempt.
func (ht *HealthTracker) AddFailure() {
	if ht.sequence.Load() == 0 {
		ht.since.Store(ht.now())
	}
	failures := ht.sequence.Inc()
	ht.logger.Debugf("incremented consecutive failures to %d", failures)
}

// AddSuccess tracks a successful attempt.
func (ht *HealthTracker) AddSuccess() {
	ht.sequence.Store(0)
}

// Failures returns the number of consecutive failures.
func (ht *HealthTracker) Failures() uint32 {
	return ht.sequence.Load()
}
