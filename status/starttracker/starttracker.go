// Package starttracker reports on /healthz whether the agent has finished
// starting up, which is when the first envelope reached the collector.
package starttracker

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wojas/go-healthz"
	"go.uber.org/atomic"

	"github.com/PowerDNS/perfagent/config"
	"github.com/PowerDNS/perfagent/config/logger"
	"github.com/PowerDNS/perfagent/delivery/events"
	"github.com/PowerDNS/perfagent/utils/topics"
)

type StartTracker struct {
	Config        config.Startup
	configured    atomic.Bool
	firstDelivery atomic.Bool
	since         atomic.Time
	prefix        string
	logger        logrus.FieldLogger
	now           func() time.Time
}

func New(sc config.Startup, prefix string, l logrus.FieldLogger) *StartTracker {
	st := &StartTracker{
		Config: Validated(sc),
		prefix: prefix,
		logger: logger.OrNull(l).WithField("starttracker", prefix),
		now:    time.Now,
	}
	st.since.Store(st.now())
	return st
}

// Name is the healthz name of the startup check.
func (st *StartTracker) Name() string {
	return fmt.Sprintf("%s_startup_in_progress", st.prefix)
}

// RegisterTracker adds the startup check to healthz. The check removes
// itself once startup has completed.
func (st *StartTracker) RegisterTracker() {
	if st.Config.ReportMetadata {
		healthz.SetMeta("startupCompleted", false)
	}
	healthz.Register(st.Name(), st.Config.EvaluationInterval, func() error {
		done, err := st.Check()
		if done {
			healthz.Deregister(st.Name())
		}
		return err
	})
	st.logger.Info("registered tracker for startup phase")
}

// Check evaluates the startup phase. It returns true once startup has
// completed, after which the check is no longer needed.
func (st *StartTracker) Check() (done bool, err error) {
	if !st.Completed() {
		if !st.Config.ReportHealthz {
			return false, nil
		}
		pending := st.now().Sub(st.since.Load()).Round(time.Second)
		if pending >= st.Config.ErrorDuration {
			st.logger.Debugf("startup pending after %s is violating the error threshold (%s)", pending, st.Config.ErrorDuration)
			return false, fmt.Errorf("startup pending after %s", pending)
		} else if pending >= st.Config.WarnDuration {
			st.logger.Debugf("startup pending after %s is violating the warning threshold (%s)", pending, st.Config.WarnDuration)
			return false, healthz.Warnf("startup pending after %s", pending)
		}
		return false, nil
	}

	if st.Config.ReportMetadata {
		healthz.SetMeta("startupCompleted", true)
	}
	st.logger.Info("startup phase completed successfully")
	return true, nil
}

// Completed returns true if all startup steps passed.
func (st *StartTracker) Completed() bool {
	return st.configured.Load() && st.firstDelivery.Load()
}

func (st *StartTracker) SetConfigured() {
	st.configured.Store(true)
	st.logger.Debug("tracked configuration loaded")
}

func (st *StartTracker) SetFirstDelivery() {
	st.firstDelivery.Store(true)
	st.logger.Debug("tracked first successful delivery")
}

// Watch marks the first delivery as passed when a successful result is
// published on the topic. It returns when that happens or when ctx is
// canceled.
func (st *StartTracker) Watch(ctx context.Context, delivered *topics.Topic[events.Result]) error {
	sub := delivered.Subscribe(true)
	defer sub.Close()
	for {
		r, err := sub.Next(ctx)
		if err != nil {
			return err
		}
		if r.OK() {
			st.SetFirstDelivery()
			return nil
		}
	}
}
