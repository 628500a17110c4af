package starttracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PowerDNS/perfagent/config"
	"github.com/PowerDNS/perfagent/delivery/events"
)

func newTracker(sc config.Startup) (*StartTracker, *time.Time) {
	st := New(sc, "test", nil)
	now := st.since.Load()
	st.now = func() time.Time { return now }
	return st, &now
}

func TestCheck(t *testing.T) {
	st, now := newTracker(config.Startup{
		ErrorDuration: 10 * time.Minute,
		WarnDuration:  time.Minute,
		ReportHealthz: true,
	})

	done, err := st.Check()
	assert.False(t, done)
	assert.NoError(t, err)

	*now = now.Add(2 * time.Minute)
	_, err = st.Check()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "startup pending after 2m0s")

	*now = now.Add(10 * time.Minute)
	_, err = st.Check()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "12m0s")

	st.SetConfigured()
	assert.False(t, st.Completed())
	st.SetFirstDelivery()
	assert.True(t, st.Completed())
	done, err = st.Check()
	assert.True(t, done)
	assert.NoError(t, err)
}

func TestCheckWithoutReporting(t *testing.T) {
	st, now := newTracker(config.Startup{})
	*now = now.Add(time.Hour)
	done, err := st.Check()
	assert.False(t, done)
	assert.NoError(t, err)
}

func TestValidated(t *testing.T) {
	sc := Validated(config.Startup{EvaluationInterval: time.Millisecond, WarnDuration: -time.Second})
	assert.Equal(t, MinEvaluationInterval, sc.EvaluationInterval)
	assert.Equal(t, MinWarnDuration, sc.WarnDuration)
}

func TestWatch(t *testing.T) {
	st, _ := newTracker(config.Startup{})
	ev := events.New()
	ev.Delivered.Publish(events.Result{Event: "x", Err: errors.New("down")})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- st.Watch(ctx, ev.Delivered)
	}()

	// Failed results are ignored. Publishing repeatedly avoids depending on
	// when the subscription is created.
	for !st.firstDelivery.Load() {
		ev.Delivered.Publish(events.Result{Event: "x"})
		time.Sleep(time.Millisecond)
	}
	require.NoError(t, <-done)
}

func TestWatchCanceled(t *testing.T) {
	st, _ := newTracker(config.Startup{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := st.Watch(ctx, events.New().Delivered)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, st.firstDelivery.Load())
}
