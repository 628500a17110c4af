package healthtracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PowerDNS/perfagent/config"
)

func TestSequence(t *testing.T) {
	ht := New(config.Health{ErrorSequence: 3, WarnSequence: 2, ErrorDuration: time.Hour, WarnDuration: time.Hour}, "test", "deliver", nil)

	assert.NoError(t, ht.CheckSequence())
	ht.AddFailure()
	assert.NoError(t, ht.CheckSequence())
	ht.AddFailure()
	err := ht.CheckSequence()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 consecutive times")
	ht.AddFailure()
	err = ht.CheckSequence()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 consecutive times")

	ht.AddSuccess()
	assert.NoError(t, ht.CheckSequence())
	assert.Equal(t, uint32(0), ht.Failures())
}

func TestDuration(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ht := New(config.Health{ErrorSequence: 100, WarnSequence: 100, ErrorDuration: 10 * time.Minute, WarnDuration: time.Minute}, "test", "deliver", nil)
	ht.now = func() time.Time { return now }

	assert.NoError(t, ht.CheckDuration())
	ht.AddFailure()
	assert.NoError(t, ht.CheckDuration())

	now = now.Add(2 * time.Minute)
	ht.AddFailure() // does not move the start of the failure period
	err := ht.CheckDuration()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "for 2m0s")

	now = now.Add(10 * time.Minute)
	err = ht.CheckDuration()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "for 12m0s")

	ht.AddSuccess()
	assert.NoError(t, ht.CheckDuration())
}

func TestValidated(t *testing.T) {
	hc := Validated(config.Health{})
	assert.Equal(t, MinEvaluationInterval, hc.EvaluationInterval)
	assert.Equal(t, uint32(1), hc.ErrorSequence)
}
