package collector

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func TestGuard(t *testing.T) {
	l, hook := test.NewNullLogger()
	l.SetLevel(logrus.DebugLevel)

	before := testutil.ToFloat64(metricErrors.WithLabelValues("test"))
	assert.NotPanics(t, func() {
		Guard(l, "test", func() {
			panic("boom")
		})
	})
	assert.Equal(t, before+1, testutil.ToFloat64(metricErrors.WithLabelValues("test")))
	if assert.NotNil(t, hook.LastEntry()) {
		assert.Equal(t, "boom", hook.LastEntry().Data["panic"])
	}

	ran := false
	Guard(nil, "test", func() { ran = true })
	assert.True(t, ran)
}

func TestMilliseconds(t *testing.T) {
	assert.Equal(t, 12.5, Milliseconds(12500*time.Microsecond))
	assert.Equal(t, 150.25, Milliseconds(150250*time.Microsecond))
	assert.Equal(t, 0.001, Milliseconds(1400*time.Nanosecond))
}
