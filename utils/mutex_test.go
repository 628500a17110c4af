package utils

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitoredMutex(t *testing.T) {
	l, hook := test.NewNullLogger()
	m := MonitoredMutex{Logger: l, Name: "test", Limit: 5 * time.Millisecond}

	m.Lock()
	m.Unlock()
	assert.Empty(t, hook.AllEntries())

	m.Lock()
	time.Sleep(10 * time.Millisecond)
	m.Unlock()
	require.Len(t, hook.AllEntries(), 1)
	e := hook.LastEntry()
	assert.Equal(t, logrus.WarnLevel, e.Level)
	assert.Equal(t, "test", e.Data["lock_name"])
}
