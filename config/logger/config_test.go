package logger

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck(t *testing.T) {
	assert.NoError(t, DefaultConfig.Check())

	c := DefaultConfig
	c.Output = "syslog"
	assert.ErrorContains(t, c.Check(), "log.output")

	c = DefaultConfig
	c.Fields = map[string]string{"component": "x"}
	assert.ErrorContains(t, c.Check(), "log.fields")

	c = DefaultConfig
	c.Level = "loud"
	assert.ErrorContains(t, c.Check(), "log.level")
}

func TestMerge(t *testing.T) {
	c := DefaultConfig
	c.Fields = map[string]string{"service": "web", "env": "prod"}
	m := c.Merge(Config{Output: "discard", Fields: map[string]string{"env": "staging"}})
	assert.Equal(t, "discard", m.Output)
	assert.Equal(t, "warning", m.Level)
	assert.Equal(t, map[string]string{"service": "web", "env": "staging"}, m.Fields)
	assert.Equal(t, "prod", c.Fields["env"], "original is not modified")
}

func TestConfigureLoggerFields(t *testing.T) {
	l := logrus.New()
	ConfigureLogger(l, Config{
		Level:  "info",
		Format: "json",
		Fields: map[string]string{"service": "web"},
	})
	var buf bytes.Buffer
	l.SetOutput(&buf)

	l.WithField("component", "delivery").Info("Sent")
	l.WithField("service", "override").Info("Own field wins")
	l.Debug("Not logged")

	dec := json.NewDecoder(&buf)
	var first, second map[string]any
	require.NoError(t, dec.Decode(&first))
	require.NoError(t, dec.Decode(&second))
	assert.Equal(t, "web", first["service"])
	assert.Equal(t, "delivery", first["component"])
	assert.Equal(t, "override", second["service"])
	assert.False(t, dec.More())
}

func TestConfigureLoggerOutput(t *testing.T) {
	l := logrus.New()
	ConfigureLogger(l, Config{Level: "info", Format: "logfmt", Output: "discard"})
	assert.Equal(t, io.Discard, l.Out)
}
