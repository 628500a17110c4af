package transport

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/PowerDNS/perfagent/config"
	"github.com/PowerDNS/perfagent/config/logger"
)

// Log writes envelopes to a logger instead of sending them. Useful during
// development.
type Log struct {
	l logrus.FieldLogger
}

// NewLog creates a Log transport.
func NewLog(l logrus.FieldLogger) *Log {
	return &Log{l: logger.OrNull(l).WithField("component", "transport")}
}

// Send implements Interface
func (t *Log) Send(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return err
	}
	t.l.WithFields(logrus.Fields{
		"event":    env.Event,
		"error":    env.Error,
		"revision": env.Revision,
		"sent_at":  env.SentAt,
		"payload":  string(payload),
	}).Info("Telemetry envelope")
	return nil
}

func init() {
	Register("log", func(c config.Config, l logrus.FieldLogger) (Interface, error) {
		return NewLog(l), nil
	})
}
