package transport

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/PowerDNS/perfagent/config"
)

// Memory keeps every envelope in memory. It never fails unless Err is set.
type Memory struct {
	mu        sync.Mutex
	envelopes []Envelope
	err       error
}

// NewMemory returns an empty Memory transport.
func NewMemory() *Memory {
	return &Memory{}
}

// Send implements Interface
func (m *Memory) Send(ctx context.Context, env Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.envelopes = append(m.envelopes, env)
	return nil
}

// SetError makes all following sends fail with err. A nil err restores
// normal operation.
func (m *Memory) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Envelopes returns a copy of all envelopes sent so far.
func (m *Memory) Envelopes() []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Envelope, len(m.envelopes))
	copy(out, m.envelopes)
	return out
}

// Len returns the number of envelopes sent so far.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.envelopes)
}

func init() {
	Register("memory", func(c config.Config, l logrus.FieldLogger) (Interface, error) {
		return NewMemory(), nil
	})
}
