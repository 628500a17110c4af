// Package transport implements the pluggable senders of telemetry envelopes.
//
// Transports register themselves by name, and the delivery client picks one
// based on the delivery.transport setting.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/PowerDNS/perfagent/config"
)

// ErrStatus is wrapped by errors for non-2xx collector responses.
var ErrStatus = errors.New("unexpected response status")

// Envelope is the wire format of a single telemetry message.
type Envelope struct {
	Event    string         `json:"event"`
	Payload  map[string]any `json:"payload"`
	SentAt   string         `json:"sent_at"` // RFC 3339, UTC
	Revision string         `json:"revision"`
	Error    bool           `json:"error,omitempty"`
}

// Interface defines the interface transports need to implement.
// Send must honor the context deadline.
type Interface interface {
	Send(ctx context.Context, env Envelope) error
}

// InitFunc creates a transport for a config.
type InitFunc func(c config.Config, l logrus.FieldLogger) (Interface, error)

var (
	mu         sync.Mutex
	transports = make(map[string]InitFunc)
)

// Register registers a transport under a name.
func Register(name string, initFunc InitFunc) {
	mu.Lock()
	defer mu.Unlock()
	transports[name] = initFunc
}

// Get creates the transport configured in c.Delivery.Transport.
func Get(c config.Config, l logrus.FieldLogger) (Interface, error) {
	name := c.Delivery.Transport
	if name == "" {
		return nil, fmt.Errorf("no delivery.transport configured")
	}
	mu.Lock()
	initFunc, exists := transports[name]
	mu.Unlock()
	if !exists {
		return nil, fmt.Errorf("delivery.transport %q not found or registered", name)
	}
	return initFunc(c, l)
}

// Names returns the sorted names of all registered transports.
func Names() []string {
	mu.Lock()
	defer mu.Unlock()
	var names []string
	for name := range transports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
