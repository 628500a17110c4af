// Package events defines the delivery event topics that can be subscribed
// to, for example by the status page or tests.
package events

import (
	"time"

	"github.com/PowerDNS/perfagent/utils/topics"
)

// New returns an initialized Events struct
func New() *Events {
	return &Events{
		Delivered: topics.New[Result](),
		Skipped:   topics.New[Skip](),
	}
}

// Events contains event topics that can be subscribed to.
// Publishing never blocks, slow subscribers miss events.
type Events struct {
	// Delivered is triggered when a delivery attempt completed, whether it
	// succeeded or not.
	Delivered *topics.Topic[Result]

	// Skipped is triggered when a message was dropped before any attempt
	// was made.
	Skipped *topics.Topic[Skip]
}

// Result describes the outcome of a delivery attempt.
type Result struct {
	Event    string
	Error    bool // The message was an error report
	Err      error
	Duration time.Duration
}

// OK returns true if the delivery succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Skip describes a message that was not sent.
type Skip struct {
	Event  string
	Reason string
}
