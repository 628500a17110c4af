package subscriber

import (
	"context"
)

// Hooks allow running extra code at specific points of the execution
// lifecycle. All hooks are optional. Panics in hooks are recovered.
type Hooks struct {
	// BeforeDeliver is called with the assembled payload of every message,
	// before truncation. It may modify the payload. The message is dropped
	// if it returns false.
	BeforeDeliver func(ctx context.Context, info MessageInfo) bool

	// AfterFinish is called when an execution was finished, whether or not
	// anything was delivered.
	AfterFinish func(ctx context.Context, info FinishInfo)
}

// MessageInfo is passed to Hooks.BeforeDeliver.
type MessageInfo struct {
	Event   string
	Error   bool
	Payload map[string]any
}

// FinishInfo is passed to Hooks.AfterFinish.
type FinishInfo struct {
	ExecutionID string
	Kind        Kind
	Name        string // Controller or job class
	Sampled     bool
	Delivered   bool // The metrics message was dispatched
}
