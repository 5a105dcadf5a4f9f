// Package chat implements the stream orchestrator: it resolves a provider
// for a conversation turn, runs the tool-capped generation loop, forwards
// stream events to the transport, and persists the final transcript.
package chat

import "encoding/json"

// Event types forwarded to the transport encoder.
const (
	EventStart          = "start"
	EventTextDelta      = "text-delta"
	EventToolCallStart  = "tool-call-start"
	EventToolCallResult = "tool-call-result"
	EventError          = "error"
	EventDone           = "done"
)

// Event is one unit of orchestrator output. Produced once, consumed once by
// the transport encoder; never persisted.
type Event struct {
	Type    string
	ID      string // start: turn id
	Content string // text-delta: text fragment
	Tool    string // tool-call-*: tool name
	Label   string // tool-call-start: display label
	Input   json.RawMessage
	Output  string
	Err     string
}

// Sink receives orchestrator events. A Send error means the caller is gone;
// the orchestrator stops consuming upstream and skips final persistence.
type Sink interface {
	Send(Event) error
}
