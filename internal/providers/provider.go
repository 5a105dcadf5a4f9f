// Package providers implements the model provider registry and the
// streaming clients for each upstream backend.
package providers

import (
	"context"
	"encoding/json"
)

// Message is a single flattened message sent upstream.
type Message struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

// ToolSpec describes a tool offered to the model for the duration of a request.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON schema
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// EventType tags one unit of incremental provider output.
type EventType int

const (
	// EventTextDelta carries a fragment of assistant text.
	EventTextDelta EventType = iota
	// EventToolCall carries a fully assembled tool invocation request.
	EventToolCall
)

// Event is one unit of incremental output from a provider stream.
type Event struct {
	Type EventType
	Text string
	Call *ToolCall
}

// GenerateRequest is a streaming generation request against one backend.
type GenerateRequest struct {
	Model    string
	Messages []Message
	Tools    []ToolSpec
}

// EventStream is a single-pass pull iterator over a provider's output.
// Next returns io.EOF at the natural end of the stream. Close releases the
// underlying network response; after Close, Next returns io.EOF promptly.
type EventStream interface {
	Next() (Event, error)
	Close() error
}

// Client is the capability shared by all backends: given a message sequence,
// produce a lazy sequence of output events.
type Client interface {
	Stream(ctx context.Context, req *GenerateRequest) (EventStream, error)
}
