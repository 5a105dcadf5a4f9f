package chat

import (
	"errors"
	"fmt"
	"strings"
)

// ErrValidation marks malformed turn input, reported as a 400.
var ErrValidation = errors.New("invalid turn")

// Part is one element of a structured message body. Only text parts carry
// content; other part kinds are ignored when flattening.
type Part struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TurnMessage is one message of a turn, either flattened or part-structured.
type TurnMessage struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
	Parts   []Part `json:"parts,omitempty"`
}

// Flatten returns the message's text content.
func (m TurnMessage) Flatten() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// Turn is one in-flight exchange: the accumulated history plus the new user
// message, a target model, and optionally a system prompt and conversation.
type Turn struct {
	Messages       []TurnMessage `json:"messages"`
	Model          string        `json:"model"`
	SystemPrompt   string        `json:"systemPrompt,omitempty"`
	ConversationID *int64        `json:"conversationId,omitempty"`
}

func (t *Turn) validate() error {
	if len(t.Messages) == 0 {
		return fmt.Errorf("%w: messages are required", ErrValidation)
	}
	for i, m := range t.Messages {
		switch m.Role {
		case "user", "assistant", "system":
		default:
			return fmt.Errorf("%w: message %d has invalid role %q", ErrValidation, i, m.Role)
		}
	}
	return nil
}
