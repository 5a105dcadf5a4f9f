package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const anthropicMaxTokens = 4096

// AnthropicClient implements the Anthropic Messages streaming client.
type AnthropicClient struct {
	APIKey  string
	BaseURL string
	client  *http.Client
}

// NewAnthropicClient creates a new Anthropic-compatible API client.
func NewAnthropicClient(apiKey, baseURL string) *AnthropicClient {
	base := strings.TrimSpace(baseURL)
	if base == "" {
		base = "https://api.anthropic.com/v1"
	}
	base = strings.TrimRight(base, "/")
	return &AnthropicClient{
		APIKey:  apiKey,
		BaseURL: base,
		client: &http.Client{
			Timeout: 300 * time.Second,
		},
	}
}

type anthropicChatRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	System    string          `json:"system,omitempty"`
	Messages  []Message       `json:"messages"`
	Stream    bool            `json:"stream"`
	Tools     []anthropicTool `json:"tools,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// anthropicStreamEvent covers the event payloads the stream loop needs.
type anthropicStreamEvent struct {
	Type         string `json:"type"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Stream opens a streaming messages request.
func (c *AnthropicClient) Stream(ctx context.Context, req *GenerateRequest) (EventStream, error) {
	body := anthropicChatRequest{
		Model:     req.Model,
		MaxTokens: anthropicMaxTokens,
		Stream:    true,
	}
	// The orchestrator prepends the system prompt as a leading message;
	// Anthropic wants it as a top-level field instead.
	for _, m := range req.Messages {
		if m.Role == "system" && body.System == "" && len(body.Messages) == 0 {
			body.System = m.Content
			continue
		}
		body.Messages = append(body.Messages, m)
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}

	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/messages", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, newAPIError(resp.StatusCode, string(respBody))
	}

	return &anthropicStream{body: resp.Body, sse: newSSEReader(resp.Body)}, nil
}

type anthropicStream struct {
	body io.ReadCloser
	sse  *sseReader
	done bool

	// in-flight tool_use block, assembled from input_json_delta fragments
	toolID   string
	toolName string
	toolArgs strings.Builder
}

func (s *anthropicStream) Next() (Event, error) {
	for {
		if s.done {
			return Event{}, io.EOF
		}

		_, data, err := s.sse.readEvent()
		if err != nil {
			s.done = true
			if err == io.EOF {
				return Event{}, io.EOF
			}
			return Event{}, err
		}

		var ev anthropicStreamEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "content_block_start":
			if ev.ContentBlock.Type == "tool_use" {
				s.toolID = ev.ContentBlock.ID
				s.toolName = ev.ContentBlock.Name
				s.toolArgs.Reset()
			}
		case "content_block_delta":
			switch ev.Delta.Type {
			case "text_delta":
				if ev.Delta.Text != "" {
					return Event{Type: EventTextDelta, Text: ev.Delta.Text}, nil
				}
			case "input_json_delta":
				s.toolArgs.WriteString(ev.Delta.PartialJSON)
			}
		case "content_block_stop":
			if s.toolName != "" {
				args := strings.TrimSpace(s.toolArgs.String())
				if args == "" {
					args = "{}"
				}
				call := &ToolCall{ID: s.toolID, Name: s.toolName, Arguments: json.RawMessage(args)}
				s.toolID, s.toolName = "", ""
				s.toolArgs.Reset()
				return Event{Type: EventToolCall, Call: call}, nil
			}
		case "message_stop":
			s.done = true
			return Event{}, io.EOF
		case "error":
			s.done = true
			return Event{}, fmt.Errorf("anthropic stream error: %s: %s", ev.Error.Type, ev.Error.Message)
		}
	}
}

func (s *anthropicStream) Close() error {
	s.done = true
	return s.body.Close()
}
