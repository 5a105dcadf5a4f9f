package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// OpenAIClient implements the OpenAI Chat Completions streaming client.
// It also serves any OpenAI-compatible endpoint (LM Studio and friends).
type OpenAIClient struct {
	APIKey  string
	BaseURL string
	client  *http.Client
}

// NewOpenAIClient creates a new OpenAI API client.
func NewOpenAIClient(apiKey string) *OpenAIClient {
	return NewOpenAIClientWithBaseURL(apiKey, "https://api.openai.com/v1")
}

// NewOpenAIClientWithBaseURL creates a new OpenAI-compatible API client.
func NewOpenAIClientWithBaseURL(apiKey, baseURL string) *OpenAIClient {
	base := strings.TrimSpace(baseURL)
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	base = strings.TrimRight(base, "/")
	return &OpenAIClient{
		APIKey:  apiKey,
		BaseURL: base,
		client: &http.Client{
			Timeout: 300 * time.Second,
		},
	}
}

type openAIChatRequest struct {
	Model    string          `json:"model"`
	Messages []Message       `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []openAIToolDef `json:"tools,omitempty"`
}

type openAIToolDef struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Stream opens a streaming chat completion request.
func (c *OpenAIClient) Stream(ctx context.Context, req *GenerateRequest) (EventStream, error) {
	body := openAIChatRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   true,
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, openAIToolDef{
			Type: "function",
			Function: openAIFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
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

	return &openAIStream{
		body:   resp.Body,
		sse:    newSSEReader(resp.Body),
		ncalls: make(map[int]*toolCallAccum),
	}, nil
}

type toolCallAccum struct {
	id   string
	name string
	args strings.Builder
}

type openAIStream struct {
	body    io.ReadCloser
	sse     *sseReader
	pending []Event
	ncalls  map[int]*toolCallAccum
	done    bool
}

func (s *openAIStream) Next() (Event, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}
		if s.done {
			return Event{}, io.EOF
		}

		_, data, err := s.sse.readEvent()
		if err != nil {
			s.flushToolCalls()
			s.done = true
			if len(s.pending) > 0 {
				continue
			}
			if err == io.EOF {
				return Event{}, io.EOF
			}
			return Event{}, err
		}

		if bytes.Equal(data, []byte("[DONE]")) {
			s.flushToolCalls()
			s.done = true
			continue
		}

		var chunk openAIStreamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			// A malformed chunk is skipped rather than killing the stream.
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		for _, tc := range choice.Delta.ToolCalls {
			acc, ok := s.ncalls[tc.Index]
			if !ok {
				acc = &toolCallAccum{}
				s.ncalls[tc.Index] = acc
			}
			if tc.ID != "" {
				acc.id = tc.ID
			}
			if tc.Function.Name != "" {
				acc.name = tc.Function.Name
			}
			acc.args.WriteString(tc.Function.Arguments)
		}

		if choice.Delta.Content != "" {
			return Event{Type: EventTextDelta, Text: choice.Delta.Content}, nil
		}
		if choice.FinishReason == "tool_calls" {
			s.flushToolCalls()
		}
	}
}

// flushToolCalls moves completed tool-call accumulators into the pending queue.
func (s *openAIStream) flushToolCalls() {
	if len(s.ncalls) == 0 {
		return
	}
	indices := make([]int, 0, len(s.ncalls))
	for i := range s.ncalls {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	for _, i := range indices {
		acc := s.ncalls[i]
		if acc.name == "" {
			continue
		}
		args := strings.TrimSpace(acc.args.String())
		if args == "" {
			args = "{}"
		}
		s.pending = append(s.pending, Event{
			Type: EventToolCall,
			Call: &ToolCall{ID: acc.id, Name: acc.name, Arguments: json.RawMessage(args)},
		})
	}
	s.ncalls = make(map[int]*toolCallAccum)
}

func (s *openAIStream) Close() error {
	s.done = true
	return s.body.Close()
}
