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

// GoogleClient implements the Gemini generateContent streaming client.
type GoogleClient struct {
	APIKey  string
	BaseURL string
	client  *http.Client
}

// NewGoogleClient creates a new Gemini API client.
func NewGoogleClient(apiKey, baseURL string) *GoogleClient {
	base := strings.TrimSpace(baseURL)
	if base == "" {
		base = "https://generativelanguage.googleapis.com/v1beta"
	}
	base = strings.TrimRight(base, "/")
	return &GoogleClient{
		APIKey:  apiKey,
		BaseURL: base,
		client: &http.Client{
			Timeout: 300 * time.Second,
		},
	}
}

type googlePart struct {
	Text         string `json:"text,omitempty"`
	FunctionCall *struct {
		Name string          `json:"name"`
		Args json.RawMessage `json:"args"`
	} `json:"functionCall,omitempty"`
}

type googleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []googlePart `json:"parts"`
}

type googleChatRequest struct {
	SystemInstruction *googleContent  `json:"systemInstruction,omitempty"`
	Contents          []googleContent `json:"contents"`
	Tools             []googleToolDef `json:"tools,omitempty"`
}

type googleToolDef struct {
	FunctionDeclarations []googleFunctionDecl `json:"functionDeclarations"`
}

type googleFunctionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type googleStreamChunk struct {
	Candidates []struct {
		Content googleContent `json:"content"`
	} `json:"candidates"`
}

// Stream opens a streaming generateContent request (alt=sse).
func (c *GoogleClient) Stream(ctx context.Context, req *GenerateRequest) (EventStream, error) {
	var body googleChatRequest
	for _, m := range req.Messages {
		if m.Role == "system" && body.SystemInstruction == nil && len(body.Contents) == 0 {
			body.SystemInstruction = &googleContent{Parts: []googlePart{{Text: m.Content}}}
			continue
		}
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		body.Contents = append(body.Contents, googleContent{
			Role:  role,
			Parts: []googlePart{{Text: m.Content}},
		})
	}
	if len(req.Tools) > 0 {
		decls := make([]googleFunctionDecl, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, googleFunctionDecl{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			})
		}
		body.Tools = []googleToolDef{{FunctionDeclarations: decls}}
	}

	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	u := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", c.BaseURL, req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", u, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, newAPIError(resp.StatusCode, string(respBody))
	}

	return &googleStream{body: resp.Body, sse: newSSEReader(resp.Body)}, nil
}

type googleStream struct {
	body    io.ReadCloser
	sse     *sseReader
	pending []Event
	done    bool
}

func (s *googleStream) Next() (Event, error) {
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
			s.done = true
			if err == io.EOF {
				return Event{}, io.EOF
			}
			return Event{}, err
		}

		var chunk googleStreamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			continue
		}
		if len(chunk.Candidates) == 0 {
			continue
		}
		for _, part := range chunk.Candidates[0].Content.Parts {
			if part.Text != "" {
				s.pending = append(s.pending, Event{Type: EventTextDelta, Text: part.Text})
			}
			if part.FunctionCall != nil {
				args := part.FunctionCall.Args
				if len(args) == 0 {
					args = json.RawMessage("{}")
				}
				s.pending = append(s.pending, Event{
					Type: EventToolCall,
					Call: &ToolCall{Name: part.FunctionCall.Name, Arguments: args},
				})
			}
		}
	}
}

func (s *googleStream) Close() error {
	s.done = true
	return s.body.Close()
}
