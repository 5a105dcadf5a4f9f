package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGoogleStream(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t,
		func(r *http.Request, body []byte) {
			if r.URL.Path != "/models/gemini-2.0-flash:streamGenerateContent" {
				t.Errorf("path = %q", r.URL.Path)
			}
			if r.URL.Query().Get("alt") != "sse" {
				t.Errorf("alt = %q", r.URL.Query().Get("alt"))
			}
			if got := r.Header.Get("x-goog-api-key"); got != "test-key" {
				t.Errorf("x-goog-api-key = %q", got)
			}
			var req struct {
				SystemInstruction *struct {
					Parts []struct {
						Text string `json:"text"`
					} `json:"parts"`
				} `json:"systemInstruction"`
				Contents []struct {
					Role string `json:"role"`
				} `json:"contents"`
			}
			if err := json.Unmarshal(body, &req); err != nil {
				t.Fatalf("request body: %v", err)
			}
			if req.SystemInstruction == nil || req.SystemInstruction.Parts[0].Text != "be brief" {
				t.Errorf("systemInstruction = %+v", req.SystemInstruction)
			}
			// Assistant turns map to role "model".
			if len(req.Contents) != 2 || req.Contents[0].Role != "user" || req.Contents[1].Role != "model" {
				t.Errorf("contents = %+v", req.Contents)
			}
		},
		`{"candidates":[{"content":{"parts":[{"text":"Hel"}]}}]}`,
		`{"candidates":[{"content":{"parts":[{"text":"lo"}]}}]}`,
	))
	defer srv.Close()

	c := NewGoogleClient("test-key", srv.URL)
	stream, err := c.Stream(context.Background(), &GenerateRequest{
		Model: "gemini-2.0-flash",
		Messages: []Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "yes?"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	events := drain(t, stream)
	if len(events) != 2 || events[0].Text+events[1].Text != "Hello" {
		t.Fatalf("events = %+v", events)
	}
}

func TestGoogleStreamFunctionCall(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, nil,
		`{"candidates":[{"content":{"parts":[{"functionCall":{"name":"web_search","args":{"query":"go"}}}]}}]}`,
	))
	defer srv.Close()

	c := NewGoogleClient("test-key", srv.URL)
	stream, err := c.Stream(context.Background(), &GenerateRequest{
		Model:    "gemini-2.0-flash",
		Messages: []Message{{Role: "user", Content: "search"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	events := drain(t, stream)
	if len(events) != 1 {
		t.Fatalf("got %d events; want 1", len(events))
	}
	call := events[0].Call
	if call == nil || call.Name != "web_search" {
		t.Fatalf("call = %+v", call)
	}
	if string(call.Arguments) != `{"query":"go"}` {
		t.Errorf("arguments = %s", call.Arguments)
	}
}
