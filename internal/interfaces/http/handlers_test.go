package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chatrelay/chatrelay/internal/chat"
	"github.com/chatrelay/chatrelay/internal/config"
	"github.com/chatrelay/chatrelay/internal/providers"
	"github.com/chatrelay/chatrelay/internal/store"
	"github.com/chatrelay/chatrelay/internal/tools"
)

// fakeUpstream is an OpenAI-compatible endpoint replying with fixed deltas.
func fakeUpstream(t *testing.T, deltas ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range deltas {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", d)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func newTestServer(t *testing.T, upstreamURL string) (*httptest.Server, *store.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Default()
	cfg.Providers = map[string]config.ProviderConfig{
		"openai": {APIKey: "test-key", BaseURL: upstreamURL},
	}

	st, err := store.Open(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	orch := chat.NewOrchestrator(cfg, providers.NewRegistry(cfg, logger), tools.NewRegistry(cfg, logger), st, logger)
	server := NewServer(cfg, logger, orch, st, "test")

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts, st
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, "http://unused")

	var body struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	resp := getJSON(t, ts.URL+"/health", &body)
	if resp.StatusCode != 200 || body.Status != "ok" || body.Version != "test" {
		t.Errorf("status=%d body=%+v", resp.StatusCode, body)
	}
}

func TestModelsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, "http://unused")

	var body struct {
		Default string               `json:"default"`
		Models  []config.ModelOption `json:"models"`
	}
	getJSON(t, ts.URL+"/api/models", &body)
	if body.Default != "gpt-4.1-mini" {
		t.Errorf("default = %q", body.Default)
	}
	if len(body.Models) == 0 {
		t.Error("empty model table")
	}
}

func TestConversationLifecycle(t *testing.T) {
	ts, _ := newTestServer(t, "http://unused")
	base := ts.URL + "/api/conversations"

	// Create with an empty body: default title.
	resp := postJSON(t, base, map[string]any{})
	var conv store.Conversation
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if conv.Title != store.DefaultTitle {
		t.Errorf("title = %q", conv.Title)
	}

	// Append messages in bulk.
	resp = postJSON(t, fmt.Sprintf("%s/%d/messages", base, conv.ID), map[string]any{
		"messages": []map[string]string{
			{"role": "user", "content": "q"},
			{"role": "assistant", "content": "a"},
		},
	})
	if resp.StatusCode != 200 {
		t.Fatalf("append status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Fetch it back with messages.
	var fetched struct {
		Conversation store.Conversation `json:"conversation"`
		Messages     []store.Message    `json:"messages"`
	}
	getJSON(t, fmt.Sprintf("%s/%d", base, conv.ID), &fetched)
	if len(fetched.Messages) != 2 || fetched.Messages[0].Content != "q" {
		t.Errorf("messages = %+v", fetched.Messages)
	}

	// Rename it.
	req, _ := http.NewRequest(http.MethodPut, fmt.Sprintf("%s/%d", base, conv.ID),
		strings.NewReader(`{"title":"renamed"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var renamed store.Conversation
	json.NewDecoder(resp.Body).Decode(&renamed)
	resp.Body.Close()
	if renamed.Title != "renamed" {
		t.Errorf("title = %q", renamed.Title)
	}

	// List shows it.
	var list []store.Conversation
	getJSON(t, base, &list)
	if len(list) != 1 || list[0].ID != conv.ID {
		t.Errorf("list = %+v", list)
	}

	// Delete, then it is gone.
	req, _ = http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/%d", base, conv.ID), nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var deleted struct {
		Success bool `json:"success"`
	}
	json.NewDecoder(resp.Body).Decode(&deleted)
	resp.Body.Close()
	if !deleted.Success {
		t.Error("delete did not report success")
	}

	resp = getJSON(t, fmt.Sprintf("%s/%d", base, conv.ID), nil)
	if resp.StatusCode != 404 {
		t.Errorf("get after delete = %d; want 404", resp.StatusCode)
	}
}

func TestUpdateConversationRequiresField(t *testing.T) {
	ts, st := newTestServer(t, "http://unused")
	conv, _ := st.CreateConversation("kept", nil)

	req, _ := http.NewRequest(http.MethodPut,
		fmt.Sprintf("%s/api/conversations/%d", ts.URL, conv.ID), strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Errorf("status = %d; want 400", resp.StatusCode)
	}
}

func TestChatUnknownModelWritesNothing(t *testing.T) {
	ts, st := newTestServer(t, "http://unused")
	conv, _ := st.CreateConversation("", nil)

	resp := postJSON(t, ts.URL+"/api/chat", map[string]any{
		"messages":       []map[string]string{{"role": "user", "content": "hi"}},
		"model":          "gpt-oo",
		"conversationId": conv.ID,
	})
	defer resp.Body.Close()

	if resp.StatusCode != 400 {
		t.Errorf("status = %d; want 400", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Errorf("content-type = %q; want JSON error body", ct)
	}

	count, _ := st.CountMessages(conv.ID, "")
	if count != 0 {
		t.Errorf("persisted %d messages; want 0", count)
	}
}

func TestChatInvalidBody(t *testing.T) {
	ts, _ := newTestServer(t, "http://unused")

	resp, err := http.Post(ts.URL+"/api/chat", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Errorf("status = %d; want 400", resp.StatusCode)
	}
}

// parseSSE splits an SSE body into its data payloads.
func parseSSE(body string) []string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			out = append(out, strings.TrimPrefix(line, "data: "))
		}
	}
	return out
}

func TestChatStreamRoundTrip(t *testing.T) {
	up := fakeUpstream(t, "Hel", "lo")
	defer up.Close()
	ts, st := newTestServer(t, up.URL)
	conv, _ := st.CreateConversation("", nil)

	resp := postJSON(t, ts.URL+"/api/chat", map[string]any{
		"messages":       []map[string]string{{"role": "user", "content": "hi"}},
		"model":          "gpt-4.1-mini",
		"conversationId": conv.ID,
	})
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Errorf("content-type = %q", ct)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	frames := parseSSE(string(raw))
	if len(frames) == 0 {
		t.Fatal("no frames")
	}
	if frames[len(frames)-1] != doneSentinel {
		t.Errorf("last frame = %q; want sentinel", frames[len(frames)-1])
	}

	var text strings.Builder
	sawStart := false
	for _, f := range frames[:len(frames)-1] {
		var frame struct {
			Type    string `json:"type"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal([]byte(f), &frame); err != nil {
			t.Fatalf("frame %q: %v", f, err)
		}
		switch frame.Type {
		case "start":
			sawStart = true
		case "text-delta":
			text.WriteString(frame.Content)
		}
	}
	if !sawStart {
		t.Error("no start frame")
	}
	if text.String() != "Hello" {
		t.Errorf("text = %q; want Hello", text.String())
	}

	// The streamed reply equals the persisted assistant message.
	msgs, _ := st.Messages(conv.ID)
	if len(msgs) != 2 || msgs[1].Content != "Hello" {
		t.Errorf("msgs = %+v", msgs)
	}
}

func TestChatMissingCredentials(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default() // no provider keys
	st, err := store.Open(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	orch := chat.NewOrchestrator(cfg, providers.NewRegistry(cfg, logger), tools.NewRegistry(cfg, logger), st, logger)
	server := NewServer(cfg, logger, orch, st, "test")
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/chat", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
		"model":    "gpt-4.1-mini",
	})
	defer resp.Body.Close()
	if resp.StatusCode != 500 {
		t.Errorf("status = %d; want 500", resp.StatusCode)
	}
}
