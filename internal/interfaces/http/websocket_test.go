package http

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

func dialChatWS(t *testing.T, httpURL string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(httpURL, "http") + "/api/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readFrames collects text messages until the sentinel arrives.
func readFrames(t *testing.T, conn *websocket.Conn) []string {
	t.Helper()
	var frames []string
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v (frames so far: %v)", err, frames)
		}
		if string(msg) == doneSentinel {
			return frames
		}
		frames = append(frames, string(msg))
	}
}

func TestChatWebSocketStream(t *testing.T) {
	up := fakeUpstream(t, "Hi", " there")
	defer up.Close()
	ts, st := newTestServer(t, up.URL)
	conv, _ := st.CreateConversation("", nil)

	conn := dialChatWS(t, ts.URL)
	err := conn.WriteJSON(map[string]any{
		"messages":       []map[string]string{{"role": "user", "content": "hello"}},
		"model":          "gpt-4.1-mini",
		"conversationId": conv.ID,
	})
	if err != nil {
		t.Fatal(err)
	}

	var text strings.Builder
	for _, f := range readFrames(t, conn) {
		var frame struct {
			Type    string `json:"type"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal([]byte(f), &frame); err != nil {
			t.Fatalf("frame %q: %v", f, err)
		}
		if frame.Type == "text-delta" {
			text.WriteString(frame.Content)
		}
	}
	if text.String() != "Hi there" {
		t.Errorf("text = %q; want Hi there", text.String())
	}

	msgs, _ := st.Messages(conv.ID)
	if len(msgs) != 2 || msgs[1].Content != "Hi there" {
		t.Errorf("msgs = %+v", msgs)
	}
}

// Pre-stream failures are delivered in-band over the socket, since there is
// no status code to change after the upgrade.
func TestChatWebSocketUnknownModel(t *testing.T) {
	ts, _ := newTestServer(t, "http://unused")

	conn := dialChatWS(t, ts.URL)
	if err := conn.WriteJSON(map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hello"}},
		"model":    "gpt-oo",
	}); err != nil {
		t.Fatal(err)
	}

	frames := readFrames(t, conn)
	if len(frames) != 1 {
		t.Fatalf("frames = %v; want one error frame", frames)
	}
	var frame struct {
		Type  string `json:"type"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(frames[0]), &frame); err != nil {
		t.Fatal(err)
	}
	if frame.Type != "error" || !strings.Contains(frame.Error, "unknown model") {
		t.Errorf("frame = %+v", frame)
	}
}
