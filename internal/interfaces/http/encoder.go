package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chatrelay/chatrelay/internal/chat"
)

// doneSentinel terminates every stream, SSE and WebSocket alike.
const doneSentinel = "[DONE]"

// encodeFrame maps an orchestrator event to its wire frame. A nil payload
// with nil error means the event carries no frame of its own (the done
// event, which the sink turns into the sentinel).
func encodeFrame(ev chat.Event) ([]byte, error) {
	switch ev.Type {
	case chat.EventStart:
		return json.Marshal(map[string]any{"type": "start", "id": ev.ID})
	case chat.EventTextDelta:
		return json.Marshal(map[string]any{"type": "text-delta", "content": ev.Content})
	case chat.EventToolCallStart:
		frame := map[string]any{
			"type":  "tool-" + ev.Tool,
			"state": "input-streaming",
			"label": ev.Label,
		}
		if len(ev.Input) > 0 {
			frame["input"] = json.RawMessage(ev.Input)
		}
		return json.Marshal(frame)
	case chat.EventToolCallResult:
		frame := map[string]any{"type": "tool-" + ev.Tool}
		if ev.Err != "" {
			frame["state"] = "output-error"
			frame["error"] = ev.Err
		} else {
			frame["state"] = "output-available"
			frame["output"] = ev.Output
		}
		return json.Marshal(frame)
	case chat.EventError:
		return json.Marshal(map[string]any{"type": "error", "error": ev.Err})
	case chat.EventDone:
		return nil, nil
	}
	return nil, fmt.Errorf("unknown event type %q", ev.Type)
}

// sseSink writes orchestrator events as server-sent events. Headers go out
// with the first frame, so a turn that fails before streaming can still be
// answered with a JSON error body.
type sseSink struct {
	c       *gin.Context
	started bool
	closed  bool
}

func newSSESink(c *gin.Context) *sseSink {
	return &sseSink{c: c}
}

// Started reports whether any stream bytes have been written.
func (s *sseSink) Started() bool {
	return s.started
}

// Send implements chat.Sink.
func (s *sseSink) Send(ev chat.Event) error {
	if s.closed {
		return nil
	}
	if err := s.c.Request.Context().Err(); err != nil {
		return err
	}

	if !s.started {
		h := s.c.Writer.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		s.c.Writer.WriteHeader(http.StatusOK)
		s.started = true
	}

	payload, err := encodeFrame(ev)
	if err != nil {
		return err
	}
	if payload != nil {
		if err := s.writeData(payload); err != nil {
			return err
		}
	}

	// Terminal events carry the sentinel behind them.
	if ev.Type == chat.EventDone || ev.Type == chat.EventError {
		if err := s.writeData([]byte(doneSentinel)); err != nil {
			return err
		}
		s.closed = true
	}
	return nil
}

// Finish emits the sentinel if the stream was started but never terminated.
func (s *sseSink) Finish() {
	if !s.started || s.closed {
		return
	}
	_ = s.writeData([]byte(doneSentinel))
	s.closed = true
}

func (s *sseSink) writeData(payload []byte) error {
	if _, err := fmt.Fprintf(s.c.Writer, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.c.Writer.Flush()
	return nil
}
