package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/chatrelay/chatrelay/internal/chat"
)

const wsWriteTimeout = 10 * time.Second

// wsSink writes orchestrator events as WebSocket text messages carrying the
// same frame JSON as the SSE encoder.
type wsSink struct {
	conn   *websocket.Conn
	closed bool
}

// Send implements chat.Sink.
func (s *wsSink) Send(ev chat.Event) error {
	if s.closed {
		return nil
	}
	payload, err := encodeFrame(ev)
	if err != nil {
		return err
	}
	if payload != nil {
		if err := s.write(payload); err != nil {
			return err
		}
	}
	if ev.Type == chat.EventDone || ev.Type == chat.EventError {
		if err := s.write([]byte(doneSentinel)); err != nil {
			return err
		}
		s.closed = true
	}
	return nil
}

func (s *wsSink) write(payload []byte) error {
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// handleChatWS streams one turn over a WebSocket. The client sends a single
// JSON turn request; frames come back as text messages, terminated by the
// sentinel, and then the connection closes.
func (s *Server) handleChatWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))

	var turn chat.Turn
	if err := conn.ReadJSON(&turn); err != nil {
		s.writeWSError(conn, "invalid request: "+err.Error())
		return
	}

	sink := &wsSink{conn: conn}
	if err := s.orch.HandleTurn(c.Request.Context(), &turn, sink); err != nil {
		s.writeWSError(conn, err.Error())
		return
	}

	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// writeWSError reports a pre-stream failure in-band and closes the stream.
func (s *Server) writeWSError(conn *websocket.Conn, msg string) {
	sink := &wsSink{conn: conn}
	_ = sink.Send(chat.Event{Type: chat.EventError, Err: msg})
}
