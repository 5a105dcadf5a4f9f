package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chatrelay/chatrelay/internal/chat"
	"github.com/chatrelay/chatrelay/internal/providers"
	"github.com/chatrelay/chatrelay/internal/store"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.startedAt).Seconds(),
	})
}

// handleModels returns the configured model table for client pickers.
func (s *Server) handleModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"default": s.cfg.Models.Default,
		"models":  s.cfg.Models.Catalog,
	})
}

// handleChat runs one turn, streaming the reply as server-sent events.
// Failures before the first stream byte come back as JSON error bodies;
// later failures arrive in-band as error frames.
func (s *Server) handleChat(c *gin.Context) {
	var turn chat.Turn
	if err := c.ShouldBindJSON(&turn); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	sink := newSSESink(c)
	if err := s.orch.HandleTurn(c.Request.Context(), &turn, sink); err != nil {
		if sink.Started() {
			// Should not happen: HandleTurn reports post-start failures
			// in-band. Close the stream rather than corrupt it.
			sink.Finish()
			return
		}
		c.JSON(turnErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	sink.Finish()
}

func turnErrorStatus(err error) int {
	switch {
	case errors.Is(err, chat.ErrValidation), errors.Is(err, providers.ErrUnknownModel):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleListConversations(c *gin.Context) {
	conversations, err := s.store.ListConversations()
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, conversations)
}

func (s *Server) handleCreateConversation(c *gin.Context) {
	var req struct {
		Title string  `json:"title"`
		Model *string `json:"model"`
	}
	// An empty body creates an untitled conversation.
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	conv, err := s.store.CreateConversation(req.Title, req.Model)
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) handleGetConversation(c *gin.Context) {
	id, ok := s.conversationID(c)
	if !ok {
		return
	}

	conv, err := s.store.GetConversation(id)
	if err != nil {
		s.serverError(c, err)
		return
	}
	if conv == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}

	messages, err := s.store.Messages(id)
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"conversation": conv,
		"messages":     messages,
	})
}

func (s *Server) handleUpdateConversation(c *gin.Context) {
	id, ok := s.conversationID(c)
	if !ok {
		return
	}

	var req struct {
		Title *string `json:"title"`
		Model *string `json:"model"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.Title == nil && req.Model == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title or model is required"})
		return
	}

	conv, err := s.store.UpdateConversation(id, req.Title, req.Model)
	if err != nil {
		s.serverError(c, err)
		return
	}
	if conv == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(c *gin.Context) {
	id, ok := s.conversationID(c)
	if !ok {
		return
	}

	conv, err := s.store.GetConversation(id)
	if err != nil {
		s.serverError(c, err)
		return
	}
	if conv == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}

	if err := s.store.DeleteConversation(id); err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleAppendMessages bulk-appends messages to a conversation. Used by
// clients syncing an existing local transcript into the store.
func (s *Server) handleAppendMessages(c *gin.Context) {
	id, ok := s.conversationID(c)
	if !ok {
		return
	}

	var req struct {
		Messages []store.MessageInput `json:"messages"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if len(req.Messages) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "messages are required"})
		return
	}

	conv, err := s.store.GetConversation(id)
	if err != nil {
		s.serverError(c, err)
		return
	}
	if conv == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}

	messages, err := s.store.AppendMessages(id, req.Messages)
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (s *Server) conversationID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return 0, false
	}
	return id, true
}

func (s *Server) serverError(c *gin.Context, err error) {
	s.logger.Error("request failed", "path", c.Request.URL.Path, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
