// Package http provides the HTTP interface: the chat stream endpoint,
// conversation CRUD, and the WebSocket stream variant.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/chatrelay/chatrelay/internal/chat"
	"github.com/chatrelay/chatrelay/internal/config"
	"github.com/chatrelay/chatrelay/internal/store"
)

// Server serves the chat API.
type Server struct {
	router    *gin.Engine
	cfg       *config.Config
	logger    *slog.Logger
	orch      *chat.Orchestrator
	store     *store.Store
	upgrader  websocket.Upgrader
	version   string
	startedAt time.Time
}

// NewServer wires the API routes onto a gin engine.
func NewServer(cfg *config.Config, logger *slog.Logger, orch *chat.Orchestrator, st *store.Store, version string) *Server {
	if cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggerMiddleware(logger))
	router.Use(corsMiddleware())

	s := &Server{
		router: router,
		cfg:    cfg,
		logger: logger.With("component", "http"),
		orch:   orch,
		store:  st,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		version:   version,
		startedAt: time.Now(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/api/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.POST("/chat", s.handleChat)
		api.GET("/chat/ws", s.handleChatWS)
		api.GET("/models", s.handleModels)

		api.GET("/conversations", s.handleListConversations)
		api.POST("/conversations", s.handleCreateConversation)
		api.GET("/conversations/:id", s.handleGetConversation)
		api.PUT("/conversations/:id", s.handleUpdateConversation)
		api.DELETE("/conversations/:id", s.handleDeleteConversation)
		api.POST("/conversations/:id/messages", s.handleAppendMessages)
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the server until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := s.getListenAddr()
	s.logger.Info("starting HTTP server", "address", addr)

	srv := &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: chat responses stream for as long as the model talks.
		IdleTimeout: 120 * time.Second,
	}

	listenErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			listenErr <- err
		}
	}()

	select {
	case err := <-listenErr:
		return fmt.Errorf("server failed to start: %w\n  -> Is another chatrelay instance running on %s?", err, addr)
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case err := <-listenErr:
		return fmt.Errorf("server runtime error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Info("shutting down HTTP server")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) getListenAddr() string {
	port := s.cfg.Server.Port
	if port == 0 {
		port = 3000
	}

	switch s.cfg.Server.Bind {
	case "all":
		return fmt.Sprintf("0.0.0.0:%d", port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", port)
	}
}
