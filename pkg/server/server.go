// Package server exposes the bus over HTTP: the WebSocket endpoint clients
// connect to, and a health probe for deployments.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/sedproject/sed/pkg/bus"
)

// Pinger reports document store reachability for the health endpoint.
// Implemented by store.Couchbase.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server hosts /ws and /healthz.
type Server struct {
	bus   *bus.Bus
	store Pinger

	httpServer *http.Server
	started    time.Time
	active     atomic.Int64
}

// NewServer builds the HTTP server around a running bus.
func NewServer(b *bus.Bus, store Pinger) *Server {
	s := &Server{
		bus:     b,
		store:   store,
		started: time.Now(),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/ws", s.handleWS)
	engine.GET("/healthz", s.handleHealth)

	s.httpServer = &http.Server{Handler: engine}
	return s
}

// Handler exposes the HTTP handler, mainly for tests against httptest
// servers.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens on addr and serves until Shutdown. Blocks.
func (s *Server) Start(addr string) error {
	s.httpServer.Addr = addr
	slog.Info("WebSocket server listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting connections and waits for in-flight requests
// within the context's budget. Open WebSocket sessions are closed by their
// own read loops when the underlying listener goes away.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ActiveSessions returns the number of open WebSocket sessions.
func (s *Server) ActiveSessions() int64 {
	return s.active.Load()
}

// handleWS upgrades the connection and serves the session for its lifetime.
func (s *Server) handleWS(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		// The bus carries no authentication; origin checks are left to the
		// deployment in front of it.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "client", c.Request.RemoteAddr, "error", err)
		return
	}

	s.active.Add(1)
	defer s.active.Add(-1)

	session := newSession(c.Request.Context(), conn, c.Request.RemoteAddr, s.bus)
	session.run()
}

// handleHealth reports process and store health.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"sessions": s.active.Load(),
		"uptime":   time.Since(s.started).String(),
	})
}
