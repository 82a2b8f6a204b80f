// Package server implements the connection and HTTP surface (A3): a gin
// engine serving health and metrics endpoints plus a WebSocket upgrade
// route, and the per-connection registry that adapts live connections to
// the shared event sink and shutdown contracts.
package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lumenchat/chatcore/internal/logger"
)

// Server owns the HTTP listener and the connection hub. It implements
// shutdown.Listener.
type Server struct {
	engine *gin.Engine
	http   *http.Server
	hub    *Hub
	deps   *Dependencies
	log    *logger.Logger
}

// New constructs a Server bound to addr, wired to deps.
func New(addr string, deps *Dependencies) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	s := &Server{
		engine: engine,
		http:   &http.Server{Addr: addr, Handler: engine},
		hub:    newHub(deps.Log),
		deps:   deps,
		log:    deps.Log.WithComponent("server"),
	}

	engine.GET("/healthz", s.handleHealthz)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Metrics.Registry, promhttp.HandlerOpts{})))
	engine.GET("/ws", s.handleWebSocket)

	return s
}

// ListenAndServe runs the HTTP server until Shutdown is called, matching
// the http.Server error contract (http.ErrServerClosed on a clean stop).
func (s *Server) ListenAndServe() error {
	return s.http.ListenAndServe()
}

// Shutdown implements shutdown.Listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Connections returns the connection hub, which implements
// shutdown.ConnectionLayer.
func (s *Server) Connections() *Hub {
	return s.hub
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
