// Package api implements the HTTP Control Plane (C9): the thin, fixed
// contract of routes in spec §6, built on gin with route groups, a
// gin.HandlerFunc per endpoint, and JSON response structs.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"cobblepod/internal/blob"
	"cobblepod/internal/events"
	"cobblepod/internal/queue"
	"cobblepod/internal/record"

	"github.com/gin-gonic/gin"
)

// Server wraps the HTTP control plane.
type Server struct {
	httpServer *http.Server
	router     *gin.Engine
	deps       *Deps
}

// Deps bundles the collaborators every route handler needs.
type Deps struct {
	Store              record.Gateway
	Blob               blob.Storage
	Bus                *events.Bus
	TranscriptionQueue *queue.Queue
	SummaryQueue       *queue.Queue
	ArticleQueue       *queue.Queue
	StaleUploadMaxAge  time.Duration
	AllowedOrigins     []string
}

// queues returns the three stage queues in hand-off order, used by the
// job-status endpoint's "try every queue" fallback (spec §6).
func (d *Deps) queues() []*queue.Queue {
	return []*queue.Queue{d.TranscriptionQueue, d.SummaryQueue, d.ArticleQueue}
}

// NewServer builds the gin engine and binds every route in spec §6.
func NewServer(port string, deps *Deps) *Server {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	setupRoutes(router, deps)

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: httpServer, router: router, deps: deps}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	slog.Info("starting HTTP control plane", "address", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down HTTP control plane")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the gin engine for tests (httptest.NewServer/ResponseRecorder).
func (s *Server) Router() *gin.Engine { return s.router }

// corsMiddleware honors the configured allow-list (ALLOWED_ORIGINS) and
// falls back to a wildcard when none is set.
func corsMiddleware(allowed []string) gin.HandlerFunc {
	wildcard := len(allowed) == 0 || (len(allowed) == 1 && allowed[0] == "*")
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		switch {
		case wildcard:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "" && contains(allowed, origin):
			c.Header("Access-Control-Allow-Origin", origin)
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func contains(items []string, target string) bool {
	for _, item := range items {
		if strings.EqualFold(item, target) {
			return true
		}
	}
	return false
}
