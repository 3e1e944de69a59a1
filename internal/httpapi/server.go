// Package httpapi provides an optional, local-only read surface over the
// Store: a task list, a task's nested history, and a live WebSocket tail
// of an execution's events. Gated off by default (empty
// Observability.HTTPAddr) so it never substitutes for the CLI renderer.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mx-claw/agent-fleet/internal/common/logger"
	"github.com/mx-claw/agent-fleet/internal/store"
)

// Server is the optional observability HTTP+WS surface.
type Server struct {
	store  *store.Store
	logger *logger.Logger
	engine *gin.Engine
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Local-only surface (127.0.0.1 by convention); no cross-origin
	// browser client is expected.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// New builds a Server bound to s, with routes registered but not yet serving.
func New(s *store.Store, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(log))
	engine.Use(errorHandler(log))

	srv := &Server{store: s, logger: log.WithFields(), engine: engine}
	srv.registerRoutes()
	return srv
}

func (s *Server) registerRoutes() {
	s.engine.GET("/tasks", s.listTasks)
	s.engine.GET("/tasks/:id/history", s.taskHistory)
	s.engine.GET("/tasks/:id/events/stream", s.streamEvents)
}

// Run starts the HTTP server on addr, blocking until ctx is canceled.
func (s *Server) Run(ctx context.Context, addr string) error {
	server := &http.Server{Addr: addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) listTasks(c *gin.Context) {
	limit := 50
	tasks, err := s.store.ListTasks(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (s *Server) taskHistory(c *gin.Context) {
	taskID := c.Param("id")
	history, ok, err := s.store.GetTaskHistory(c.Request.Context(), taskID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, history)
}

// streamEvents upgrades to a WebSocket and polls the store for new events
// on the task's most recent execution, pushing any newly observed rows.
// This is a read-only tail; it never mutates execution state.
func (s *Server) streamEvents(c *gin.Context) {
	taskID := c.Param("id")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	var lastSeen int64

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			executions, err := s.store.ListExecutionsForTask(ctx, taskID)
			if err != nil || len(executions) == 0 {
				continue
			}
			latest := executions[len(executions)-1]

			events, err := s.store.ListExecutionEvents(ctx, latest.ID)
			if err != nil {
				continue
			}
			for _, event := range events {
				if event.ID <= lastSeen {
					continue
				}
				if writeErr := conn.WriteJSON(event); writeErr != nil {
					return
				}
				lastSeen = event.ID
			}
		}
	}
}
