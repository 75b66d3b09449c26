// Package api exposes the HTTP surface: project and message RPC endpoints,
// response delivery, fragment regeneration, and debug endpoints over the
// correlation state.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/appforge/internal/credits"
	"github.com/appforge/internal/sandbox"
	"github.com/appforge/internal/store"
	"github.com/appforge/internal/workflow"
)

// RunEnqueuer inserts a code-agent run request onto the durable queue.
type RunEnqueuer interface {
	EnqueueRun(ctx context.Context, projectID, value string) error
}

// Server wires the echo instance to the application services.
type Server struct {
	echo *echo.Echo
	port int

	store       store.Store
	credits     credits.Ledger
	correlator  *workflow.Correlator
	queue       RunEnqueuer
	provisioner sandbox.Provisioner
}

func NewServer(port int, st store.Store, ledger credits.Ledger, corr *workflow.Correlator, queue RunEnqueuer, prov sandbox.Provisioner) *Server {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo:        e,
		port:        port,
		store:       st,
		credits:     ledger,
		correlator:  corr,
		queue:       queue,
		provisioner: prov,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})

	v1 := s.echo.Group("/api/v1")

	v1.POST("/projects", s.createProject)
	v1.GET("/projects/:projectId/messages", s.listMessages)
	v1.POST("/messages", s.createMessage)
	v1.POST("/responses", s.createResponse)
	v1.POST("/fragments/:fragmentId/regenerate", s.regenerateFragment)

	v1.GET("/debug/questions", s.debugQuestions)
	v1.POST("/debug/respond", s.debugRespond)
}

// Start runs the server until interrupted, then shuts down gracefully.
func (s *Server) Start() error {
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			s.echo.Logger.Fatal("shutting down the server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(ctx)
}

// Echo exposes the router for handler tests.
func (s *Server) Echo() *echo.Echo { return s.echo }
