// Package api serves the relay's HTTP status endpoint.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Status is one transport's snapshot for the status endpoint.
// Transports produce it; this package only renders it.
type Status struct {
	Transport string `json:"transport"`
	Server    string `json:"server"`
	Connected bool   `json:"connected"`
	Received  uint64 `json:"received"`
	Sent      uint64 `json:"sent"`
}

// Reporter is anything that can snapshot its own status.
type Reporter interface {
	Status() Status
}

// Server exposes GET /api/status over plain HTTP.
type Server struct {
	listen    string
	router    *gin.Engine
	reporters []Reporter
	started   time.Time
	log       zerolog.Logger
}

type statusResponse struct {
	UptimeSeconds int64    `json:"uptime_seconds"`
	Transports    []Status `json:"transports"`
}

// NewServer builds the router. reporters are queried live on each
// request, so the slice must be complete before Run.
func NewServer(listen string, reporters []Reporter, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		listen:    listen,
		router:    router,
		reporters: reporters,
		log:       log.With().Str("component", "api").Logger(),
	}
	router.GET("/api/status", s.handleStatus)
	router.GET("/health", s.handleHealth)
	return s
}

func (s *Server) handleStatus(c *gin.Context) {
	resp := statusResponse{
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Transports:    make([]Status, 0, len(s.reporters)),
	}
	for _, r := range s.reporters {
		resp.Transports = append(resp.Transports, r.Status())
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.started = time.Now()
	srv := &http.Server{
		Addr:         s.listen,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("listen", s.listen).Msg("status endpoint listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
