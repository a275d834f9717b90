// Package httpapi exposes the relay admin API over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"chatrelay/internal/microservices/http-api/handler"
	"chatrelay/internal/microservices/http-api/middleware"

	"github.com/gin-gonic/gin"
)

// NewRouter wires the admin routes around svc
func NewRouter(svc handler.RelayService, logger *slog.Logger, instanceID string) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestLogger(logger))
	r.Use(gin.Recovery())

	relayHandler := handler.NewRelayHandler(svc, instanceID)
	r.GET("/healthz", relayHandler.Health)

	v1 := r.Group("/api/v1/relay")
	relayHandler.RegisterRoutes(v1)

	return r
}

// AdminServer runs the admin router until its context ends
type AdminServer struct {
	httpServer *http.Server
	logger     *slog.Logger
}

func NewAdminServer(addr string, router http.Handler, logger *slog.Logger) *AdminServer {
	return &AdminServer{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *AdminServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("admin_http_listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("admin http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin http shutdown: %w", err)
	}
	s.logger.Info("admin_http_stopped")
	return nil
}
