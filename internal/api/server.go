package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/modelpull/modelpull/pkg/coordinator"
	"github.com/modelpull/modelpull/pkg/metadata"
	"github.com/modelpull/modelpull/pkg/model"
)

const shutdownTimeout = 10 * time.Second

// Server runs the HTTP API until its context is cancelled.
type Server struct {
	echo *echo.Echo
	http *http.Server
}

// NewServer builds the API server listening on listen.
func NewServer(listen string, coord *coordinator.Coordinator, catalog *model.Catalog, store metadata.Store) *Server {
	e := echo.New()
	RegisterRoutes(e, coord, catalog, store)
	return &Server{
		echo: e,
		http: &http.Server{Addr: listen, Handler: e},
	}
}

// Run serves requests until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
