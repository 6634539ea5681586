package rp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/rrogntudju/userinfos/internal/config"
	"github.com/rrogntudju/userinfos/oidc"
)

// Server is the relying party's HTTP front: /userinfos, /auth, /static and
// /healthz.
type Server struct {
	registry   *oidc.Registry
	store      *Store
	logger     hclog.Logger
	httpServer *http.Server
}

// NewServer wires the relying party's routes.
func NewServer(cfg *config.Config, registry *oidc.Registry, store *Store, logger hclog.Logger) (*Server, error) {
	if cfg == nil || registry == nil || store == nil {
		return nil, oidc.ErrNilParameter
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	s := &Server{
		registry: registry,
		store:    store,
		logger:   logger,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /userinfos", s.handleUserinfos)
	mux.HandleFunc("GET /auth", s.handleAuth)
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.Server.StaticDir))))
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.httpServer = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
		ErrorLog:     logger.StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true}),
	}
	return s, nil
}

// Handler exposes the server's routes, mainly for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()
	s.logger.Info("relying party listening", "addr", s.httpServer.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
