// Package server assembles the proxy and admin surfaces into one HTTP
// server and owns its lifecycle: listening, the expiry janitor, and
// graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/koltyakov/passage/internal/admin"
	"github.com/koltyakov/passage/internal/config"
	"github.com/koltyakov/passage/internal/proxy"
	"github.com/koltyakov/passage/internal/redirect"
)

const readHeaderTimeout = 10 * time.Second
const shutdownTimeout = 5 * time.Second

// Server is the single-port process serving proxied traffic, the admin API,
// and the admin UI.
type Server struct {
	cfg       config.ServerConfig
	redirects *redirect.Store
	proxy     *proxy.Proxy
	admin     *admin.Handler
	log       *slog.Logger
}

func New(cfg config.ServerConfig, redirects *redirect.Store, p *proxy.Proxy, a *admin.Handler, logger *slog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		redirects: redirects,
		proxy:     p,
		admin:     a,
		log:       logger,
	}
}

// Handler builds the full routing surface: admin endpoints and static UI on
// their reserved paths, health probe, and the proxy on everything else.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.admin.Register(mux)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			s.admin.ServeIndex(w, r)
			return
		}
		s.proxy.ServeHTTP(w, r)
	})
	return mux
}

// Run starts the HTTP server and the background janitor. It blocks until
// ctx is cancelled or a fatal error occurs.
func (s *Server) Run(ctx context.Context) error {
	go s.runJanitor(ctx)

	httpServer := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting server", "addr", s.cfg.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return shutdownServer(httpServer, shutdownTimeout)
	case err := <-errCh:
		_ = shutdownServer(httpServer, shutdownTimeout)
		return err
	}
}

// runJanitor sweeps expired temporary redirects on a fixed interval.
func (s *Server) runJanitor(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.redirects.Sweep(); n > 0 {
				s.log.Info("janitor removed expired redirects", "count", n)
			}
		}
	}
}

func shutdownServer(server *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
