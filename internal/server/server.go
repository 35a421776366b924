// Package server exposes metrics, health and the network preview endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// Status is the body of /healthz.
type Status struct {
	State    string `json:"state"`
	Frames   uint64 `json:"frames"`
	Restarts uint64 `json:"restarts"`
	Backend  string `json:"backend,omitempty"`
}

// Options wires optional endpoints. Nil handlers are not mounted.
type Options struct {
	Addr      string
	Status    func() Status
	Preview   http.Handler
	Signaling http.Handler
}

// Server is the HTTP surface of a camview process.
type Server struct {
	opts Options
	log  zerolog.Logger
	http *http.Server
	ln   net.Listener
}

// New builds the router.
func New(opts Options, logger zerolog.Logger) *Server {
	s := &Server{opts: opts, log: logger}
	s.http = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", s.handleHealth)
	if s.opts.Preview != nil {
		r.Handle("/ws", s.opts.Preview)
	}
	if s.opts.Signaling != nil {
		r.Handle("/signal", s.opts.Signaling)
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := Status{State: "unknown"}
	if s.opts.Status != nil {
		st = s.opts.Status()
	}
	w.Header().Set("Content-Type", "application/json")
	if st.State == "terminating" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(st)
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Listen binds the address so clients can connect before Serve runs.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	s.ln = ln
	s.log.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
	return nil
}

// Addr returns the bound address after Listen.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.opts.Addr
	}
	return s.ln.Addr().String()
}

// Serve handles requests until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.http.Serve(s.ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	err := s.http.Shutdown(shutdownCtx)
	<-errCh
	if err != nil {
		// Hijacked WebSocket connections are not tracked by Shutdown.
		s.log.Warn().Err(err).Msg("http shutdown incomplete")
		_ = s.http.Close()
	}
	return nil
}
