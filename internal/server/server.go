// Package server exposes the review service over HTTP, with live session
// events over server-sent events and websockets.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/rs/zerolog"

	"github.com/colonyops/revwatch/internal/core/broadcast"
	"github.com/colonyops/revwatch/internal/revwatch"
)

// Options configures a Server.
type Options struct {
	Addr  string
	Pprof bool
}

// Server is the revwatch HTTP API.
type Server struct {
	app        *revwatch.App
	log        zerolog.Logger
	addr       string
	httpServer *http.Server
	listener   net.Listener
	errc       chan error

	// cancelStreams cancels the base context of every request, ending
	// long-lived event streams so Shutdown does not wait on them.
	cancelStreams context.CancelFunc
}

// New creates a Server for app. It does not listen until Start.
func New(log zerolog.Logger, app *revwatch.App, opts Options) *Server {
	streams, cancel := context.WithCancel(context.Background())

	s := &Server{
		app:           app,
		log:           log,
		addr:          opts.Addr,
		errc:          make(chan error, 1),
		cancelStreams: cancel,
	}

	mux := http.NewServeMux()
	s.routes(mux)
	if opts.Pprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	s.httpServer = &http.Server{
		Handler:           s.logRequests(mux),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return streams },
	}

	// A channel that cannot keep up is closed; its handler then returns and
	// unregisters it.
	app.Hub.OnDeliveryError(func(_ string, ch broadcast.Channel, _ error) {
		if c, ok := ch.(interface{ Close() }); ok {
			c.Close()
		}
	})

	return s
}

// Handler returns the root handler, for use with httptest.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens on the configured address and serves in the background.
// Serve failures are reported on Err.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	s.listener = listener

	s.log.Info().Str("addr", listener.Addr().String()).Msg("starting api server")

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errc <- fmt.Errorf("api server failed: %w", err)
		}
	}()
	return nil
}

// Err reports a failure of the background serve loop.
func (s *Server) Err() <-chan error {
	return s.errc
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown ends open event streams and gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down api server")
	s.cancelStreams()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
