package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/hutch/pkg/certstore"
	"github.com/cuemby/hutch/pkg/log"
)

// Options configure one serving generation (a pair of listeners). A hot
// reload builds a new generation, starts it, and drains the old one.
type Options struct {
	// HTTPAddr and HTTPSAddr are host:port; empty disables the listener.
	HTTPAddr  string
	HTTPSAddr string

	// Resolver answers SNI lookups on the HTTPS listener.
	Resolver certstore.Resolver

	// MaxConnections caps concurrent connections per listener; 0 means
	// unlimited.
	MaxConnections int
}

// Server is one generation of public listeners sharing a router.
type Server struct {
	router *Router
	opts   Options
	logger zerolog.Logger

	httpSrv  *http.Server
	httpsSrv *http.Server
	errCh    chan error
}

// New assembles a server around router. Nothing is bound until Start.
func New(router *Router, opts Options) *Server {
	return &Server{
		router: router,
		opts:   opts,
		logger: log.WithComponent("server"),
		errCh:  make(chan error, 2),
	}
}

// Start binds and serves both listeners. The bind is synchronous so a
// reload can fail fast and keep the previous generation; serving continues
// in background goroutines.
func (s *Server) Start() error {
	if s.opts.HTTPAddr != "" {
		ln, err := Listen(s.opts.HTTPAddr, s.opts.MaxConnections)
		if err != nil {
			return err
		}
		s.httpSrv = s.newHTTPServer(s.router.Handler(false))
		go s.serve(s.httpSrv, ln, "http")
		s.logger.Info().Str("addr", s.opts.HTTPAddr).Msg("http listener started")
	}

	if s.opts.HTTPSAddr != "" {
		ln, err := Listen(s.opts.HTTPSAddr, s.opts.MaxConnections)
		if err != nil {
			s.closeHTTP()
			return err
		}
		s.httpsSrv = s.newHTTPServer(s.router.Handler(true))
		s.httpsSrv.TLSConfig = certstore.TLSConfig(s.opts.Resolver)
		go s.serve(s.httpsSrv, tls.NewListener(ln, s.httpsSrv.TLSConfig), "https")
		s.logger.Info().Str("addr", s.opts.HTTPSAddr).Msg("https listener started")
	}
	return nil
}

func (s *Server) newHTTPServer(handler http.Handler) *http.Server {
	return &http.Server{
		Handler:           Instrument(handler),
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *Server) serve(srv *http.Server, ln net.Listener, scheme string) {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error().Err(err).Str("scheme", scheme).Msg("listener failed")
		select {
		case s.errCh <- err:
		default:
		}
	}
}

// Err reports an asynchronous listener failure, if any occurred.
func (s *Server) Err() <-chan error { return s.errCh }

func (s *Server) closeHTTP() {
	if s.httpSrv != nil {
		s.httpSrv.Close()
	}
}

// Shutdown drains in-flight requests on both listeners until ctx expires,
// then closes whatever is left.
func (s *Server) Shutdown(ctx context.Context) error {
	var first error
	for _, srv := range []*http.Server{s.httpSrv, s.httpsSrv} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			if first == nil {
				first = err
			}
		}
	}
	return first
}
