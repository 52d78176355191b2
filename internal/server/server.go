// Package server owns the HTTP listener of an appshell process: it binds
// the address, serves in the background and shuts down within a bounded
// drain period.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// ErrAlreadyStarted is returned by Start on a server that has been started
// before.
var ErrAlreadyStarted = errors.New("server: already started")

// Options configures New.
type Options struct {
	Addr         string
	Handler      http.Handler
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// DrainTimeout bounds Shutdown. In-flight requests still running when
	// it expires are cut off.
	DrainTimeout time.Duration
	Logger       *slog.Logger
}

// Server is a single net/http listener.
type Server struct {
	opts Options
	srv  *http.Server

	mu      sync.Mutex
	ln      net.Listener
	started bool
	done    chan struct{}
	err     error
}

// New returns an unstarted Server.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		opts: opts,
		srv: &http.Server{
			Handler:      opts.Handler,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
			IdleTimeout:  opts.IdleTimeout,
			ErrorLog:     slog.NewLogLogger(opts.Logger.Handler(), slog.LevelWarn),
		},
		done: make(chan struct{}),
	}
}

// Start binds the address and serves in a background goroutine. When it
// returns nil the listener is accepting connections.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}

	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.opts.Addr, err)
	}
	s.ln = ln
	s.started = true

	go func() {
		defer close(s.done)
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		if err != nil {
			s.opts.Logger.Error("server: serve failed", "addr", s.opts.Addr, "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.opts.Addr
}

// Done is closed once the serve loop has exited.
func (s *Server) Done() <-chan struct{} { return s.done }

// Err returns the error the serve loop exited with, if any.
func (s *Server) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Shutdown stops accepting connections and waits for in-flight requests
// for at most DrainTimeout (or until ctx ends). Connections still open at
// that point are closed and the deadline error is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil
	}

	if s.opts.DrainTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.DrainTimeout)
		defer cancel()
	}

	err := s.srv.Shutdown(ctx)
	if err != nil {
		if cerr := s.srv.Close(); cerr != nil && !errors.Is(cerr, http.ErrServerClosed) {
			err = errors.Join(err, cerr)
		}
		err = fmt.Errorf("server: shutdown: %w", err)
	}
	<-s.done
	return err
}
