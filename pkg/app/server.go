package app

// server.go is the Start/Stop lifecycle around internal/server.

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shashiranjanraj/appshell/pkg/event"
	"github.com/shashiranjanraj/appshell/pkg/watch"
	"github.com/shashiranjanraj/appshell/pkg/ws"
)

// Start brings the server up. In production the asset bundles are rendered
// first and a render failure aborts startup. Start returns once the
// listener accepts connections; serving continues in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateNew {
		return ErrAlreadyStarted
	}

	if s.cfg.IsProduction() {
		if err := s.assets.Render(ctx); err != nil {
			return fmt.Errorf("app: render assets: %w", err)
		}
	}

	bg, cancel := context.WithCancel(context.Background())
	if s.cfg.IsDevelopment() {
		if err := s.startDevelopment(bg); err != nil {
			cancel()
			return err
		}
	}

	if err := s.http.Start(); err != nil {
		cancel()
		s.bg.Wait()
		return err
	}
	s.cancel = cancel
	s.state = stateStarted
	s.log.Info("appshell started", "addr", s.http.Addr(), "env", s.cfg.Env)
	return nil
}

// startDevelopment runs the source watcher and the live-reload hub until
// ctx is cancelled.
func (s *Server) startDevelopment(ctx context.Context) error {
	dirs := append([]string{s.path("views")}, s.assets.Watched()...)
	w, err := watch.New(dirs, watch.Options{
		Ignore: []string{s.path("public", "assets")},
		Logger: s.log,
	})
	if err != nil {
		return fmt.Errorf("app: watch sources: %w", err)
	}

	s.bus.Listen(event.SourceChanged, func(payload any) {
		change, _ := payload.(event.Change)
		if s.views != nil {
			s.views.Invalidate()
		}
		if err := s.cache.Flush(ctx); err != nil {
			s.log.Warn("flush compiled css", "error", err)
		}
		if s.hub != nil {
			s.hub.Reload(change.Path)
		}
		if s.events != nil {
			if err := s.events.Publish("reload", ws.Message{Type: "reload", Path: change.Path}); err != nil {
				s.log.Warn("publish reload event", "error", err)
			}
		}
	})

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		if err := w.Run(ctx, s.bus); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("source watcher stopped", "error", err)
		}
	}()
	if s.hub != nil {
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			s.hub.Run(ctx)
		}()
	}
	return nil
}

// Stop shuts the listener down, waiting at most the configured drain
// timeout for in-flight requests. It always returns, with the shutdown
// error if there was one; the error is logged as well.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case stateNew:
		return ErrNotStarted
	case stateStopped:
		return nil
	}
	s.state = stateStopped

	// Event streams only end on their own signal; Shutdown would wait
	// for them until the drain timeout.
	if s.events != nil {
		s.events.Close()
	}
	err := s.http.Shutdown(ctx)
	s.cancel()
	s.bus.Flush()
	s.bg.Wait()
	s.bus.Wait()
	s.pool.Shutdown()

	if err != nil {
		s.log.Error("appshell stop failed", "error", err)
		return err
	}
	s.log.Info("appshell stopped")
	return nil
}

// Done is closed once the listener has stopped serving, after Stop or
// when the serve loop fails.
func (s *Server) Done() <-chan struct{} { return s.http.Done() }

// Err returns the error the serve loop failed with, if any.
func (s *Server) Err() error { return s.http.Err() }

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router.Handler() }
