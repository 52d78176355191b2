// Package app builds and runs the appshell HTTP server.
//
// New takes a configuration, fills in defaults, registers the view engine,
// the static file handlers and the LESS compiler, and wires the routes in
// their fixed order. The returned Server is started and stopped by the
// caller:
//
//	srv, err := app.New(config.Config{Env: "development"})
//	if err != nil {
//	    return err
//	}
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
//	defer srv.Stop(context.Background())
//
// Every GET that no asset route claims renders the "app" view, so client
// side routing works for any path.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/shashiranjanraj/appshell/config"
	"github.com/shashiranjanraj/appshell/internal/server"
	"github.com/shashiranjanraj/appshell/pkg/assets"
	"github.com/shashiranjanraj/appshell/pkg/cache"
	"github.com/shashiranjanraj/appshell/pkg/event"
	"github.com/shashiranjanraj/appshell/pkg/logger"
	"github.com/shashiranjanraj/appshell/pkg/router"
	"github.com/shashiranjanraj/appshell/pkg/sse"
	"github.com/shashiranjanraj/appshell/pkg/storage"
	"github.com/shashiranjanraj/appshell/pkg/view"
	"github.com/shashiranjanraj/appshell/pkg/workerpool"
	"github.com/shashiranjanraj/appshell/pkg/ws"
)

// Errors returned by the Server lifecycle.
var (
	ErrNotStarted     = errors.New("app: server not started")
	ErrAlreadyStarted = errors.New("app: server already started")
)

const connectTimeout = 5 * time.Second

// Option customises New.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	manifest assets.Manifest
	cache    cache.Store
	disks    []storage.Disk
}

// WithLogger sets the logger. Defaults to logger.L.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithManifest uses m instead of reading the manifest file.
func WithManifest(m assets.Manifest) Option { return func(o *options) { o.manifest = m } }

// WithCache replaces the cache selected by the configuration.
func WithCache(c cache.Store) Option { return func(o *options) { o.cache = c } }

// WithDisks adds publish targets for rendered bundles.
func WithDisks(d ...storage.Disk) Option {
	return func(o *options) { o.disks = append(o.disks, d...) }
}

type state int

const (
	stateNew state = iota
	stateStarted
	stateStopped
)

// Server is a configured appshell server.
type Server struct {
	cfg    config.Config
	log    *slog.Logger
	router *router.Router
	http   *server.Server
	views  *view.Engine
	assets *assets.Manager
	cache  cache.Store
	pool   *workerpool.Pool
	bus    *event.Bus
	hub    *ws.Hub
	events *sse.Broker
	h      handlers

	// failed records plugins that did not register under the degrade
	// policy. Their routes answer 503.
	failed map[string]error

	mu     sync.Mutex
	state  state
	cancel context.CancelFunc
	bg     sync.WaitGroup
}

// New builds a Server from cfg. Defaults are applied with config.Merge.
func New(cfg config.Config, opts ...Option) (*Server, error) {
	cfg = config.Merge(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.logger
	if log == nil {
		log = logger.L
	}

	s := &Server{
		cfg:    cfg,
		log:    log,
		router: router.New(),
		pool:   workerpool.New(runtime.NumCPU()),
		bus:    event.New(),
		failed: map[string]error{},
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := s.setupCache(ctx, o.cache); err != nil {
		s.pool.Shutdown()
		return nil, err
	}
	if err := s.setupAssets(ctx, o); err != nil {
		s.pool.Shutdown()
		return nil, err
	}
	if err := s.registerPlugins(); err != nil {
		s.pool.Shutdown()
		return nil, err
	}
	s.registerRoutes()

	s.http = server.New(server.Options{
		Addr:         cfg.Addr(),
		Handler:      s.router.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
		DrainTimeout: cfg.HTTP.DrainTimeout,
		Logger:       log,
	})
	return s, nil
}

func (s *Server) setupCache(ctx context.Context, override cache.Store) error {
	if override != nil {
		s.cache = override
		return nil
	}
	store, err := cache.New(ctx, s.cfg.Cache)
	if err != nil {
		if s.cfg.FailFast() {
			return fmt.Errorf("app: cache: %w", err)
		}
		s.log.Error("cache unavailable, compiling without cache", "driver", s.cfg.Cache.Driver, "error", err)
		store = cache.Nop()
	}
	s.cache = store
	return nil
}

func (s *Server) setupAssets(ctx context.Context, o options) error {
	m := o.manifest
	if m == nil {
		var err error
		if m, err = assets.LoadManifest(s.path(s.cfg.Manifest)); err != nil {
			return err
		}
	}

	disks := append([]storage.Disk(nil), o.disks...)
	if s3 := s.cfg.Storage.S3; s3.Bucket != "" {
		d, err := storage.NewS3(ctx, storage.S3Options{
			Bucket:   s3.Bucket,
			Region:   s3.Region,
			Key:      s3.Key,
			Secret:   s3.Secret,
			Endpoint: s3.Endpoint,
			Prefix:   s3.Prefix,
			URL:      s3.URL,
		})
		if err != nil {
			return fmt.Errorf("app: storage: %w", err)
		}
		disks = append(disks, d)
	}

	s.assets = assets.Load(m.WithDocroot(s.cfg.Docroot), assets.Options{
		Root:     s.cfg.Root,
		Env:      s.cfg.Env,
		LessHome: s.path("public", "less"),
		Disks:    disks,
		Pool:     s.pool,
		Logger:   s.log,
	})
	return nil
}

// path joins elems onto the configured root.
func (s *Server) path(elems ...string) string {
	return filepath.Join(append([]string{s.cfg.Root}, elems...)...)
}

// Config returns the merged configuration the server runs with.
func (s *Server) Config() config.Config { return s.cfg }

// Assets returns the asset manager.
func (s *Server) Assets() *assets.Manager { return s.assets }

// Routes returns the route table in registration order.
func (s *Server) Routes() []router.RouteInfo { return s.router.Routes() }

// Addr returns the listener address: the bound one once started, the
// configured host:port before.
func (s *Server) Addr() string { return s.http.Addr() }

// Failed reports plugins that failed to register, keyed by name.
func (s *Server) Failed() map[string]error {
	out := make(map[string]error, len(s.failed))
	for k, v := range s.failed {
		out[k] = v
	}
	return out
}
