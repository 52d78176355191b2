package app

// kernel.go registers the plugins and the route table.

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/shashiranjanraj/appshell/pkg/assets"
	"github.com/shashiranjanraj/appshell/pkg/less"
	"github.com/shashiranjanraj/appshell/pkg/logger"
	"github.com/shashiranjanraj/appshell/pkg/metrics"
	"github.com/shashiranjanraj/appshell/pkg/middleware"
	"github.com/shashiranjanraj/appshell/pkg/reqid"
	"github.com/shashiranjanraj/appshell/pkg/response"
	"github.com/shashiranjanraj/appshell/pkg/router"
	"github.com/shashiranjanraj/appshell/pkg/sse"
	"github.com/shashiranjanraj/appshell/pkg/static"
	"github.com/shashiranjanraj/appshell/pkg/view"
	"github.com/shashiranjanraj/appshell/pkg/ws"
)

// Plugin names, as logged and reported by Failed.
const (
	PluginView   = "view"
	PluginStatic = "static"
	PluginLess   = "less"
)

// handlers built by the plugins. A nil entry belongs to a plugin that
// failed to register.
type handlers struct {
	favicon http.Handler
	assets  http.Handler
	js      http.Handler
	css     http.Handler
	lessCSS http.Handler
	lessRaw http.Handler
}

func (s *Server) registerPlugins() error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{PluginView, s.registerView},
		{PluginStatic, s.registerStatic},
		{PluginLess, s.registerLess},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			s.log.Error("failed to load plugin", "plugin", step.name, "error", err)
			if s.cfg.FailFast() {
				return fmt.Errorf("app: plugin %s: %w", step.name, err)
			}
			s.failed[step.name] = err
		}
	}
	return nil
}

func (s *Server) registerView() error {
	engine, err := view.New(view.Options{
		Dir:   s.path("views"),
		Ext:   ".html",
		Cache: !s.cfg.IsDevelopment(),
	})
	if err != nil {
		return err
	}
	s.views = engine
	return nil
}

func (s *Server) registerStatic() error {
	s.h.favicon = static.File(s.path("public", "images", "favicon.ico"))

	dirs := []struct {
		dst    *http.Handler
		root   string
		prefix string
		cache  string
	}{
		{&s.h.assets, s.path("public", "assets"), "/assets", "public, max-age=31536000, immutable"},
		{&s.h.js, s.path("public", "js"), "/public/js", ""},
		{&s.h.css, s.path("public", "css"), "/css", ""},
	}
	var errs []error
	for _, d := range dirs {
		h, err := static.Dir(static.DirOptions{Root: d.root, Prefix: d.prefix, CacheControl: d.cache})
		if errors.Is(err, os.ErrNotExist) {
			// Nothing published there yet.
			s.log.Warn("static directory missing", "dir", d.root)
			h, err = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { response.NotFound(w) }), nil
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*d.dst = h
	}
	return errors.Join(errs...)
}

func (s *Server) registerLess() error {
	for _, route := range []struct {
		dst    *http.Handler
		prefix string
	}{
		{&s.h.lessCSS, "/public/css"},
		{&s.h.lessRaw, "/public/less"},
	} {
		h, err := less.Handler(less.HandlerOptions{
			Home:     s.path("public", "less"),
			Prefix:   route.prefix,
			Compress: true,
			Cache:    s.cache,
		})
		if err != nil {
			return err
		}
		*route.dst = h
	}
	return nil
}

// unavailable answers 503 for a route whose plugin did not register.
func unavailable(plugin string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response.Unavailable(w, plugin)
	})
}

func orUnavailable(h http.Handler, plugin string) http.Handler {
	if h == nil {
		return unavailable(plugin)
	}
	return h
}

// registerRoutes wires the route table. chi ranks static prefixes above
// the /* catch-all, so the catch-all only sees paths no asset route owns.
func (s *Server) registerRoutes() {
	r := s.router
	r.Use(metrics.Middleware())
	r.Use(middleware.Recovery)
	r.Use(reqid.Middleware())
	r.Use(middleware.Logger)

	var assetMW []router.Middleware
	if len(s.cfg.CORS.Origins) > 0 {
		assetMW = append(assetMW, middleware.CORS(middleware.AssetCORSOptions(s.cfg.CORS.Origins)))
	}
	asset := func(path, name string, h http.Handler, mws ...router.Middleware) {
		mws = append(append([]router.Middleware(nil), assetMW...), mws...)
		r.Get(path, name, h, mws...)
		if len(assetMW) > 0 {
			r.Handle(http.MethodOptions, path, "", h, mws...)
		}
	}

	app := http.HandlerFunc(s.serveApp)

	r.Get("/", "app.index", app)
	asset("/favicon.ico", "favicon", orUnavailable(s.h.favicon, PluginStatic))
	asset("/assets/*", "assets", orUnavailable(s.h.assets, PluginStatic))
	asset("/public/js/*", "public.js", orUnavailable(s.h.js, PluginStatic))
	asset("/css/*", "css", orUnavailable(s.h.css, PluginStatic))

	var lessMW []router.Middleware
	if n := s.cfg.HTTP.LessRateLimit; n > 0 {
		lessMW = append(lessMW, middleware.RateLimit(middleware.NewLimiter(n, time.Minute)))
	}
	asset("/public/css/*", "less.css", orUnavailable(s.h.lessCSS, PluginLess), lessMW...)
	asset("/public/less/*", "less.less", orUnavailable(s.h.lessRaw, PluginLess), lessMW...)

	if !s.cfg.Metrics.Disabled {
		r.Get("/metrics", "metrics", metrics.Handler())
	}
	r.Get("/healthz", "healthz", http.HandlerFunc(s.serveHealth))
	if s.cfg.IsDevelopment() && !s.cfg.LiveReload.Disabled {
		s.hub = ws.NewHub()
		s.events = sse.NewBroker()
		r.Get("/__livereload", "livereload", s.hub.Handler())
		r.Get("/__livereload/events", "livereload.events", s.events.Handler())
	}

	r.Get("/*", "app.catchall", app)
}

// serveApp renders the application shell view.
func (s *Server) serveApp(w http.ResponseWriter, r *http.Request) {
	if s.views == nil {
		response.Unavailable(w, PluginView)
		return
	}
	keys, err := s.assets.Keys(assets.DefaultTarget)
	if err != nil {
		logger.WithCtx(r.Context()).Error("asset keys", "error", err)
		response.InternalError(w)
		return
	}

	data := map[string]any{
		"js":         keys.JS(),
		"css":        keys.CSS(),
		"ga_id":      s.cfg.GAID,
		"livereload": s.hub != nil,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.views.Render(w, "app", data); err != nil {
		logger.WithCtx(r.Context()).Error("render view", "view", "app", "error", err)
		response.InternalError(w)
	}
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	failed := make([]string, 0, len(s.failed))
	for name := range s.failed {
		failed = append(failed, name)
	}
	sort.Strings(failed)
	response.Success(w, map[string]any{
		"status": "ok",
		"env":    s.cfg.Env,
		"failed": failed,
	})
}
