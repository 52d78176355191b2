package less

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/shashiranjanraj/appshell/pkg/cache"
	"github.com/shashiranjanraj/appshell/pkg/logger"
	"github.com/shashiranjanraj/appshell/pkg/metrics"
	"github.com/shashiranjanraj/appshell/pkg/response"
)

// HandlerOptions configures Handler.
type HandlerOptions struct {
	// Home is the directory LESS sources are compiled from.
	Home string
	// Prefix is the URL prefix stripped from requests, e.g. "/public/css".
	Prefix string
	// Compress minifies responses.
	Compress bool
	// Cache stores compiled output. Nil disables caching.
	Cache cache.Store
	// Logger receives compile errors. Defaults to the request logger.
	Logger *slog.Logger
}

type compileHandler struct {
	home string
	opts HandlerOptions
}

// Handler returns an http.Handler that compiles <Home>/<name>.less for a
// request to <Prefix>/<name>.css or <Prefix>/<name>.less.
func Handler(opts HandlerOptions) (http.Handler, error) {
	home, err := filepath.Abs(opts.Home)
	if err != nil {
		return nil, fmt.Errorf("less: %w", err)
	}
	fi, err := os.Stat(home)
	if err != nil {
		return nil, fmt.Errorf("less: source directory: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("less: source directory: %s is not a directory", home)
	}
	if opts.Cache == nil {
		opts.Cache = cache.Nop()
	}
	opts.Prefix = strings.TrimSuffix(opts.Prefix, "/")
	return &compileHandler{home: home, opts: opts}, nil
}

func (h *compileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		response.Text(w, http.StatusMethodNotAllowed, "")
		return
	}
	src, ok := h.source(r.URL.Path)
	if !ok {
		response.NotFound(w)
		return
	}
	if _, err := os.Stat(src); err != nil {
		response.NotFound(w)
		return
	}

	css, err := h.compile(r.Context(), src)
	if err != nil {
		log := h.opts.Logger
		if log == nil {
			log = logger.WithCtx(r.Context())
		}
		log.Error("less compile failed", "path", r.URL.Path, "error", err)
		response.InternalError(w)
		return
	}

	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, "", time.Time{}, strings.NewReader(string(css)))
}

// source maps a request path to a file below home.
func (h *compileHandler) source(urlPath string) (string, bool) {
	if h.opts.Prefix != "" {
		if urlPath != h.opts.Prefix && !strings.HasPrefix(urlPath, h.opts.Prefix+"/") {
			return "", false
		}
		urlPath = strings.TrimPrefix(urlPath, h.opts.Prefix)
	}
	for _, seg := range strings.Split(strings.ReplaceAll(urlPath, "\\", "/"), "/") {
		if seg == ".." {
			return "", false
		}
	}
	name := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	switch ext := path.Ext(name); ext {
	case ".css", ".less":
		name = strings.TrimSuffix(name, ext)
	default:
		return "", false
	}
	if name == "" || name == "." {
		return "", false
	}
	return filepath.Join(h.home, filepath.FromSlash(name)+".less"), true
}

type cachedFile struct {
	Path  string    `json:"path"`
	MTime time.Time `json:"mtime"`
}

type cachedCSS struct {
	CSS   []byte       `json:"css"`
	Files []cachedFile `json:"files"`
}

func (c *cachedCSS) fresh() bool {
	for _, f := range c.Files {
		fi, err := os.Stat(f.Path)
		if err != nil || !fi.ModTime().Equal(f.MTime) {
			return false
		}
	}
	return len(c.Files) > 0
}

func (h *compileHandler) cacheKey(src string) string {
	return fmt.Sprintf("less:%t:%s", h.opts.Compress, src)
}

func (h *compileHandler) compile(ctx context.Context, src string) (css []byte, err error) {
	key := h.cacheKey(src)
	driver := h.opts.Cache.Driver()
	if raw, ok := h.opts.Cache.Get(ctx, key); ok {
		var entry cachedCSS
		if json.Unmarshal(raw, &entry) == nil && entry.fresh() {
			metrics.CacheHits.WithLabelValues(driver).Inc()
			return entry.CSS, nil
		}
	}
	metrics.CacheMisses.WithLabelValues(driver).Inc()

	defer metrics.ObserveLessCompile(time.Now(), &err)
	res, err := Compile(src, Options{Compress: h.opts.Compress, Paths: []string{h.home}})
	if err != nil {
		return nil, err
	}

	entry := cachedCSS{CSS: res.CSS}
	for _, f := range res.Files {
		fi, statErr := os.Stat(f)
		if statErr != nil {
			if errors.Is(statErr, fs.ErrNotExist) {
				continue
			}
			return res.CSS, nil
		}
		entry.Files = append(entry.Files, cachedFile{Path: f, MTime: fi.ModTime()})
	}
	if raw, mErr := json.Marshal(entry); mErr == nil {
		_ = h.opts.Cache.Set(ctx, key, raw, 0)
	}
	return res.CSS, nil
}
