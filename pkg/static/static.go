// Package static serves files from disk for the asset routes.
//
// Directory handlers never list directories and never resolve index files:
// a request that names a directory is a 404. Paths are confined to the
// handler's root, including through symlinks.
package static

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/shashiranjanraj/appshell/pkg/response"
)

// File serves the single file at name. A missing file is a 404.
func File(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serveFile(w, r, name)
	}
}

// DirOptions configures Dir.
type DirOptions struct {
	// Root is the directory files are served from.
	Root string
	// Prefix is the URL prefix stripped before resolving, e.g. "/assets".
	Prefix string
	// CacheControl, when set, is sent with every successful response.
	CacheControl string
}

// Dir returns a handler serving files below opts.Root. Root must exist.
func Dir(opts DirOptions) (http.Handler, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("static: resolve %s: %w", opts.Root, err)
	}
	root, err = filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("static: resolve %s: %w", opts.Root, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("static: stat %s: %w", opts.Root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("static: %s is not a directory", opts.Root)
	}

	return &dirHandler{
		root:         root,
		prefix:       "/" + strings.Trim(opts.Prefix, "/"),
		cacheControl: opts.CacheControl,
	}, nil
}

type dirHandler struct {
	root         string
	prefix       string
	cacheControl string
}

func (h *dirHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name, ok := h.resolve(r.URL.Path)
	if !ok {
		response.NotFound(w)
		return
	}
	if h.cacheControl != "" {
		w.Header().Set("Cache-Control", h.cacheControl)
	}
	serveFile(w, r, name)
}

// resolve maps a request path to a file below root. It rejects any path
// with a ".." segment, any path naming the root itself, and any path whose
// real location falls outside root.
func (h *dirHandler) resolve(urlPath string) (string, bool) {
	rel := urlPath
	if h.prefix != "/" {
		if !strings.HasPrefix(urlPath, h.prefix) {
			return "", false
		}
		rel = strings.TrimPrefix(urlPath, h.prefix)
		if rel != "" && rel[0] != '/' {
			return "", false
		}
	}
	for _, seg := range strings.Split(strings.ReplaceAll(rel, "\\", "/"), "/") {
		if seg == ".." {
			return "", false
		}
	}

	clean := path.Clean("/" + rel)
	if clean == "/" {
		return "", false
	}

	full := filepath.Join(h.root, filepath.FromSlash(clean))
	real, err := filepath.EvalSymlinks(full)
	if err != nil {
		return "", false
	}
	if real != h.root && !strings.HasPrefix(real, h.root+string(filepath.Separator)) {
		return "", false
	}
	return real, true
}

func serveFile(w http.ResponseWriter, r *http.Request, name string) {
	f, err := os.Open(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			response.NotFound(w)
			return
		}
		response.InternalError(w)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		response.InternalError(w)
		return
	}
	if info.IsDir() {
		response.NotFound(w)
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
