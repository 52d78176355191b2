// Package view renders server-side HTML views with html/template.
//
// A view named "app" is the file <Dir>/app<Ext>. Files under
// <Dir>/partials are parsed alongside every view so they can be pulled in
// with {{template "name.html" .}}.
//
// With Cache on, each view is parsed once; with Cache off (development) it
// is re-parsed on every render so edits show up without a restart.
package view

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNotFound is returned when no file exists for the requested view.
var ErrNotFound = errors.New("view: not found")

// Options configures New.
type Options struct {
	Dir   string
	Ext   string // defaults to ".html"
	Cache bool
	Funcs template.FuncMap
}

// Engine renders views from a directory.
type Engine struct {
	dir   string
	ext   string
	cache bool
	funcs template.FuncMap

	mu        sync.RWMutex
	templates map[string]*template.Template
}

// New checks that the views directory exists and returns an Engine.
func New(opts Options) (*Engine, error) {
	info, err := os.Stat(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("view: views directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("view: %s is not a directory", opts.Dir)
	}

	ext := opts.Ext
	if ext == "" {
		ext = ".html"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	return &Engine{
		dir:       opts.Dir,
		ext:       ext,
		cache:     opts.Cache,
		funcs:     opts.Funcs,
		templates: map[string]*template.Template{},
	}, nil
}

// Caching reports whether parsed views are reused between renders.
func (e *Engine) Caching() bool { return e.cache }

// Render executes the view name with data into w. Output is buffered so a
// template error never leaves a half-written page.
func (e *Engine) Render(w io.Writer, name string, data any) error {
	tmpl, err := e.lookup(name)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("view: execute %s: %w", name, err)
	}
	_, err = buf.WriteTo(w)
	return err
}

// Invalidate drops every cached view.
func (e *Engine) Invalidate() {
	e.mu.Lock()
	e.templates = map[string]*template.Template{}
	e.mu.Unlock()
}

func (e *Engine) lookup(name string) (*template.Template, error) {
	if !e.cache {
		return e.parse(name)
	}

	e.mu.RLock()
	tmpl, ok := e.templates[name]
	e.mu.RUnlock()
	if ok {
		return tmpl, nil
	}

	tmpl, err := e.parse(name)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.templates[name] = tmpl
	e.mu.Unlock()
	return tmpl, nil
}

func (e *Engine) parse(name string) (*template.Template, error) {
	if name == "" || strings.Contains(name, "..") {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	file := filepath.Join(e.dir, filepath.FromSlash(name)+e.ext)
	src, err := os.ReadFile(file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("view: read %s: %w", name, err)
	}

	tmpl := template.New(name).Funcs(e.funcs)
	if _, err := tmpl.Parse(string(src)); err != nil {
		return nil, fmt.Errorf("view: parse %s: %w", name, err)
	}

	partials, err := filepath.Glob(filepath.Join(e.dir, "partials", "*"+e.ext))
	if err != nil {
		return nil, fmt.Errorf("view: partials: %w", err)
	}
	if len(partials) > 0 {
		if _, err := tmpl.ParseFiles(partials...); err != nil {
			return nil, fmt.Errorf("view: parse partials: %w", err)
		}
	}
	return tmpl, nil
}
