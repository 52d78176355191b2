// Package less compiles LESS stylesheets to CSS.
//
// The supported dialect covers what application stylesheets typically
// use: variables with lazy evaluation and interpolation, nested rules with
// the & parent selector, mixins (plain, parametric, pattern-matched), media
// and @supports bubbling, arithmetic with units, color functions and
// @import with the once/multiple/reference/inline/optional options.
// Guards, :extend, detached rulesets and plugins are rejected with an
// error.
package less

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
)

var (
	// ErrImportCycle is returned when a file imports itself, directly or
	// through other files.
	ErrImportCycle = errors.New("import cycle")
	// ErrUndefinedVariable is returned when a variable is referenced but
	// never defined in scope.
	ErrUndefinedVariable = errors.New("undefined variable")
)

// Error is a compile error located in a source file.
type Error struct {
	File string
	Line int
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Options controls compilation.
type Options struct {
	// Compress minifies the output.
	Compress bool
	// Paths are searched for imports not found next to the importing file.
	Paths []string
}

// Result is compiled CSS and the source files it was built from.
type Result struct {
	CSS []byte
	// Files lists the absolute paths of every file read, entry file first.
	Files []string
}

// Compile compiles the LESS file at filename.
func Compile(filename string, opts Options) (*Result, error) {
	abs, err := filepath.Abs(filename)
	if err != nil {
		return nil, err
	}
	l := newLoader(opts.Paths)
	nodes, err := l.load(abs, 0)
	if err != nil {
		return nil, err
	}
	return finish(nodes, abs, l.files, opts)
}

// CompileString compiles src. Imports are resolved against opts.Paths and
// then the working directory.
func CompileString(src string, opts Options) (*Result, error) {
	const name = "<input>"
	nodes, err := parse(src, name)
	if err != nil {
		return nil, err
	}
	l := newLoader(opts.Paths)
	if nodes, err = l.expand(nodes, "", name); err != nil {
		return nil, err
	}
	return finish(nodes, name, l.files, opts)
}

func finish(nodes []node, file string, files []string, opts Options) (*Result, error) {
	ev := newEvaluator(file)
	if err := ev.run(nodes); err != nil {
		return nil, err
	}
	out := ev.render()
	if opts.Compress {
		m := minify.New()
		m.AddFunc("text/css", css.Minify)
		min, err := m.String("text/css", out)
		if err != nil {
			return nil, &Error{File: file, Msg: "minify: " + err.Error(), Err: err}
		}
		out = min
	}
	return &Result{CSS: []byte(out), Files: files}, nil
}

// includeNode holds the nodes of an imported file. Imported files share
// the importing scope.
type includeNode struct {
	file      string
	nodes     []node
	reference bool
	line      int
}

func (n *includeNode) pos() int { return n.line }

type loader struct {
	paths []string
	seen  map[string]bool
	stack []string
	files []string
}

func newLoader(paths []string) *loader {
	return &loader{paths: paths, seen: map[string]bool{}}
}

func (l *loader) load(file string, line int) ([]node, error) {
	for _, f := range l.stack {
		if f == file {
			chain := append(append([]string{}, l.stack...), file)
			return nil, &Error{
				File: l.current(),
				Line: line,
				Msg:  fmt.Sprintf("%s: %s", ErrImportCycle, strings.Join(chain, " -> ")),
				Err:  ErrImportCycle,
			}
		}
	}
	src, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	if !l.seen[file] {
		l.files = append(l.files, file)
	}
	l.seen[file] = true

	nodes, err := parse(string(src), file)
	if err != nil {
		return nil, err
	}
	l.stack = append(l.stack, file)
	defer func() { l.stack = l.stack[:len(l.stack)-1] }()
	return l.expand(nodes, filepath.Dir(file), file)
}

func (l *loader) current() string {
	if len(l.stack) == 0 {
		return "<input>"
	}
	return l.stack[len(l.stack)-1]
}

func (l *loader) expand(nodes []node, dir, file string) ([]node, error) {
	out := make([]node, 0, len(nodes))
	for _, n := range nodes {
		switch n := n.(type) {
		case *blockNode:
			children, err := l.expand(n.children, dir, file)
			if err != nil {
				return nil, err
			}
			cp := *n
			cp.children = children
			out = append(out, &cp)

		case *importNode:
			inc, err := l.include(n, dir, file)
			if err != nil {
				return nil, err
			}
			if inc != nil {
				out = append(out, inc)
			}

		default:
			out = append(out, n)
		}
	}
	return out, nil
}

func (l *loader) include(n *importNode, dir, file string) (node, error) {
	has := func(opt string) bool {
		for _, o := range n.options {
			if o == opt {
				return true
			}
		}
		return false
	}

	target, ok := l.resolve(n.path, dir)
	if !ok {
		if has("optional") {
			return nil, nil
		}
		return nil, &Error{File: file, Line: n.line, Msg: fmt.Sprintf("import %q not found", n.path), Err: os.ErrNotExist}
	}

	if has("inline") {
		src, err := os.ReadFile(target)
		if err != nil {
			return nil, err
		}
		if !l.seen[target] {
			l.files = append(l.files, target)
			l.seen[target] = true
		}
		return &rawNode{text: string(src), inline: true, line: n.line}, nil
	}

	if l.seen[target] && !has("multiple") {
		// Still an error when the file is an ancestor of this one.
		for _, f := range l.stack {
			if f == target {
				return nil, &Error{
					File: file,
					Line: n.line,
					Msg:  fmt.Sprintf("%s: %s", ErrImportCycle, strings.Join(append(append([]string{}, l.stack...), target), " -> ")),
					Err:  ErrImportCycle,
				}
			}
		}
		return nil, nil
	}

	nodes, err := l.load(target, n.line)
	if err != nil {
		return nil, err
	}
	return &includeNode{file: target, nodes: nodes, reference: has("reference"), line: n.line}, nil
}

func (l *loader) resolve(name, dir string) (string, bool) {
	if filepath.Ext(name) == "" {
		name += ".less"
	}
	var candidates []string
	if filepath.IsAbs(name) {
		candidates = []string{name}
	} else {
		if dir != "" {
			candidates = append(candidates, filepath.Join(dir, name))
		}
		for _, p := range l.paths {
			candidates = append(candidates, filepath.Join(p, name))
		}
		if dir == "" {
			candidates = append(candidates, name)
		}
	}
	for _, c := range candidates {
		if fi, err := os.Stat(c); err == nil && !fi.IsDir() {
			abs, err := filepath.Abs(c)
			if err != nil {
				return "", false
			}
			return abs, true
		}
	}
	return "", false
}
