package less

import (
	"fmt"
	"regexp"
	"strings"
)

type node interface{ pos() int }

// declNode is "name: value".
type declNode struct {
	name, value string
	line        int
}

// varNode is "@name: value".
type varNode struct {
	name, value string
	line        int
}

// callNode is a mixin call such as ".rounded(4px) !important".
type callNode struct {
	name      string
	args      string
	important bool
	line      int
}

// rawNode is an at-rule statement passed through, e.g. @charset, or the
// verbatim content of an inline import.
type rawNode struct {
	text   string
	inline bool
	line   int
}

// importNode is replaced by the imported file's nodes before evaluation.
type importNode struct {
	path    string
	options []string
	line    int
}

// cssImportNode is a plain CSS @import kept in the output.
type cssImportNode struct {
	text string
	line int
}

// blockNode is a ruleset, mixin definition or at-rule with a body.
type blockNode struct {
	prelude  string
	children []node
	line     int
}

func (n *declNode) pos() int      { return n.line }
func (n *varNode) pos() int       { return n.line }
func (n *callNode) pos() int      { return n.line }
func (n *rawNode) pos() int       { return n.line }
func (n *importNode) pos() int    { return n.line }
func (n *cssImportNode) pos() int { return n.line }
func (n *blockNode) pos() int     { return n.line }

var (
	varDefRe    = regexp.MustCompile(`^@([\w-]+)\s*:\s*([\s\S]*)$`)
	mixinCallRe = regexp.MustCompile(`^([.#][\w-]+(?:\s*>?\s*[.#][\w-]+)*)\s*(\(([\s\S]*)\))?\s*(!important)?$`)
	importRe    = regexp.MustCompile(`^@import\s*(?:\(([^)]*)\))?\s*([\s\S]+)$`)
	guardRe     = regexp.MustCompile(`\swhen\s*(\(|not\b)`)
	detachedRe  = regexp.MustCompile(`^@[\w-]+\s*:`)
	detCallRe   = regexp.MustCompile(`^@[\w-]+\s*\(\s*\)$`)
)

type parser struct {
	src  string
	file string
	pos  int
	line int
}

func parse(src, file string) ([]node, error) {
	p := &parser{src: stripComments(src), file: file, line: 1}
	return p.parseBlock(true)
}

func (p *parser) errorf(line int, format string, args ...any) error {
	return &Error{File: p.file, Line: line, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) parseBlock(top bool) ([]node, error) {
	var (
		nodes     []node
		buf       strings.Builder
		depth     int
		startLine = p.line
	)
	mark := func() {
		if strings.TrimSpace(buf.String()) == "" {
			startLine = p.line
		}
	}
	flush := func() error {
		text := strings.TrimSpace(buf.String())
		buf.Reset()
		if text == "" {
			return nil
		}
		n, err := p.statement(text, startLine)
		if err != nil {
			return err
		}
		if n != nil {
			nodes = append(nodes, n)
		}
		return nil
	}

	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == '"' || c == '\'':
			mark()
			s, err := p.readString()
			if err != nil {
				return nil, err
			}
			buf.WriteString(s)
			continue

		case c == '@' && p.pos+1 < len(p.src) && p.src[p.pos+1] == '{':
			mark()
			end := strings.IndexByte(p.src[p.pos:], '}')
			if end < 0 {
				return nil, p.errorf(p.line, "unterminated interpolation")
			}
			buf.WriteString(p.src[p.pos : p.pos+end+1])
			p.pos += end + 1
			continue

		case c == '(':
			depth++
		case c == ')':
			if depth > 0 {
				depth--
			}

		case c == ';' && depth == 0:
			p.pos++
			if err := flush(); err != nil {
				return nil, err
			}
			continue

		case c == '{' && depth == 0:
			prelude := strings.TrimSpace(buf.String())
			line := startLine
			buf.Reset()
			p.pos++
			children, err := p.parseBlock(false)
			if err != nil {
				return nil, err
			}
			if prelude == "" {
				return nil, p.errorf(line, "block without selector")
			}
			if err := p.checkPrelude(prelude, line); err != nil {
				return nil, err
			}
			nodes = append(nodes, &blockNode{prelude: prelude, children: children, line: line})
			startLine = p.line
			continue

		case c == '}' && depth == 0:
			if top {
				return nil, p.errorf(p.line, "unexpected }")
			}
			p.pos++
			if err := flush(); err != nil {
				return nil, err
			}
			return nodes, nil

		case c == '\n':
			p.line++
		}

		if c != '\n' && c != ' ' && c != '\t' && c != '\r' {
			mark()
		}
		buf.WriteByte(c)
		p.pos++
	}

	if !top {
		return nil, p.errorf(p.line, "missing closing }")
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return nodes, nil
}

// checkPrelude rejects block forms the evaluator does not implement, so
// they fail loudly instead of leaking into the output.
func (p *parser) checkPrelude(prelude string, line int) error {
	switch {
	case detachedRe.MatchString(prelude):
		return p.errorf(line, "detached rulesets are not supported")
	case !strings.HasPrefix(prelude, "@") && guardRe.MatchString(prelude):
		return p.errorf(line, "guards are not supported")
	}
	return nil
}

func (p *parser) readString() (string, error) {
	quote := p.src[p.pos]
	start := p.pos
	line := p.line
	p.pos++
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch c {
		case '\\':
			p.pos += 2
			continue
		case '\n':
			p.line++
		case quote:
			p.pos++
			return p.src[start:p.pos], nil
		}
		p.pos++
	}
	return "", p.errorf(line, "unterminated string")
}

func (p *parser) statement(text string, line int) (node, error) {
	switch {
	case strings.HasPrefix(text, "@import"):
		m := importRe.FindStringSubmatch(text)
		if m == nil {
			return nil, p.errorf(line, "malformed @import")
		}
		var opts []string
		for _, o := range strings.Split(m[1], ",") {
			if o = strings.TrimSpace(o); o != "" {
				opts = append(opts, o)
			}
		}
		target := strings.TrimSpace(m[2])
		if isCSSImport(target, opts) {
			return &cssImportNode{text: "@import " + target, line: line}, nil
		}
		path, ok := unquote(target)
		if !ok {
			return nil, p.errorf(line, "malformed @import %s", target)
		}
		return &importNode{path: path, options: opts, line: line}, nil

	case strings.HasPrefix(text, "@") && !strings.HasPrefix(text, "@{"):
		if detCallRe.MatchString(text) {
			return nil, p.errorf(line, "detached ruleset calls are not supported")
		}
		if m := varDefRe.FindStringSubmatch(text); m != nil {
			return &varNode{name: m[1], value: strings.TrimSpace(m[2]), line: line}, nil
		}
		return &rawNode{text: text, line: line}, nil

	case text[0] == '.' || text[0] == '#':
		m := mixinCallRe.FindStringSubmatch(text)
		if m == nil {
			return nil, p.errorf(line, "unrecognised statement %q", text)
		}
		name := m[1]
		if i := strings.LastIndexAny(name, " >"); i >= 0 {
			name = strings.TrimSpace(name[i+1:])
		}
		return &callNode{name: name, args: strings.TrimSpace(m[3]), important: m[4] != "", line: line}, nil

	case strings.HasPrefix(text, "&:extend"):
		return nil, p.errorf(line, ":extend is not supported")
	}

	i := strings.IndexByte(text, ':')
	if i <= 0 {
		return nil, p.errorf(line, "expected declaration, got %q", text)
	}
	return &declNode{
		name:  strings.TrimSpace(text[:i]),
		value: strings.TrimSpace(text[i+1:]),
		line:  line,
	}, nil
}

func isCSSImport(target string, opts []string) bool {
	for _, o := range opts {
		switch o {
		case "css":
			return true
		case "less", "inline":
			return false
		}
	}
	if strings.HasPrefix(target, "url(") {
		return true
	}
	path, ok := unquote(target)
	if !ok {
		return true
	}
	return strings.HasSuffix(path, ".css") ||
		strings.HasPrefix(path, "http://") ||
		strings.HasPrefix(path, "https://") ||
		strings.HasPrefix(path, "//")
}

func unquote(s string) (string, bool) {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1], true
	}
	return "", false
}

// stripComments removes // and /* */ comments outside strings, keeping
// newlines so reported line numbers stay right. A // inside parentheses is
// left alone since it is usually part of a url().
func stripComments(src string) string {
	var b strings.Builder
	b.Grow(len(src))
	depth := 0
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '"' || c == '\'':
			j := i + 1
			for j < len(src) && src[j] != c {
				if src[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(src) {
				j = len(src) - 1
			}
			b.WriteString(src[i : j+1])
			i = j
			continue
		case c == '(':
			depth++
		case c == ')':
			if depth > 0 {
				depth--
			}
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				end = len(src) - i - 2
			} else {
				end += 2
			}
			b.WriteString(strings.Repeat("\n", strings.Count(src[i:i+2+end], "\n")))
			i += 1 + end
			continue
		case c == '/' && depth == 0 && i+1 < len(src) && src[i+1] == '/':
			for i < len(src) && src[i] != '\n' {
				i++
			}
			if i < len(src) {
				b.WriteByte('\n')
			}
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
