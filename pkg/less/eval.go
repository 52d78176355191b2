package less

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const maxMixinDepth = 64

var (
	mixinDefRe     = regexp.MustCompile(`^([.#][\w-]+)\s*\(([\s\S]*)\)$`)
	simpleSelRe    = regexp.MustCompile(`^[.#][\w-]+$`)
	interpRe       = regexp.MustCompile(`@\{([\w-]+)\}`)
	namedArgRe     = regexp.MustCompile(`^@([\w-]+)\s*:\s*([\s\S]*)$`)
	escapeRe       = regexp.MustCompile(`~"([^"]*)"|~'([^']*)'`)
	importantRe    = regexp.MustCompile(`\s*!\s*important$`)
	bareVariableRe = regexp.MustCompile(`@@?[\w-]+`)
)

type varState int

const (
	unresolved varState = iota
	resolving
	resolved
)

type varDef struct {
	raw   string
	scope *scope
	state varState
	val   value
}

type param struct {
	name    string
	def     string
	hasDef  bool
	pattern string
}

type mixin struct {
	params   []param
	variadic bool
	rest     string
	body     []node
	scope    *scope
	ruleset  bool
}

// scope holds hoisted variables and mixins of one block. Lookups walk the
// lexical parents first, then the scopes a mixin was called from.
type scope struct {
	parent *scope
	caller *scope
	vars   map[string]*varDef
	mixins map[string][]*mixin
}

func newScope(parent, caller *scope) *scope {
	return &scope{parent: parent, caller: caller, vars: map[string]*varDef{}, mixins: map[string][]*mixin{}}
}

func (s *scope) hoist(nodes []node) error {
	for _, n := range nodes {
		switch n := n.(type) {
		case *varNode:
			s.vars[n.name] = &varDef{raw: n.value, scope: s}
		case *includeNode:
			if err := s.hoist(n.nodes); err != nil {
				return err
			}
		case *blockNode:
			if m := mixinDefRe.FindStringSubmatch(n.prelude); m != nil {
				mx, err := parseParams(m[2])
				if err != nil {
					return err
				}
				mx.body, mx.scope = n.children, s
				s.mixins[m[1]] = append(s.mixins[m[1]], mx)
			} else if simpleSelRe.MatchString(n.prelude) {
				s.mixins[n.prelude] = append(s.mixins[n.prelude], &mixin{body: n.children, scope: s, ruleset: true})
			}
		}
	}
	return nil
}

// find visits the lexical chain, then the callers of each scope on it.
func (s *scope) find(fn func(*scope) bool) bool {
	for p := s; p != nil; p = p.parent {
		if fn(p) {
			return true
		}
	}
	for p := s; p != nil; p = p.parent {
		if p.caller != nil && p.caller.find(fn) {
			return true
		}
	}
	return false
}

func (s *scope) lookupVar(name string) (d *varDef) {
	s.find(func(p *scope) bool {
		d = p.vars[name]
		return d != nil
	})
	return d
}

func (s *scope) lookupMixin(name string) (ms []*mixin) {
	s.find(func(p *scope) bool {
		ms = p.mixins[name]
		return ms != nil
	})
	return ms
}

// env evaluates values against a scope.
type env struct {
	scope *scope
}

func (e *env) variable(name string) (value, error) {
	if strings.HasPrefix(name, "@") {
		inner, err := e.variable(name[1:])
		if err != nil {
			return value{}, err
		}
		name = trimQuotes(inner.String())
	}
	d := e.scope.lookupVar(name)
	if d == nil {
		return value{}, fmt.Errorf("%w @%s", ErrUndefinedVariable, name)
	}
	switch d.state {
	case resolved:
		return d.val, nil
	case resolving:
		return value{}, fmt.Errorf("recursive variable definition for @%s", name)
	}
	d.state = resolving
	v, err := evalExpr(d.raw, &env{scope: d.scope})
	if err != nil {
		d.state = unresolved
		return value{}, err
	}
	d.val, d.state = v, resolved
	return v, nil
}

// interpolate replaces @{name} with the unquoted value of @name.
func (e *env) interpolate(s string) (string, error) {
	if !strings.Contains(s, "@{") {
		return s, nil
	}
	var firstErr error
	out := interpRe.ReplaceAllStringFunc(s, func(m string) string {
		v, err := e.variable(m[2 : len(m)-1])
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return m
		}
		return trimQuotes(v.String())
	})
	return out, firstErr
}

// substitute expands interpolation and bare variables in text that is not
// evaluated as an expression, such as url(), calc() and media queries.
func (e *env) substitute(s string) (string, error) {
	s, err := e.interpolate(s)
	if err != nil {
		return "", err
	}
	var (
		b     strings.Builder
		quote byte
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' && i+1 < len(s) {
				b.WriteByte(c)
				i++
				c = s[i]
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '@':
			m := bareVariableRe.FindString(s[i:])
			if m != "" {
				v, err := e.variable(m[1:])
				if err != nil {
					return "", err
				}
				b.WriteString(v.String())
				i += len(m) - 1
				continue
			}
		}
		b.WriteByte(c)
	}
	return escapeRe.ReplaceAllString(b.String(), "$1$2"), nil
}

func trimQuotes(s string) string {
	if u, ok := unquote(s); ok {
		return u
	}
	return s
}

// evalExpr evaluates a property or variable value.
func evalExpr(raw string, e *env) (value, error) {
	raw, err := e.interpolate(raw)
	if err != nil {
		return value{}, err
	}
	toks, err := tokenize(raw)
	if err != nil {
		return value{}, err
	}
	if len(toks) == 0 {
		return textValue(""), nil
	}
	p := &exprParser{toks: toks, env: e}
	v, err := p.parseList()
	if err != nil {
		return value{}, err
	}
	if p.i != len(p.toks) {
		return value{}, fmt.Errorf("unbalanced parentheses in %q", raw)
	}
	return v, nil
}

// splitTop splits s on sep outside strings and parentheses.
func splitTop(s string, sep byte) []string {
	var (
		parts []string
		depth int
		quote byte
		start int
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(' || c == '[':
			depth++
		case c == ')' || c == ']':
			depth--
		case c == sep && depth == 0:
			parts = append(parts, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	return append(parts, strings.TrimSpace(s[start:]))
}

// splitArgs splits mixin arguments or parameters. Semicolons take
// precedence so that "(1, 2; 3)" passes a list as the first argument.
func splitArgs(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	sep := byte(',')
	if len(splitTop(s, ';')) > 1 {
		sep = ';'
	}
	var out []string
	for _, a := range splitTop(s, sep) {
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func parseParams(s string) (*mixin, error) {
	mx := &mixin{}
	for _, p := range splitArgs(s) {
		if mx.variadic {
			return nil, fmt.Errorf("parameter %q after variadic parameter", p)
		}
		switch {
		case p == "...":
			mx.variadic = true
		case strings.HasPrefix(p, "@") && strings.HasSuffix(p, "..."):
			mx.variadic = true
			mx.rest = strings.TrimSuffix(p[1:], "...")
		case strings.HasPrefix(p, "@"):
			if m := namedArgRe.FindStringSubmatch(p); m != nil {
				mx.params = append(mx.params, param{name: m[1], def: strings.TrimSpace(m[2]), hasDef: true})
			} else {
				mx.params = append(mx.params, param{name: p[1:]})
			}
		default:
			mx.params = append(mx.params, param{pattern: p})
		}
	}
	return mx, nil
}

type arg struct {
	name string
	val  value
}

// bind matches args against the mixin's parameters and returns the scope
// its body is evaluated in, or nil when the mixin does not match.
func (m *mixin) bind(args []arg, caller *scope) (*scope, error) {
	if m.ruleset {
		if len(args) > 0 {
			return nil, nil
		}
		sc := newScope(m.scope, caller)
		return sc, sc.hoist(m.body)
	}

	var positional []value
	named := map[string]value{}
	for _, a := range args {
		if a.name == "" {
			positional = append(positional, a.val)
		} else {
			named[a.name] = a.val
		}
	}

	sc := newScope(m.scope, caller)
	if err := sc.hoist(m.body); err != nil {
		return nil, err
	}

	var all []string
	pi := 0
	for _, p := range m.params {
		if p.pattern != "" {
			if pi >= len(positional) || positional[pi].String() != p.pattern {
				return nil, nil
			}
			all = append(all, p.pattern)
			pi++
			continue
		}
		all = append(all, "@"+p.name)
		if v, ok := named[p.name]; ok {
			sc.vars[p.name] = &varDef{val: v, state: resolved}
			delete(named, p.name)
			continue
		}
		if pi < len(positional) {
			sc.vars[p.name] = &varDef{val: positional[pi], state: resolved}
			pi++
			continue
		}
		if !p.hasDef {
			return nil, nil
		}
		sc.vars[p.name] = &varDef{raw: p.def, scope: sc}
	}
	if len(named) > 0 {
		return nil, nil
	}
	if pi < len(positional) && !m.variadic {
		return nil, nil
	}

	rest := make([]string, 0, len(positional)-pi)
	for _, v := range positional[pi:] {
		rest = append(rest, v.String())
	}
	if m.rest != "" {
		sc.vars[m.rest] = &varDef{val: textValue(strings.Join(rest, " ")), state: resolved}
	}
	argsRaw := strings.Join(append(all, rest...), " ")
	sc.vars["arguments"] = &varDef{raw: argsRaw, scope: sc}
	return sc, nil
}

// item is one unit of output: a ruleset, an at-rule block or a raw
// statement, wrapped in zero or more @media/@supports conditions.
type item struct {
	wrap      []string
	selectors []string
	prelude   string
	decls     []string
	children  []*item
	raw       string
}

type frame struct {
	scope     *scope
	selectors []string
	wrap      []string
	cur       *item
	important bool
	reference bool
}

type evaluator struct {
	file  string
	out   []*item
	head  []string
	depth int
}

func newEvaluator(file string) *evaluator {
	return &evaluator{file: file}
}

func (ev *evaluator) run(nodes []node) error {
	root := newScope(nil, nil)
	if err := root.hoist(nodes); err != nil {
		return ev.wrap(err, 0)
	}
	return ev.eval(nodes, &frame{scope: root})
}

func (ev *evaluator) wrap(err error, line int) error {
	var le *Error
	if errors.As(err, &le) {
		return err
	}
	return &Error{File: ev.file, Line: line, Msg: err.Error(), Err: err}
}

func (ev *evaluator) emit(fr *frame, it *item) {
	if !fr.reference {
		ev.out = append(ev.out, it)
	}
}

func (ev *evaluator) eval(nodes []node, fr *frame) error {
	for _, n := range nodes {
		if err := ev.evalNode(n, fr); err != nil {
			return ev.wrap(err, n.pos())
		}
	}
	return nil
}

func (ev *evaluator) evalNode(n node, fr *frame) error {
	e := &env{scope: fr.scope}
	switch n := n.(type) {
	case *varNode:
		return nil

	case *declNode:
		if fr.cur == nil {
			return fmt.Errorf("declaration %q outside a ruleset", n.name)
		}
		name, err := e.interpolate(n.name)
		if err != nil {
			return err
		}
		val, err := declValue(name, n.value, e)
		if err != nil {
			return err
		}
		if fr.important && !strings.HasSuffix(val, "!important") {
			val += " !important"
		}
		fr.cur.decls = append(fr.cur.decls, name+": "+val)
		return nil

	case *rawNode:
		if n.inline {
			ev.emit(fr, &item{wrap: fr.wrap, raw: strings.TrimRight(n.text, "\n")})
			return nil
		}
		text, err := substituteAtRule(n.text, e)
		if err != nil {
			return err
		}
		if strings.HasPrefix(text, "@charset") && len(fr.selectors) == 0 && len(fr.wrap) == 0 {
			if len(ev.head) == 0 || !strings.HasPrefix(ev.head[0], "@charset") {
				ev.head = append([]string{text + ";"}, ev.head...)
			}
			return nil
		}
		ev.emit(fr, &item{wrap: fr.wrap, raw: text + ";"})
		return nil

	case *cssImportNode:
		text, err := substituteAtRule(n.text, e)
		if err != nil {
			return err
		}
		if !fr.reference {
			ev.head = append(ev.head, text+";")
		}
		return nil

	case *includeNode:
		saved := ev.file
		ev.file = n.file
		child := *fr
		child.reference = fr.reference || n.reference
		err := ev.eval(n.nodes, &child)
		ev.file = saved
		return err

	case *callNode:
		return ev.call(n, fr)

	case *blockNode:
		return ev.block(n, fr)
	}
	return fmt.Errorf("unexpected node %T", n)
}

func declValue(name, raw string, e *env) (string, error) {
	if strings.HasPrefix(name, "--") {
		return e.substitute(raw)
	}
	important := ""
	if loc := importantRe.FindStringIndex(raw); loc != nil {
		raw, important = strings.TrimSpace(raw[:loc[0]]), " !important"
	}
	v, err := evalExpr(raw, e)
	if err != nil {
		return "", err
	}
	return v.String() + important, nil
}

func substituteAtRule(text string, e *env) (string, error) {
	kw, rest, _ := strings.Cut(text, " ")
	if rest == "" {
		return e.interpolate(text)
	}
	rest, err := e.substitute(rest)
	if err != nil {
		return "", err
	}
	return kw + " " + strings.TrimSpace(rest), nil
}

func (ev *evaluator) block(n *blockNode, fr *frame) error {
	prelude := n.prelude
	if mixinDefRe.MatchString(prelude) {
		return nil
	}
	e := &env{scope: fr.scope}
	sc := newScope(fr.scope, nil)
	if err := sc.hoist(n.children); err != nil {
		return err
	}

	switch {
	case strings.HasPrefix(prelude, "@media") || strings.HasPrefix(prelude, "@supports"):
		text, err := substituteAtRule(prelude, e)
		if err != nil {
			return err
		}
		child := &frame{scope: sc, selectors: fr.selectors, wrap: pushWrap(fr.wrap, text), important: fr.important, reference: fr.reference}
		if len(fr.selectors) > 0 {
			child.cur = &item{wrap: child.wrap, selectors: fr.selectors}
			ev.emit(fr, child.cur)
		}
		return ev.eval(n.children, child)

	case strings.HasPrefix(prelude, "@") && !strings.HasPrefix(prelude, "@{"):
		text, err := substituteAtRule(prelude, e)
		if err != nil {
			return err
		}
		saved := ev.out
		ev.out = nil
		holder := &item{prelude: text, wrap: fr.wrap}
		child := &frame{scope: sc, cur: holder, important: fr.important}
		err = ev.eval(n.children, child)
		holder.children = ev.out
		ev.out = saved
		if err != nil {
			return err
		}
		ev.emit(fr, holder)
		return nil
	}

	text, err := e.interpolate(prelude)
	if err != nil {
		return err
	}
	sels := joinSelectors(fr.selectors, splitTop(text, ','))
	child := &frame{scope: sc, selectors: sels, wrap: fr.wrap, important: fr.important, reference: fr.reference}
	child.cur = &item{wrap: fr.wrap, selectors: sels}
	ev.emit(fr, child.cur)
	return ev.eval(n.children, child)
}

func pushWrap(wrap []string, cond string) []string {
	out := append([]string{}, wrap...)
	if len(out) > 0 && strings.HasPrefix(cond, "@media ") && strings.HasPrefix(out[len(out)-1], "@media ") {
		out[len(out)-1] += " and " + strings.TrimPrefix(cond, "@media ")
		return out
	}
	return append(out, cond)
}

func joinSelectors(parents, children []string) []string {
	var out []string
	if len(parents) == 0 {
		for _, c := range children {
			out = append(out, strings.TrimSpace(strings.ReplaceAll(c, "&", "")))
		}
		return out
	}
	for _, p := range parents {
		for _, c := range children {
			if strings.Contains(c, "&") {
				out = append(out, strings.ReplaceAll(c, "&", p))
			} else {
				out = append(out, p+" "+c)
			}
		}
	}
	return out
}

func (ev *evaluator) call(n *callNode, fr *frame) error {
	if ev.depth >= maxMixinDepth {
		return fmt.Errorf("mixin %s nested too deeply", n.name)
	}
	defs := fr.scope.lookupMixin(n.name)
	if len(defs) == 0 {
		return fmt.Errorf("undefined mixin %s", n.name)
	}

	e := &env{scope: fr.scope}
	var args []arg
	for _, a := range splitArgs(n.args) {
		name, raw := "", a
		if m := namedArgRe.FindStringSubmatch(a); m != nil {
			name, raw = m[1], m[2]
		}
		v, err := evalExpr(raw, e)
		if err != nil {
			return err
		}
		args = append(args, arg{name: name, val: v})
	}

	matched := false
	for _, m := range defs {
		sc, err := m.bind(args, fr.scope)
		if err != nil {
			return err
		}
		if sc == nil {
			continue
		}
		matched = true
		child := *fr
		child.scope = sc
		child.important = fr.important || n.important
		ev.depth++
		err = ev.eval(m.body, &child)
		ev.depth--
		if err != nil {
			return err
		}
	}
	if !matched {
		return fmt.Errorf("no matching definition for %s(%s)", n.name, n.args)
	}
	return nil
}

func (ev *evaluator) render() string {
	var b strings.Builder
	for _, h := range ev.head {
		b.WriteString(h)
		b.WriteByte('\n')
	}
	renderItems(&b, ev.out, "")
	return b.String()
}

func sameWrap(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// renderItems writes items, merging consecutive items that share the same
// wrapping conditions into one block.
func renderItems(b *strings.Builder, items []*item, indent string) {
	for i := 0; i < len(items); {
		j := i + 1
		for j < len(items) && sameWrap(items[i].wrap, items[j].wrap) {
			j++
		}
		group := items[i:j]
		i = j

		var body strings.Builder
		inner := indent + strings.Repeat("  ", len(group[0].wrap))
		for _, it := range group {
			renderItem(&body, it, inner)
		}
		if body.Len() == 0 {
			continue
		}
		for d, w := range group[0].wrap {
			b.WriteString(indent + strings.Repeat("  ", d) + w + " {\n")
		}
		b.WriteString(body.String())
		for d := len(group[0].wrap) - 1; d >= 0; d-- {
			b.WriteString(indent + strings.Repeat("  ", d) + "}\n")
		}
	}
}

func renderItem(b *strings.Builder, it *item, indent string) {
	switch {
	case it.raw != "":
		b.WriteString(indent + it.raw + "\n")

	case it.prelude != "":
		var body strings.Builder
		for _, d := range it.decls {
			body.WriteString(indent + "  " + d + ";\n")
		}
		renderItems(&body, stripWrap(it.children, it.wrap), indent+"  ")
		if body.Len() == 0 {
			return
		}
		b.WriteString(indent + it.prelude + " {\n")
		b.WriteString(body.String())
		b.WriteString(indent + "}\n")

	case len(it.decls) > 0:
		b.WriteString(indent + strings.Join(it.selectors, ",\n"+indent) + " {\n")
		for _, d := range it.decls {
			b.WriteString(indent + "  " + d + ";\n")
		}
		b.WriteString(indent + "}\n")
	}
}

// stripWrap drops the outer conditions already written by the enclosing
// block from its children.
func stripWrap(items []*item, outer []string) []*item {
	if len(outer) == 0 {
		return items
	}
	out := make([]*item, len(items))
	for i, it := range items {
		cp := *it
		if len(cp.wrap) >= len(outer) && sameWrap(cp.wrap[:len(outer)], outer) {
			cp.wrap = cp.wrap[len(outer):]
		}
		out[i] = &cp
	}
	return out
}
