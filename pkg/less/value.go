package less

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// value is the result of evaluating an expression. Numbers keep their unit
// so arithmetic can propagate it; everything else is carried as text.
type value struct {
	num   float64
	unit  string
	isNum bool
	text  string
}

func numValue(n float64, unit string) value { return value{num: n, unit: unit, isNum: true} }
func textValue(s string) value              { return value{text: s} }

func (v value) String() string {
	if v.isNum {
		return formatNum(v.num) + v.unit
	}
	return v.text
}

func formatNum(f float64) string {
	f = math.Round(f*1e8) / 1e8
	if f == 0 {
		return "0"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

type tokKind int

const (
	tNum tokKind = iota
	tStr
	tEsc
	tVar
	tIdent
	tHash
	tOp
	tLParen
	tRParen
	tComma
	tFunc
	tRaw // url(...) and calc(...), kept verbatim apart from variables
	tOther
)

type token struct {
	kind  tokKind
	text  string
	space bool // preceded by whitespace
}

var (
	numRe   = regexp.MustCompile(`^(\d+\.?\d*|\.\d+)(%|[a-zA-Z]+)?`)
	identRe = regexp.MustCompile(`^-*[a-zA-Z_\x80-\xff][\w\x80-\xff-]*`)
	varRe   = regexp.MustCompile(`^@@?[\w-]+`)
	hashRe  = regexp.MustCompile(`^#[\w-]+`)
)

func tokenize(s string) ([]token, error) {
	var toks []token
	space := false
	for i := 0; i < len(s); {
		c := s[i]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			space = true
			i++
			continue
		}
		t := token{space: space}
		space = false
		rest := s[i:]

		switch {
		case c == '"' || c == '\'':
			end := closingQuote(rest)
			if end < 0 {
				return nil, fmt.Errorf("unterminated string in %q", s)
			}
			t.kind, t.text = tStr, rest[:end+1]
		case c == '~' && len(rest) > 1 && (rest[1] == '"' || rest[1] == '\''):
			end := closingQuote(rest[1:])
			if end < 0 {
				return nil, fmt.Errorf("unterminated string in %q", s)
			}
			t.kind, t.text = tEsc, rest[2:end+1]
			i += end + 2
			toks = append(toks, t)
			continue
		case c == '@':
			m := varRe.FindString(rest)
			if m == "" {
				t.kind, t.text = tOther, "@"
			} else {
				t.kind, t.text = tVar, m
			}
		case c >= '0' && c <= '9' || c == '.' && len(rest) > 1 && rest[1] >= '0' && rest[1] <= '9':
			t.kind, t.text = tNum, numRe.FindString(rest)
		case c == '#':
			t.kind, t.text = tHash, hashRe.FindString(rest)
			if t.text == "" {
				t.kind, t.text = tOther, "#"
			}
		case c == '(':
			t.kind, t.text = tLParen, "("
		case c == ')':
			t.kind, t.text = tRParen, ")"
		case c == ',':
			t.kind, t.text = tComma, ","
		case c == '+' || c == '*' || c == '/':
			t.kind, t.text = tOp, string(c)
		case c == '-':
			if m := identRe.FindString(rest); m != "" {
				t.kind, t.text = tIdent, m
			} else {
				t.kind, t.text = tOp, "-"
			}
		case c == '!':
			if strings.HasPrefix(rest, "!important") {
				t.kind, t.text = tIdent, "!important"
			} else {
				t.kind, t.text = tOther, "!"
			}
		default:
			if m := identRe.FindString(rest); m != "" {
				t.kind, t.text = tIdent, m
				after := rest[len(m):]
				if strings.HasPrefix(after, "(") {
					lower := strings.ToLower(m)
					if lower == "url" || lower == "calc" || strings.HasSuffix(lower, "-calc") || lower == "var" || lower == "expression" {
						end := closingParen(after)
						if end < 0 {
							return nil, fmt.Errorf("unbalanced parentheses in %q", s)
						}
						t.kind, t.text = tRaw, m+after[:end+1]
					} else {
						t.kind, t.text = tFunc, m
						toks = append(toks, t)
						i += len(m) + 1
						continue
					}
				}
			} else {
				t.kind, t.text = tOther, string(c)
			}
		}
		toks = append(toks, t)
		i += len(t.text)
	}
	return toks, nil
}

func closingQuote(s string) int {
	q := s[0]
	for j := 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case q:
			return j
		}
	}
	return -1
}

// closingParen returns the index of the ")" matching the "(" at s[0].
func closingParen(s string) int {
	depth := 0
	for j := 0; j < len(s); j++ {
		switch s[j] {
		case '"', '\'':
			end := closingQuote(s[j:])
			if end < 0 {
				return -1
			}
			j += end
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return j
			}
		}
	}
	return -1
}

// exprParser evaluates a token stream. Division is only performed inside
// parentheses, so "font: 12px/1.5" is left alone.
type exprParser struct {
	toks     []token
	i        int
	env      *env
	parenDiv bool
}

func (p *exprParser) peek(off int) *token {
	if p.i+off < len(p.toks) {
		return &p.toks[p.i+off]
	}
	return nil
}

func (p *exprParser) atEnd() bool {
	t := p.peek(0)
	return t == nil || t.kind == tRParen
}

// parseList parses comma-separated sequences up to ")" or the end.
func (p *exprParser) parseList() (value, error) {
	items, err := p.parseArgs()
	if err != nil {
		return value{}, err
	}
	if len(items) == 1 {
		return items[0], nil
	}
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = it.String()
	}
	return textValue(strings.Join(parts, ", ")), nil
}

func (p *exprParser) parseArgs() ([]value, error) {
	var items []value
	for {
		v, err := p.parseSeq()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
		if t := p.peek(0); t != nil && t.kind == tComma {
			p.i++
			continue
		}
		return items, nil
	}
}

func (p *exprParser) parseSeq() (value, error) {
	var (
		items []value
		b     strings.Builder
	)
	for !p.atEnd() && p.peek(0).kind != tComma {
		spaced := p.peek(0).space
		v, err := p.parseSum()
		if err != nil {
			return value{}, err
		}
		if len(items) > 0 && spaced {
			b.WriteByte(' ')
		}
		b.WriteString(v.String())
		items = append(items, v)
	}
	if len(items) == 1 {
		return items[0], nil
	}
	return textValue(b.String()), nil
}

// binary reports whether the operator at the cursor joins two operands:
// "a - b" and "a-b" are subtractions, "a -b" is a list.
func (p *exprParser) binary() bool {
	op, next := p.peek(0), p.peek(1)
	if op == nil || next == nil || op.kind != tOp {
		return false
	}
	if next.kind == tComma || next.kind == tRParen {
		return false
	}
	return op.space == next.space
}

func (p *exprParser) parseSum() (value, error) {
	left, err := p.parseProd()
	if err != nil {
		return value{}, err
	}
	for {
		op := p.peek(0)
		if op == nil || op.kind != tOp || (op.text != "+" && op.text != "-") || !p.binary() {
			return left, nil
		}
		p.i++
		right, err := p.parseProd()
		if err != nil {
			return value{}, err
		}
		if left, err = arith(left, op.text, right); err != nil {
			return value{}, err
		}
	}
}

func (p *exprParser) parseProd() (value, error) {
	left, err := p.parseUnary()
	if err != nil {
		return value{}, err
	}
	for {
		op := p.peek(0)
		if op == nil || op.kind != tOp || !p.binary() {
			return left, nil
		}
		if op.text != "*" && (op.text != "/" || !p.parenDiv) {
			return left, nil
		}
		p.i++
		right, err := p.parseUnary()
		if err != nil {
			return value{}, err
		}
		if left, err = arith(left, op.text, right); err != nil {
			return value{}, err
		}
	}
}

func (p *exprParser) parseUnary() (value, error) {
	t := p.peek(0)
	if t.kind == tOp && t.text == "-" {
		if next := p.peek(1); next != nil && !next.space && next.kind != tComma && next.kind != tRParen {
			p.i++
			v, err := p.parsePrimary()
			if err != nil {
				return value{}, err
			}
			if v.isNum {
				v.num = -v.num
				return v, nil
			}
			return textValue("-" + v.text), nil
		}
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (value, error) {
	t := p.peek(0)
	p.i++
	switch t.kind {
	case tNum:
		m := numRe.FindStringSubmatch(t.text)
		n, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return value{}, err
		}
		return numValue(n, m[2]), nil

	case tVar:
		return p.env.variable(strings.TrimPrefix(t.text, "@"))

	case tStr:
		return textValue(t.text), nil

	case tEsc:
		return textValue(t.text), nil

	case tRaw:
		s, err := p.env.substitute(t.text)
		if err != nil {
			return value{}, err
		}
		return textValue(s), nil

	case tLParen:
		saved := p.parenDiv
		p.parenDiv = true
		inner, err := p.parseList()
		p.parenDiv = saved
		if err != nil {
			return value{}, err
		}
		if err := p.expect(tRParen); err != nil {
			return value{}, err
		}
		if inner.isNum {
			return inner, nil
		}
		return textValue("(" + inner.text + ")"), nil

	case tFunc:
		saved := p.parenDiv
		p.parenDiv = false
		var args []value
		var err error
		if t := p.peek(0); t != nil && t.kind != tRParen {
			args, err = p.parseArgs()
		}
		p.parenDiv = saved
		if err != nil {
			return value{}, err
		}
		if err := p.expect(tRParen); err != nil {
			return value{}, err
		}
		return callFunc(t.text, args)

	default:
		return textValue(t.text), nil
	}
}

func (p *exprParser) expect(kind tokKind) error {
	t := p.peek(0)
	if t == nil || t.kind != kind {
		return fmt.Errorf("unbalanced parentheses")
	}
	p.i++
	return nil
}

func arith(a value, op string, b value) (value, error) {
	if !a.isNum || !b.isNum {
		if ca, ok := parseColor(a.String()); ok {
			if out, ok := colorArith(ca, op, b); ok {
				return textValue(out.hex()), nil
			}
		}
		return textValue(a.String() + " " + op + " " + b.String()), nil
	}
	unit := a.unit
	if unit == "" {
		unit = b.unit
	}
	switch op {
	case "+":
		return numValue(a.num+b.num, unit), nil
	case "-":
		return numValue(a.num-b.num, unit), nil
	case "*":
		return numValue(a.num*b.num, unit), nil
	case "/":
		if b.num == 0 {
			return value{}, fmt.Errorf("division by zero")
		}
		return numValue(a.num/b.num, unit), nil
	}
	return value{}, fmt.Errorf("unknown operator %q", op)
}

type rgba struct{ r, g, b, a float64 }

var hexColorRe = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

func parseColor(s string) (rgba, bool) {
	m := hexColorRe.FindStringSubmatch(s)
	if m == nil {
		return rgba{}, false
	}
	h := m[1]
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	n, _ := strconv.ParseUint(h, 16, 32)
	return rgba{float64(n >> 16 & 0xff), float64(n >> 8 & 0xff), float64(n & 0xff), 1}, true
}

func clamp(f, lo, hi float64) float64 { return math.Max(lo, math.Min(hi, f)) }

func (c rgba) hex() string {
	return fmt.Sprintf("#%02x%02x%02x",
		int(math.Round(clamp(c.r, 0, 255))),
		int(math.Round(clamp(c.g, 0, 255))),
		int(math.Round(clamp(c.b, 0, 255))))
}

func (c rgba) String() string {
	if c.a >= 1 {
		return c.hex()
	}
	return fmt.Sprintf("rgba(%d, %d, %d, %s)",
		int(math.Round(clamp(c.r, 0, 255))),
		int(math.Round(clamp(c.g, 0, 255))),
		int(math.Round(clamp(c.b, 0, 255))),
		formatNum(clamp(c.a, 0, 1)))
}

func colorArith(c rgba, op string, b value) (rgba, bool) {
	other, ok := rgba{}, false
	if b.isNum {
		other, ok = rgba{b.num, b.num, b.num, 1}, true
	} else {
		other, ok = parseColor(b.text)
	}
	if !ok {
		return rgba{}, false
	}
	apply := func(x, y float64) float64 {
		switch op {
		case "+":
			return x + y
		case "-":
			return x - y
		case "*":
			return x * y
		default:
			if y == 0 {
				return x
			}
			return x / y
		}
	}
	return rgba{apply(c.r, other.r), apply(c.g, other.g), apply(c.b, other.b), c.a}, true
}

// toHSL returns hue in degrees and saturation/lightness in [0,1].
func (c rgba) toHSL() (h, s, l float64) {
	r, g, b := c.r/255, c.g/255, c.b/255
	max, min := math.Max(r, math.Max(g, b)), math.Min(r, math.Min(g, b))
	l = (max + min) / 2
	if max == min {
		return 0, 0, l
	}
	d := max - min
	if l > 0.5 {
		s = d / (2 - max - min)
	} else {
		s = d / (max + min)
	}
	switch max {
	case r:
		h = (g - b) / d
		if g < b {
			h += 6
		}
	case g:
		h = (b-r)/d + 2
	default:
		h = (r-g)/d + 4
	}
	return h * 60, s, l
}

func fromHSL(h, s, l, a float64) rgba {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	h /= 360
	s, l = clamp(s, 0, 1), clamp(l, 0, 1)
	if s == 0 {
		return rgba{l * 255, l * 255, l * 255, a}
	}
	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q
	hue := func(t float64) float64 {
		if t < 0 {
			t++
		}
		if t > 1 {
			t--
		}
		switch {
		case t < 1.0/6:
			return p + (q-p)*6*t
		case t < 0.5:
			return q
		case t < 2.0/3:
			return p + (q-p)*(2.0/3-t)*6
		}
		return p
	}
	return rgba{hue(h+1.0/3) * 255, hue(h) * 255, hue(h-1.0/3) * 255, a}
}

func amount(v value) float64 {
	if v.unit == "%" {
		return v.num / 100
	}
	return v.num
}

// callFunc evaluates the built-in functions appshell stylesheets use.
// Any other function is emitted as a plain CSS function call.
func callFunc(name string, args []value) (value, error) {
	plain := func() value {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = a.String()
		}
		return textValue(name + "(" + strings.Join(parts, ", ") + ")")
	}
	num := func(i int) (value, bool) {
		if i < len(args) && args[i].isNum {
			return args[i], true
		}
		return value{}, false
	}

	switch strings.ToLower(name) {
	case "percentage":
		if n, ok := num(0); ok {
			return numValue(n.num*100, "%"), nil
		}
	case "round", "ceil", "floor":
		n, ok := num(0)
		if !ok {
			break
		}
		switch strings.ToLower(name) {
		case "ceil":
			n.num = math.Ceil(n.num)
		case "floor":
			n.num = math.Floor(n.num)
		default:
			places := 0.0
			if p, ok := num(1); ok {
				places = p.num
			}
			f := math.Pow(10, places)
			n.num = math.Round(n.num*f) / f
		}
		return n, nil
	case "unit":
		if n, ok := num(0); ok {
			unit := ""
			if len(args) > 1 {
				unit = strings.Trim(args[1].String(), `"'`)
			}
			return numValue(n.num, unit), nil
		}
	case "e", "escape":
		if len(args) == 1 {
			return textValue(strings.Trim(args[0].String(), `"'`)), nil
		}
	case "lighten", "darken", "fade", "fadein", "fadeout", "saturate", "desaturate", "spin":
		if len(args) != 2 || !args[1].isNum {
			break
		}
		c, ok := parseColor(args[0].String())
		if !ok {
			return value{}, fmt.Errorf("%s: %q is not a color", name, args[0].String())
		}
		h, s, l := c.toHSL()
		amt := amount(args[1])
		switch strings.ToLower(name) {
		case "lighten":
			l += amt
		case "darken":
			l -= amt
		case "saturate":
			s += amt
		case "desaturate":
			s -= amt
		case "spin":
			h += args[1].num
		case "fade":
			c.a = clamp(amt, 0, 1)
			return textValue(c.String()), nil
		case "fadein":
			c.a = clamp(c.a+amt, 0, 1)
			return textValue(c.String()), nil
		case "fadeout":
			c.a = clamp(c.a-amt, 0, 1)
			return textValue(c.String()), nil
		}
		return textValue(fromHSL(h, s, l, c.a).String()), nil
	}
	return plain(), nil
}
