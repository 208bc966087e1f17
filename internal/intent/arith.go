package intent

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
)

const (
	maxExprLen   = 256
	maxExprDepth = 32
)

var (
	errDivisionByZero = errors.New("division by zero")
	errBadExpression  = errors.New("not an arithmetic expression")

	arithLead  = regexp.MustCompile(`^(?:what(?:'s| is)|calculate|compute|evaluate|how much is|solve)\s+`)
	arithWords = strings.NewReplacer(
		" plus ", " + ",
		" minus ", " - ",
		" times ", " * ",
		" multiplied by ", " * ",
		" divided by ", " / ",
		" over ", " / ",
	)
)

// Evaluate computes a restricted arithmetic expression: decimal numerals, + - * / and
// parentheses, with unary minus. ops is the number of binary operators seen.
func Evaluate(expr string) (value float64, ops int, err error) {
	if len(expr) > maxExprLen {
		return 0, 0, errBadExpression
	}
	toks, err := tokenize(expr)
	if err != nil {
		return 0, 0, err
	}
	p := &exprParser{toks: toks}
	v, err := p.expr(0)
	if err != nil {
		return 0, 0, err
	}
	if p.pos != len(p.toks) {
		return 0, 0, errBadExpression
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, 0, errBadExpression
	}
	return v, p.ops, nil
}

// arithmeticCandidate strips a spoken lead-in and spelled operators from text.
func arithmeticCandidate(text string) string {
	s := arithLead.ReplaceAllString(text, "")
	s = strings.TrimSuffix(strings.TrimSpace(s), "=")
	return strings.TrimSpace(arithWords.Replace(" " + s + " "))
}

func formatNumber(v float64) string {
	v = math.Round(v*1e10) / 1e10
	if v == 0 {
		v = 0 // drop negative zero
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

type tokKind uint8

const (
	tokNum tokKind = iota
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokKind
	op   byte
	num  float64
}

func tokenize(s string) ([]token, error) {
	var toks []token
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '+' || c == '-' || c == '*' || c == '/':
			toks = append(toks, token{kind: tokOp, op: c})
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen})
			i++
		case (c >= '0' && c <= '9') || c == '.':
			j := i
			dots := 0
			for j < len(s) && ((s[j] >= '0' && s[j] <= '9') || s[j] == '.') {
				if s[j] == '.' {
					dots++
				}
				j++
			}
			if dots > 1 || s[i:j] == "." {
				return nil, errBadExpression
			}
			n, err := strconv.ParseFloat(s[i:j], 64)
			if err != nil {
				return nil, errBadExpression
			}
			toks = append(toks, token{kind: tokNum, num: n})
			i = j
		default:
			return nil, errBadExpression
		}
	}
	if len(toks) == 0 {
		return nil, errBadExpression
	}
	return toks, nil
}

// exprParser is a recursive descent parser over the grammar
//
//	expr   = term { ("+" | "-") term }
//	term   = unary { ("*" | "/") unary }
//	unary  = "-" unary | primary
//	primary = number | "(" expr ")"
type exprParser struct {
	toks []token
	pos  int
	ops  int
}

func (p *exprParser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *exprParser) expr(depth int) (float64, error) {
	if depth > maxExprDepth {
		return 0, errBadExpression
	}
	left, err := p.term(depth)
	if err != nil {
		return 0, err
	}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokOp || (t.op != '+' && t.op != '-') {
			return left, nil
		}
		p.pos++
		p.ops++
		right, err := p.term(depth)
		if err != nil {
			return 0, err
		}
		if t.op == '+' {
			left += right
		} else {
			left -= right
		}
	}
}

func (p *exprParser) term(depth int) (float64, error) {
	left, err := p.unary(depth)
	if err != nil {
		return 0, err
	}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokOp || (t.op != '*' && t.op != '/') {
			return left, nil
		}
		p.pos++
		p.ops++
		right, err := p.unary(depth)
		if err != nil {
			return 0, err
		}
		if t.op == '*' {
			left *= right
			continue
		}
		if right == 0 {
			return 0, errDivisionByZero
		}
		left /= right
	}
}

func (p *exprParser) unary(depth int) (float64, error) {
	t, ok := p.peek()
	if !ok {
		return 0, errBadExpression
	}
	if t.kind == tokOp && t.op == '-' {
		if depth > maxExprDepth {
			return 0, errBadExpression
		}
		p.pos++
		v, err := p.unary(depth + 1)
		return -v, err
	}
	return p.primary(depth)
}

func (p *exprParser) primary(depth int) (float64, error) {
	t, ok := p.peek()
	if !ok {
		return 0, errBadExpression
	}
	switch t.kind {
	case tokNum:
		p.pos++
		return t.num, nil
	case tokLParen:
		p.pos++
		v, err := p.expr(depth + 1)
		if err != nil {
			return 0, err
		}
		if t, ok := p.peek(); !ok || t.kind != tokRParen {
			return 0, errBadExpression
		}
		p.pos++
		return v, nil
	default:
		return 0, errBadExpression
	}
}
