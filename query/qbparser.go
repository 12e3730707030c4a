// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/HYChou0515/autocrud-sub001/resource"
)

// ParseQB parses the restricted "qb" expression-language query string into a
// Query. It is a hand-written recursive-descent parser over a finite
// allowlist of tokens, methods, and operators -- spec section 9 treats this
// as a security boundary and explicitly forbids shelling out to a
// general-purpose expression evaluator.
//
// Grammar (informal):
//
//	expr      := orExpr
//	orExpr    := andExpr ( '|' andExpr )*
//	andExpr   := unary ( '&' unary )*
//	unary     := '~' unary | compare
//	compare   := chain ( compareOp literal )?
//	chain     := 'QB' suffix*
//	suffix    := '[' STRING ']' | '.' IDENT '(' args? ')'
//	args      := literal ( ',' literal )*
//	literal   := STRING | NUMBER | 'True' | 'False' | 'None' | '[' literal (',' literal)* ']' | expr
func ParseQB(src string) (Query, error) {
	p := &qbParser{tokens: tokenizeQB(src), now: time.Now()}
	val, err := p.parseExpr()
	if err != nil {
		return Query{}, resource.Wrap(resource.KindQueryParseError, err, "parse qb expression")
	}
	if !p.atEnd() {
		return Query{}, resource.NewError(resource.KindQueryParseError, "unexpected trailing input at %q", p.remaining())
	}
	return val.toQuery()
}

// allowedMethods is the finite allowlist from spec section 6/9.
var allowedMethods = map[string]bool{
	"eq": true, "ne": true, "gt": true, "gte": true, "lt": true, "lte": true,
	"contains": true, "starts_with": true, "ends_with": true, "regex": true,
	"in_": true, "not_in": true, "between": true,
	"is_null": true, "is_not_null": true, "is_true": true, "is_false": true,
	"today": true, "yesterday": true, "this_week": true, "this_month": true,
	"this_year": true, "last_n_days": true, "length": true,
	"asc": true, "desc": true,
	"sort": true, "limit": true, "offset": true, "page": true, "first": true,
	"filter": true, "exclude": true,
}

// ---- values produced while walking the parse tree ----

type qbValueKind int

const (
	kindNode qbValueKind = iota
	kindField
	kindQuery
	kindSort
)

type qbValue struct {
	kind  qbValueKind
	node  Node
	field *FieldRef
	qr    *Builder
	sort  Sort
}

func (v qbValue) toQuery() (Query, error) {
	switch v.kind {
	case kindQuery:
		return v.qr.Build(), nil
	case kindNode:
		return Query{Conditions: v.node}, nil
	default:
		return Query{}, fmt.Errorf("qb expression does not resolve to a query or condition")
	}
}

// ---- tokenizer ----

type qbTokKind int

const (
	tokIdent qbTokKind = iota
	tokString
	tokNumber
	tokLBracket
	tokRBracket
	tokLParen
	tokRParen
	tokDot
	tokComma
	tokAmp
	tokPipe
	tokTilde
	tokEq
	tokNe
	tokGe
	tokLe
	tokGt
	tokLt
	tokEOF
)

type qbTok struct {
	kind qbTokKind
	text string
}

func tokenizeQB(src string) []qbTok {
	var toks []qbTok
	i := 0
	n := len(src)
	for i < n {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '[':
			toks = append(toks, qbTok{tokLBracket, "["})
			i++
		case c == ']':
			toks = append(toks, qbTok{tokRBracket, "]"})
			i++
		case c == '(':
			toks = append(toks, qbTok{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, qbTok{tokRParen, ")"})
			i++
		case c == '.':
			toks = append(toks, qbTok{tokDot, "."})
			i++
		case c == ',':
			toks = append(toks, qbTok{tokComma, ","})
			i++
		case c == '&':
			toks = append(toks, qbTok{tokAmp, "&"})
			i++
		case c == '|':
			toks = append(toks, qbTok{tokPipe, "|"})
			i++
		case c == '~':
			toks = append(toks, qbTok{tokTilde, "~"})
			i++
		case c == '=' && i+1 < n && src[i+1] == '=':
			toks = append(toks, qbTok{tokEq, "=="})
			i += 2
		case c == '!' && i+1 < n && src[i+1] == '=':
			toks = append(toks, qbTok{tokNe, "!="})
			i += 2
		case c == '>' && i+1 < n && src[i+1] == '=':
			toks = append(toks, qbTok{tokGe, ">="})
			i += 2
		case c == '<' && i+1 < n && src[i+1] == '=':
			toks = append(toks, qbTok{tokLe, "<="})
			i += 2
		case c == '>':
			toks = append(toks, qbTok{tokGt, ">"})
			i++
		case c == '<':
			toks = append(toks, qbTok{tokLt, "<"})
			i++
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			var sb strings.Builder
			for j < n && src[j] != quote {
				if src[j] == '\\' && j+1 < n {
					j++
				}
				sb.WriteByte(src[j])
				j++
			}
			toks = append(toks, qbTok{tokString, sb.String()})
			i = j + 1
		case isDigit(c) || (c == '-' && i+1 < n && isDigit(src[i+1])):
			j := i + 1
			for j < n && (isDigit(src[j]) || src[j] == '.') {
				j++
			}
			toks = append(toks, qbTok{tokNumber, src[i:j]})
			i = j
		case isIdentStart(c):
			j := i + 1
			for j < n && isIdentPart(src[j]) {
				j++
			}
			toks = append(toks, qbTok{tokIdent, src[i:j]})
			i = j
		default:
			i++ // skip unrecognized byte; parser will reject via grammar mismatch
		}
	}
	toks = append(toks, qbTok{tokEOF, ""})
	return toks
}

func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool { return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isIdentPart(c byte) bool  { return isIdentStart(c) || isDigit(c) }

// ---- parser ----

type qbParser struct {
	tokens []qbTok
	pos    int
	now    time.Time
}

func (p *qbParser) peek() qbTok    { return p.tokens[p.pos] }
func (p *qbParser) atEnd() bool    { return p.peek().kind == tokEOF }
func (p *qbParser) advance() qbTok { t := p.tokens[p.pos]; p.pos++; return t }
func (p *qbParser) remaining() string {
	var sb strings.Builder
	for _, t := range p.tokens[p.pos:] {
		sb.WriteString(t.text)
	}
	return sb.String()
}

func (p *qbParser) expect(kind qbTokKind, what string) (qbTok, error) {
	if p.peek().kind != kind {
		return qbTok{}, fmt.Errorf("expected %s, got %q", what, p.peek().text)
	}
	return p.advance(), nil
}

func (p *qbParser) parseExpr() (qbValue, error) { return p.parseOr() }

func (p *qbParser) parseOr() (qbValue, error) {
	left, err := p.parseAnd()
	if err != nil {
		return qbValue{}, err
	}
	for p.peek().kind == tokPipe {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return qbValue{}, err
		}
		if left.kind != kindNode || right.kind != kindNode {
			return qbValue{}, fmt.Errorf("'|' combines boolean conditions only")
		}
		left = qbValue{kind: kindNode, node: Or(left.node, right.node)}
	}
	return left, nil
}

func (p *qbParser) parseAnd() (qbValue, error) {
	left, err := p.parseUnary()
	if err != nil {
		return qbValue{}, err
	}
	for p.peek().kind == tokAmp {
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return qbValue{}, err
		}
		if left.kind != kindNode || right.kind != kindNode {
			return qbValue{}, fmt.Errorf("'&' combines boolean conditions only")
		}
		left = qbValue{kind: kindNode, node: And(left.node, right.node)}
	}
	return left, nil
}

func (p *qbParser) parseUnary() (qbValue, error) {
	if p.peek().kind == tokTilde {
		p.advance()
		v, err := p.parseUnary()
		if err != nil {
			return qbValue{}, err
		}
		if v.kind != kindNode {
			return qbValue{}, fmt.Errorf("'~' negates a boolean condition")
		}
		return qbValue{kind: kindNode, node: Not(v.node)}, nil
	}
	return p.parseCompare()
}

func (p *qbParser) parseCompare() (qbValue, error) {
	val, err := p.parsePrimary()
	if err != nil {
		return qbValue{}, err
	}
	var op Operator
	switch p.peek().kind {
	case tokEq:
		op = OpEq
	case tokNe:
		op = OpNe
	case tokGt:
		op = OpGt
	case tokGe:
		op = OpGte
	case tokLt:
		op = OpLt
	case tokLe:
		op = OpLte
	default:
		return val, nil
	}
	if val.kind != kindField {
		return qbValue{}, fmt.Errorf("comparison operator applied to a non-field value")
	}
	p.advance()
	lit, err := p.parseLiteral()
	if err != nil {
		return qbValue{}, err
	}
	return qbValue{kind: kindNode, node: val.field.leaf(op, lit)}, nil
}

func (p *qbParser) parsePrimary() (qbValue, error) {
	if p.peek().kind == tokLParen {
		p.advance()
		v, err := p.parseExpr()
		if err != nil {
			return qbValue{}, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return qbValue{}, err
		}
		return v, nil
	}
	return p.parseChain()
}

func (p *qbParser) parseChain() (qbValue, error) {
	ident, err := p.expect(tokIdent, "identifier")
	if err != nil {
		return qbValue{}, err
	}
	if ident.text != "QB" {
		return qbValue{}, fmt.Errorf("only the QB root is addressable, got %q", ident.text)
	}
	val := qbValue{kind: kindQuery, qr: New()}
	for {
		switch p.peek().kind {
		case tokLBracket:
			p.advance()
			tok, err := p.expect(tokString, "field path string")
			if err != nil {
				return qbValue{}, err
			}
			if _, err := p.expect(tokRBracket, "']'"); err != nil {
				return qbValue{}, err
			}
			val = qbValue{kind: kindField, field: Field(tok.text)}
		case tokDot:
			p.advance()
			method, err := p.expect(tokIdent, "method name")
			if err != nil {
				return qbValue{}, err
			}
			if !allowedMethods[method.text] {
				return qbValue{}, fmt.Errorf("method %q is not in the allowlist", method.text)
			}
			if _, err := p.expect(tokLParen, "'('"); err != nil {
				return qbValue{}, err
			}
			args, err := p.parseArgs()
			if err != nil {
				return qbValue{}, err
			}
			if _, err := p.expect(tokRParen, "')'"); err != nil {
				return qbValue{}, err
			}
			val, err = p.applyMethod(val, method.text, args)
			if err != nil {
				return qbValue{}, err
			}
		default:
			return val, nil
		}
	}
}

// parseArgs parses a comma-separated argument list, where each argument may
// itself be a full boolean sub-expression (for filter/exclude) or a literal.
func (p *qbParser) parseArgs() ([]qbValue, error) {
	var args []qbValue
	if p.peek().kind == tokRParen {
		return args, nil
	}
	for {
		v, err := p.parseArg()
		if err != nil {
			return nil, err
		}
		args = append(args, v)
		if p.peek().kind != tokComma {
			break
		}
		p.advance()
	}
	return args, nil
}

func (p *qbParser) parseArg() (qbValue, error) {
	// try a full sub-expression first (covers filter(...)/exclude(...) and
	// sort(...) arguments which are themselves QB chains), falling back to a
	// bare literal for scalar/list arguments.
	if p.peek().kind == tokIdent && p.peek().text == "QB" {
		return p.parseExpr()
	}
	lit, err := p.parseLiteral()
	if err != nil {
		return qbValue{}, err
	}
	return qbValue{kind: kindNode, node: literalNode{lit}}, nil
}

// literalNode lets a bare literal argument (used by limit/offset/page/
// last_n_days) flow through the qbValue.node slot without being mistaken
// for a real condition; applyMethod unwraps it explicitly via argLiteral.
type literalNode struct{ v interface{} }

func (literalNode) isNode() {}

func (p *qbParser) parseLiteral() (interface{}, error) {
	t := p.peek()
	switch t.kind {
	case tokString:
		p.advance()
		return t.text, nil
	case tokNumber:
		p.advance()
		if strings.Contains(t.text, ".") {
			f, err := strconv.ParseFloat(t.text, 64)
			return f, err
		}
		n, err := strconv.ParseInt(t.text, 10, 64)
		return n, err
	case tokIdent:
		switch t.text {
		case "True":
			p.advance()
			return true, nil
		case "False":
			p.advance()
			return false, nil
		case "None":
			p.advance()
			return nil, nil
		}
		return nil, fmt.Errorf("unexpected identifier literal %q", t.text)
	case tokLBracket:
		p.advance()
		var items []interface{}
		if p.peek().kind != tokRBracket {
			for {
				lit, err := p.parseLiteral()
				if err != nil {
					return nil, err
				}
				items = append(items, lit)
				if p.peek().kind != tokComma {
					break
				}
				p.advance()
			}
		}
		if _, err := p.expect(tokRBracket, "']'"); err != nil {
			return nil, err
		}
		return items, nil
	default:
		return nil, fmt.Errorf("unexpected token %q where a literal was expected", t.text)
	}
}

func argLiteral(v qbValue) (interface{}, bool) {
	ln, ok := v.node.(literalNode)
	if !ok {
		return nil, false
	}
	return ln.v, true
}

func (p *qbParser) applyMethod(recv qbValue, method string, args []qbValue) (qbValue, error) {
	switch recv.kind {
	case kindField:
		return p.applyFieldMethod(recv.field, method, args)
	case kindQuery:
		return p.applyQueryMethod(recv.qr, method, args)
	default:
		return qbValue{}, fmt.Errorf("method %q called on a non-chainable value", method)
	}
}

func (p *qbParser) applyFieldMethod(f *FieldRef, method string, args []qbValue) (qbValue, error) {
	arg := func(i int) (interface{}, error) {
		if i >= len(args) {
			return nil, fmt.Errorf("%s() missing argument %d", method, i)
		}
		v, ok := argLiteral(args[i])
		if !ok {
			return nil, fmt.Errorf("%s() argument %d must be a literal", method, i)
		}
		return v, nil
	}
	switch method {
	case "length":
		return qbValue{kind: kindField, field: f.Length()}, nil
	case "asc":
		return qbValue{kind: kindSort, sort: f.Asc()}, nil
	case "desc":
		return qbValue{kind: kindSort, sort: f.Desc()}, nil
	case "eq":
		v, err := arg(0)
		if err != nil {
			return qbValue{}, err
		}
		return qbValue{kind: kindNode, node: f.Eq(v)}, nil
	case "ne":
		v, err := arg(0)
		if err != nil {
			return qbValue{}, err
		}
		return qbValue{kind: kindNode, node: f.Ne(v)}, nil
	case "gt":
		v, err := arg(0)
		if err != nil {
			return qbValue{}, err
		}
		return qbValue{kind: kindNode, node: f.Gt(v)}, nil
	case "gte":
		v, err := arg(0)
		if err != nil {
			return qbValue{}, err
		}
		return qbValue{kind: kindNode, node: f.Gte(v)}, nil
	case "lt":
		v, err := arg(0)
		if err != nil {
			return qbValue{}, err
		}
		return qbValue{kind: kindNode, node: f.Lt(v)}, nil
	case "lte":
		v, err := arg(0)
		if err != nil {
			return qbValue{}, err
		}
		return qbValue{kind: kindNode, node: f.Lte(v)}, nil
	case "contains":
		v, err := arg(0)
		if err != nil {
			return qbValue{}, err
		}
		s, _ := v.(string)
		return qbValue{kind: kindNode, node: f.Contains(s)}, nil
	case "starts_with":
		v, err := arg(0)
		if err != nil {
			return qbValue{}, err
		}
		s, _ := v.(string)
		return qbValue{kind: kindNode, node: f.StartsWith(s)}, nil
	case "ends_with":
		v, err := arg(0)
		if err != nil {
			return qbValue{}, err
		}
		s, _ := v.(string)
		return qbValue{kind: kindNode, node: f.EndsWith(s)}, nil
	case "regex":
		v, err := arg(0)
		if err != nil {
			return qbValue{}, err
		}
		s, _ := v.(string)
		return qbValue{kind: kindNode, node: f.Regex(s)}, nil
	case "in_":
		v, err := arg(0)
		if err != nil {
			return qbValue{}, err
		}
		list, _ := v.([]interface{})
		return qbValue{kind: kindNode, node: f.InList(list...)}, nil
	case "not_in":
		v, err := arg(0)
		if err != nil {
			return qbValue{}, err
		}
		list, _ := v.([]interface{})
		return qbValue{kind: kindNode, node: f.NotInList(list...)}, nil
	case "between":
		lo, err := arg(0)
		if err != nil {
			return qbValue{}, err
		}
		hi, err := arg(1)
		if err != nil {
			return qbValue{}, err
		}
		return qbValue{kind: kindNode, node: f.Between(lo, hi)}, nil
	case "is_null":
		return qbValue{kind: kindNode, node: f.IsNull()}, nil
	case "is_not_null":
		return qbValue{kind: kindNode, node: Not(f.IsNull())}, nil
	case "is_true":
		return qbValue{kind: kindNode, node: f.IsTrue()}, nil
	case "is_false":
		return qbValue{kind: kindNode, node: f.IsFalse()}, nil
	case "today":
		return qbValue{kind: kindNode, node: f.Today(p.now)}, nil
	case "yesterday":
		return qbValue{kind: kindNode, node: f.Yesterday(p.now)}, nil
	case "this_week":
		return qbValue{kind: kindNode, node: f.ThisWeek(p.now)}, nil
	case "this_month":
		return qbValue{kind: kindNode, node: f.ThisMonth(p.now)}, nil
	case "this_year":
		return qbValue{kind: kindNode, node: f.ThisYear(p.now)}, nil
	case "last_n_days":
		v, err := arg(0)
		if err != nil {
			return qbValue{}, err
		}
		n := toInt(v)
		return qbValue{kind: kindNode, node: f.LastNDays(p.now, n)}, nil
	default:
		return qbValue{}, fmt.Errorf("method %q is not valid on a field", method)
	}
}

func (p *qbParser) applyQueryMethod(b *Builder, method string, args []qbValue) (qbValue, error) {
	switch method {
	case "filter":
		if len(args) != 1 || args[0].kind != kindNode {
			return qbValue{}, fmt.Errorf("filter() requires one boolean condition argument")
		}
		b.Filter(args[0].node)
	case "exclude":
		if len(args) != 1 || args[0].kind != kindNode {
			return qbValue{}, fmt.Errorf("exclude() requires one boolean condition argument")
		}
		b.Exclude(args[0].node)
	case "sort":
		var sorts []Sort
		for _, a := range args {
			if a.kind != kindSort {
				return qbValue{}, fmt.Errorf("sort() arguments must be field.asc()/field.desc()")
			}
			sorts = append(sorts, a.sort)
		}
		b.Sort(sorts...)
	case "limit":
		if len(args) != 1 {
			return qbValue{}, fmt.Errorf("limit() requires one integer argument")
		}
		v, _ := argLiteral(args[0])
		b.Limit(toInt(v))
	case "offset":
		if len(args) != 1 {
			return qbValue{}, fmt.Errorf("offset() requires one integer argument")
		}
		v, _ := argLiteral(args[0])
		b.Offset(toInt(v))
	case "page":
		if len(args) != 2 {
			return qbValue{}, fmt.Errorf("page() requires page and size arguments")
		}
		v0, _ := argLiteral(args[0])
		v1, _ := argLiteral(args[1])
		b.Page(toInt(v0), toInt(v1))
	case "first":
		if len(args) != 0 {
			return qbValue{}, fmt.Errorf("first() takes no arguments")
		}
		b.First()
	default:
		return qbValue{}, fmt.Errorf("method %q is not valid on the query root", method)
	}
	return qbValue{kind: kindQuery, qr: b}, nil
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}
