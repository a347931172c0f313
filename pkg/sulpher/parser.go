package sulpher

import (
	"strconv"

	"github.com/rserv-dev/rserv/pkg/resterr"
)

// Parse turns a query string into an AST. Failures carry the offending
// token and column as QuerySyntaxError details.
func Parse(query string) (*Query, error) {
	tokens, err := Lex(query)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	return p.parseQuery()
}

type parser struct {
	tokens []Token
	pos    int
}

func (p *parser) cur() Token  { return p.tokens[p.pos] }
func (p *parser) advance()    { p.pos++ }
func (p *parser) peek() Token { return p.tokens[min(p.pos+1, len(p.tokens)-1)] }

func (p *parser) at(kind TokenKind) bool { return p.cur().Kind == kind }

func (p *parser) atKeyword(kw string) bool {
	return p.cur().Kind == tokenKeyword && p.cur().Text == kw
}

func (p *parser) accept(kind TokenKind) bool {
	if p.at(kind) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) acceptKeyword(kw string) bool {
	if p.atKeyword(kw) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expect(kind TokenKind, what string) (Token, error) {
	if !p.at(kind) {
		return Token{}, p.errf("expected %s", what)
	}
	tok := p.cur()
	p.advance()
	return tok, nil
}

func (p *parser) errf(format string, args ...any) error {
	tok := p.cur()
	return resterr.Syntax(tok.Text, tok.Column, format, args...)
}

func (p *parser) parseQuery() (*Query, error) {
	q := &Query{Algo: "BFS", Limit: -1}

	if p.acceptKeyword("BFS") {
		q.Algo = "BFS"
	} else if p.acceptKeyword("DFS") {
		q.Algo = "DFS"
	}

	for p.atKeyword("MATCH") {
		p.advance()
		clause, err := p.parseMatch()
		if err != nil {
			return nil, err
		}
		q.Matches = append(q.Matches, clause)
	}
	if len(q.Matches) == 0 {
		return nil, p.errf("expected MATCH")
	}

	if p.acceptKeyword("WITH") {
		items, err := p.parseProjection()
		if err != nil {
			return nil, err
		}
		q.With = items
	}

	if !p.acceptKeyword("RETURN") {
		return nil, p.errf("expected RETURN")
	}
	items, err := p.parseProjection()
	if err != nil {
		return nil, err
	}
	q.Return = items

	if p.acceptKeyword("ORDER") {
		if !p.acceptKeyword("BY") {
			return nil, p.errf("expected BY after ORDER")
		}
		for {
			item, err := p.parseProjItem()
			if err != nil {
				return nil, err
			}
			oi := OrderItem{Item: item}
			if p.acceptKeyword("DESC") {
				oi.Desc = true
			} else {
				p.acceptKeyword("ASC")
			}
			q.OrderBy = append(q.OrderBy, oi)
			if !p.accept(tokenComma) {
				break
			}
		}
	}

	if p.acceptKeyword("LIMIT") {
		tok, err := p.expect(tokenInt, "integer after LIMIT")
		if err != nil {
			return nil, err
		}
		n, _ := strconv.Atoi(tok.Text)
		q.Limit = n
	}

	if !p.at(tokenEOF) {
		return nil, p.errf("unexpected trailing input")
	}

	// Aggregates live at RETURN time only; WITH carrying one alongside a
	// RETURN aggregate has no defined grouping and is rejected.
	if hasAggregate(q.With) && hasAggregate(q.Return) {
		return nil, resterr.Syntax("WITH", 1, "aggregation is not allowed in both WITH and RETURN")
	}
	return q, nil
}

func hasAggregate(items []ProjItem) bool {
	for _, it := range items {
		if it.Agg != "" && it.Agg != "DISTINCT" {
			return true
		}
	}
	return false
}

func (p *parser) parseMatch() (*MatchClause, error) {
	pattern, err := p.parsePattern()
	if err != nil {
		return nil, err
	}
	clause := &MatchClause{Pattern: pattern}
	if p.acceptKeyword("WHERE") {
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		clause.Where = expr
	}
	return clause, nil
}

func (p *parser) parsePattern() (*Pattern, error) {
	node, err := p.parseNode()
	if err != nil {
		return nil, err
	}
	pat := &Pattern{Nodes: []*NodePattern{node}}
	for p.at(tokenDash) {
		p.advance()
		edge, err := p.parseEdge()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokenArrow, "'->'"); err != nil {
			return nil, err
		}
		next, err := p.parseNode()
		if err != nil {
			return nil, err
		}
		pat.Edges = append(pat.Edges, edge)
		pat.Nodes = append(pat.Nodes, next)
	}
	return pat, nil
}

func (p *parser) parseNode() (*NodePattern, error) {
	if _, err := p.expect(tokenLParen, "'('"); err != nil {
		return nil, err
	}
	node := &NodePattern{}
	if p.at(tokenIdent) {
		node.Var = p.cur().Text
		p.advance()
	}
	if p.accept(tokenColon) {
		tok, err := p.expect(tokenIdent, "node type")
		if err != nil {
			return nil, err
		}
		node.Type = tok.Text
	}
	if p.at(tokenLBrace) {
		props, err := p.parseProps()
		if err != nil {
			return nil, err
		}
		node.Props = props
	}
	if _, err := p.expect(tokenRParen, "')'"); err != nil {
		return nil, err
	}
	return node, nil
}

func (p *parser) parseEdge() (*EdgePattern, error) {
	if _, err := p.expect(tokenLBracket, "'['"); err != nil {
		return nil, err
	}
	edge := &EdgePattern{}

	if p.at(tokenIdent) && p.peek().Kind == tokenColon {
		edge.Var = p.cur().Text
		p.advance()
	}
	if p.accept(tokenColon) {
		for {
			tok, err := p.expect(tokenIdent, "edge label")
			if err != nil {
				return nil, err
			}
			edge.Labels = append(edge.Labels, upperLabel(tok.Text))
			if !p.accept(tokenPipe) {
				break
			}
		}
	}

	if p.accept(tokenStar) {
		edge.VarLength = true
		edge.MinHops = 1
		edge.MaxHops = -1 // bounded by max_depth at run time
		if p.at(tokenInt) {
			n, _ := strconv.Atoi(p.cur().Text)
			p.advance()
			edge.MinHops = n
			edge.MaxHops = n // "*n" alone means exactly n hops
		}
		if p.accept(tokenDotDot) {
			tok, err := p.expect(tokenInt, "integer upper bound")
			if err != nil {
				return nil, err
			}
			m, _ := strconv.Atoi(tok.Text)
			edge.MaxHops = m
			if m < edge.MinHops {
				return nil, p.errf("empty hop range %d..%d", edge.MinHops, m)
			}
		}
	}

	if p.at(tokenLBrace) {
		props, err := p.parseProps()
		if err != nil {
			return nil, err
		}
		edge.Props = props
	}

	if _, err := p.expect(tokenRBracket, "']'"); err != nil {
		return nil, err
	}
	return edge, nil
}

func (p *parser) parseProps() (map[string]any, error) {
	if _, err := p.expect(tokenLBrace, "'{'"); err != nil {
		return nil, err
	}
	props := map[string]any{}
	for {
		key, err := p.expect(tokenIdent, "property name")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokenColon, "':'"); err != nil {
			return nil, err
		}
		val, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		props[key.Text] = val
		if !p.accept(tokenComma) {
			break
		}
	}
	if _, err := p.expect(tokenRBrace, "'}'"); err != nil {
		return nil, err
	}
	return props, nil
}

func (p *parser) parseLiteral() (any, error) {
	tok := p.cur()
	switch tok.Kind {
	case tokenString:
		p.advance()
		return tok.Text, nil
	case tokenInt:
		p.advance()
		n, _ := strconv.ParseInt(tok.Text, 10, 64)
		return n, nil
	case tokenFloat:
		p.advance()
		f, _ := strconv.ParseFloat(tok.Text, 64)
		return f, nil
	case tokenKeyword:
		switch tok.Text {
		case "TRUE":
			p.advance()
			return true, nil
		case "FALSE":
			p.advance()
			return false, nil
		case "NULL":
			p.advance()
			return nil, nil
		}
	}
	return nil, p.errf("expected literal")
}

// parseExpr parses OR-joined terms (lowest precedence).
func (p *parser) parseExpr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("AND") {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.acceptKeyword("NOT") {
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &NotExpr{X: x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	if p.at(tokenLParen) {
		if expr, ok, err := p.tryPatternPredicate(); ok || err != nil {
			return expr, err
		}
		p.advance() // (
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokenRParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil
	}
	return p.parseComparison()
}

// tryPatternPredicate recognises "(x)-[:L]->()" without consuming input on
// a miss.
func (p *parser) tryPatternPredicate() (Expr, bool, error) {
	if !(p.cur().Kind == tokenLParen &&
		p.peek().Kind == tokenIdent &&
		p.pos+2 < len(p.tokens) && p.tokens[p.pos+2].Kind == tokenRParen &&
		p.pos+3 < len(p.tokens) && p.tokens[p.pos+3].Kind == tokenDash) {
		return nil, false, nil
	}
	v := p.peek().Text
	p.pos += 3 // ( x )
	p.advance() // -
	if _, err := p.expect(tokenLBracket, "'['"); err != nil {
		return nil, true, err
	}
	pe := &PatternExpr{Var: v}
	if p.accept(tokenColon) {
		for {
			tok, err := p.expect(tokenIdent, "edge label")
			if err != nil {
				return nil, true, err
			}
			pe.Labels = append(pe.Labels, upperLabel(tok.Text))
			if !p.accept(tokenPipe) {
				break
			}
		}
	}
	if _, err := p.expect(tokenRBracket, "']'"); err != nil {
		return nil, true, err
	}
	if _, err := p.expect(tokenArrow, "'->'"); err != nil {
		return nil, true, err
	}
	if _, err := p.expect(tokenLParen, "'('"); err != nil {
		return nil, true, err
	}
	if p.at(tokenIdent) { // target var is allowed but unbound
		p.advance()
	}
	if _, err := p.expect(tokenRParen, "')'"); err != nil {
		return nil, true, err
	}
	return pe, true, nil
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	var op string
	switch p.cur().Kind {
	case tokenEq:
		op = "="
	case tokenNeq:
		op = "<>"
	case tokenLt:
		op = "<"
	case tokenLte:
		op = "<="
	case tokenGt:
		op = ">"
	case tokenGte:
		op = ">="
	default:
		// A bare property reference is an existence check.
		if left.IsLit {
			return nil, p.errf("expected comparison operator")
		}
		return &CompareExpr{Op: "EXISTS", Left: left}, nil
	}
	p.advance()
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return &CompareExpr{Op: op, Left: left, Right: right}, nil
}

func (p *parser) parseOperand() (Operand, error) {
	tok := p.cur()
	if tok.Kind == tokenIdent {
		p.advance()
		op := Operand{Var: tok.Text}
		if p.accept(tokenDot) {
			f, err := p.expect(tokenIdent, "property name")
			if err != nil {
				return Operand{}, err
			}
			op.Field = f.Text
		}
		return op, nil
	}
	lit, err := p.parseLiteral()
	if err != nil {
		return Operand{}, err
	}
	return Operand{IsLit: true, Literal: lit}, nil
}

func (p *parser) parseProjection() ([]ProjItem, error) {
	var items []ProjItem
	for {
		item, err := p.parseProjItem()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if !p.accept(tokenComma) {
			break
		}
	}
	return items, nil
}

var aggKeywords = map[string]struct{}{
	"COUNT": {}, "SUM": {}, "AVG": {}, "MIN": {}, "MAX": {}, "DISTINCT": {},
}

func (p *parser) parseProjItem() (ProjItem, error) {
	tok := p.cur()
	if tok.Kind == tokenKeyword {
		if _, isAgg := aggKeywords[tok.Text]; isAgg {
			p.advance()
			item := ProjItem{Agg: tok.Text}
			if tok.Text == "DISTINCT" && !p.at(tokenLParen) {
				// "RETURN DISTINCT x" form.
				inner, err := p.parseProjItem()
				if err != nil {
					return ProjItem{}, err
				}
				inner.Agg = "DISTINCT"
				return inner, nil
			}
			if _, err := p.expect(tokenLParen, "'('"); err != nil {
				return ProjItem{}, err
			}
			if p.accept(tokenStar) {
				item.Star = true
			} else {
				v, err := p.expect(tokenIdent, "variable")
				if err != nil {
					return ProjItem{}, err
				}
				item.Var = v.Text
				if p.accept(tokenDot) {
					f, err := p.expect(tokenIdent, "property name")
					if err != nil {
						return ProjItem{}, err
					}
					item.Field = f.Text
				}
			}
			if _, err := p.expect(tokenRParen, "')'"); err != nil {
				return ProjItem{}, err
			}
			return item, nil
		}
	}

	v, err := p.expect(tokenIdent, "projection")
	if err != nil {
		return ProjItem{}, err
	}
	item := ProjItem{Var: v.Text}
	if p.accept(tokenDot) {
		f, err := p.expect(tokenIdent, "property name")
		if err != nil {
			return ProjItem{}, err
		}
		item.Field = f.Text
	}
	return item, nil
}

func upperLabel(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		out = append(out, r)
	}
	return string(out)
}
