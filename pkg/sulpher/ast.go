package sulpher

import (
	"fmt"
	"strings"
)

// Query is a parsed Sulpher statement.
type Query struct {
	Algo    string // "BFS" or "DFS"
	Matches []*MatchClause
	With    []ProjItem // empty when no WITH clause
	Return  []ProjItem
	OrderBy []OrderItem
	Limit   int // -1 when absent
}

// MatchClause is one MATCH pattern with its optional WHERE expression.
type MatchClause struct {
	Pattern *Pattern
	Where   Expr // nil when absent
}

// Pattern is a linear chain: Nodes[0] -Edges[0]-> Nodes[1] -Edges[1]-> ...
type Pattern struct {
	Nodes []*NodePattern
	Edges []*EdgePattern
}

// NodePattern is one "(var:Type {prop: lit})" element.
type NodePattern struct {
	Var   string // may be empty for anonymous elements
	Type  string // node type; empty matches any entity
	Props map[string]any
}

// EdgePattern is one "-[var:LABEL|OTHER *n..m {..}]->" connector.
type EdgePattern struct {
	Var       string
	Labels    []string // upper-cased; empty matches any label
	VarLength bool
	MinHops   int // meaningful when VarLength
	MaxHops   int // -1 = bounded by max_depth at execution
	Props     map[string]any
}

// Expr is a WHERE expression node.
type Expr interface{ exprNode() }

// BinaryExpr joins two expressions with AND or OR.
type BinaryExpr struct {
	Op    string // "AND" or "OR"
	Left  Expr
	Right Expr
}

// NotExpr negates an expression.
type NotExpr struct{ X Expr }

// CompareExpr is "operand op operand".
type CompareExpr struct {
	Op    string // = <> < <= > >=
	Left  Operand
	Right Operand
}

// PatternExpr is the "(x)-[:L]->()" existence predicate. Inside a NotExpr
// it reads as "x has no outbound L".
type PatternExpr struct {
	Var    string
	Labels []string // empty matches any label
}

func (*BinaryExpr) exprNode()  {}
func (*NotExpr) exprNode()     {}
func (*CompareExpr) exprNode() {}
func (*PatternExpr) exprNode() {}

// Operand is a comparison side: a property reference or a literal.
type Operand struct {
	Var     string // set for property references
	Field   string
	Literal any // set when Var is empty; may be nil for NULL
	IsLit   bool
}

// ProjItem is one projection column: a variable, a property, or an
// aggregate over either.
type ProjItem struct {
	Agg   string // "", COUNT, SUM, AVG, MIN, MAX, DISTINCT
	Var   string
	Field string
	Star  bool // COUNT(*)
}

// Key renders the column name used in result rows and ORDER BY matching.
func (p ProjItem) Key() string {
	inner := p.Var
	if p.Field != "" {
		inner = p.Var + "." + p.Field
	}
	if p.Star {
		inner = "*"
	}
	if p.Agg != "" && p.Agg != "DISTINCT" {
		return fmt.Sprintf("%s(%s)", strings.ToLower(p.Agg), inner)
	}
	return inner
}

// OrderItem is one ORDER BY column.
type OrderItem struct {
	Item ProjItem
	Desc bool
}

// Vars lists the variables an expression references.
func exprVars(e Expr) []string {
	seen := map[string]struct{}{}
	var walk func(Expr)
	add := func(v string) {
		if v != "" {
			seen[v] = struct{}{}
		}
	}
	walk = func(e Expr) {
		switch t := e.(type) {
		case *BinaryExpr:
			walk(t.Left)
			walk(t.Right)
		case *NotExpr:
			walk(t.X)
		case *CompareExpr:
			if !t.Left.IsLit {
				add(t.Left.Var)
			}
			if !t.Right.IsLit {
				add(t.Right.Var)
			}
		case *PatternExpr:
			add(t.Var)
		}
	}
	walk(e)
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	return out
}

// conjuncts splits an expression on top-level ANDs for predicate pushdown.
func conjuncts(e Expr) []Expr {
	if b, ok := e.(*BinaryExpr); ok && b.Op == "AND" {
		return append(conjuncts(b.Left), conjuncts(b.Right)...)
	}
	return []Expr{e}
}
