package sulpher

import (
	"github.com/rserv-dev/rserv/pkg/graph"
)

// Source is the graph and document view a query runs against. Traversal
// follows outbound edges; documents back property access.
type Source interface {
	Entities() []string
	NodesOfEntity(entity string) []graph.NodeRef
	Out(node graph.NodeRef) []graph.Edge
	// LookupProperty serves equality seeds in indexed mode; ok is false
	// when no property index is available.
	LookupProperty(entity, field string, value any) ([]graph.NodeRef, bool)
	Document(node graph.NodeRef) (map[string]any, error)
}

// plan records the seed choice and per-variable candidate restrictions for
// one MATCH clause. Restrictions narrow enumeration; they never change
// which bindings match.
type plan struct {
	seedVar      string
	restrictions map[string]map[graph.NodeRef]struct{}
}

// planClause picks the seed variable: first the one constrained by a WHERE
// equality the property index can serve, then one with a literal property
// in its node pattern, then the first pattern element.
func planClause(src Source, clause *MatchClause, entitiesFor func(string) []string) plan {
	p := plan{restrictions: map[string]map[graph.NodeRef]struct{}{}}

	patternVars := map[string]*NodePattern{}
	for _, n := range clause.Pattern.Nodes {
		if n.Var != "" {
			patternVars[n.Var] = n
		}
	}

	// WHERE equality on a property, servable by the index.
	if clause.Where != nil {
		for _, c := range conjuncts(clause.Where) {
			cmp, ok := c.(*CompareExpr)
			if !ok || cmp.Op != "=" {
				continue
			}
			ref, lit := cmp.Left, cmp.Right
			if ref.IsLit {
				ref, lit = lit, ref
			}
			if ref.IsLit || !lit.IsLit || ref.Field == "" {
				continue
			}
			node, declared := patternVars[ref.Var]
			if !declared {
				continue
			}
			set := map[graph.NodeRef]struct{}{}
			served := true
			for _, entity := range entitiesFor(node.Type) {
				nodes, ok := src.LookupProperty(entity, ref.Field, lit.Literal)
				if !ok {
					served = false
					break
				}
				for _, n := range nodes {
					set[n] = struct{}{}
				}
			}
			if !served {
				continue
			}
			p.restrictions[ref.Var] = set
			if p.seedVar == "" {
				p.seedVar = ref.Var
			}
		}
	}
	if p.seedVar != "" {
		return p
	}

	// Literal type plus property constraint in the pattern itself.
	for _, n := range clause.Pattern.Nodes {
		if n.Var != "" && n.Type != "" && len(n.Props) > 0 {
			p.seedVar = n.Var
			return p
		}
	}

	if first := clause.Pattern.Nodes[0]; first.Var != "" {
		p.seedVar = first.Var
	}
	return p
}
