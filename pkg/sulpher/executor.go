package sulpher

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/rserv-dev/rserv/pkg/graph"
	"github.com/rserv-dev/rserv/pkg/resterr"
	"github.com/rserv-dev/rserv/pkg/schema"
)

// Stats accompanies every query result.
type Stats struct {
	NodesTraversed int       `json:"nodes_traversed"`
	ResultCount    int       `json:"result_count"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
}

// Result is the materialised output of one query run.
type Result struct {
	Rows  []map[string]any `json:"results"`
	Stats Stats            `json:"stats"`
}

// ExecOptions bounds a query run.
type ExecOptions struct {
	MaxDepth int // traversal depth cap, default 10
	Logger   *zap.Logger
}

// DefaultMaxDepth caps variable-length expansion when the query does not
// narrow it.
const DefaultMaxDepth = 10

// Executor runs parsed queries against a Source.
type Executor struct {
	src      Source
	reg      *schema.Registry
	maxDepth int
	log      *zap.Logger
}

// NewExecutor builds an executor. The registry is used to strip REF fields
// when a whole node is projected.
func NewExecutor(src Source, reg *schema.Registry, opts ExecOptions) *Executor {
	depth := opts.MaxDepth
	if depth <= 0 {
		depth = DefaultMaxDepth
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{src: src, reg: reg, maxDepth: depth, log: log}
}

// binding maps query variables to nodes.
type binding map[string]graph.NodeRef

func (b binding) clone() binding {
	nb := make(binding, len(b)+1)
	for k, v := range b {
		nb[k] = v
	}
	return nb
}

// run-scoped state: the document cache gives the executor a stable
// snapshot per run, and the traversal counter feeds the stats.
type execState struct {
	docs      map[graph.NodeRef]map[string]any
	traversed int
}

// Run executes a parsed query.
func (e *Executor) Run(ctx context.Context, q *Query) (*Result, error) {
	started := time.Now().UTC()
	st := &execState{docs: map[graph.NodeRef]map[string]any{}}

	if err := e.checkScope(q); err != nil {
		return nil, err
	}

	bindings := []binding{{}}
	for _, clause := range q.Matches {
		var err error
		bindings, err = e.matchClause(ctx, st, bindings, clause, q.Algo)
		if err != nil {
			return nil, err
		}
	}

	if len(q.With) > 0 {
		var err error
		bindings, err = e.applyWith(st, bindings, q.With)
		if err != nil {
			return nil, err
		}
	}

	rows, err := e.project(st, bindings, q.Return)
	if err != nil {
		return nil, err
	}
	if err := e.orderRows(st, rows, q.OrderBy); err != nil {
		return nil, err
	}
	if q.Limit >= 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}

	res := &Result{Rows: rows, Stats: Stats{
		NodesTraversed: st.traversed,
		ResultCount:    len(rows),
		StartTime:      started,
		EndTime:        time.Now().UTC(),
	}}
	e.log.Debug("query executed",
		zap.Int("rows", len(rows)),
		zap.Int("nodes_traversed", st.traversed))
	return res, nil
}

// checkScope rejects WHERE and RETURN variables that no pattern binds.
func (e *Executor) checkScope(q *Query) error {
	scope := map[string]struct{}{}
	for _, clause := range q.Matches {
		for _, n := range clause.Pattern.Nodes {
			if n.Var != "" {
				scope[n.Var] = struct{}{}
			}
		}
		if clause.Where != nil {
			for _, v := range exprVars(clause.Where) {
				if _, ok := scope[v]; !ok {
					return resterr.New(resterr.KindQueryRuntime, "unresolvable variable %q in WHERE", v)
				}
			}
		}
	}
	for _, item := range append(append([]ProjItem{}, q.With...), q.Return...) {
		if item.Star || item.Var == "" {
			continue
		}
		if _, ok := scope[item.Var]; !ok {
			return resterr.New(resterr.KindQueryRuntime, "unresolvable variable %q in projection", item.Var)
		}
	}
	for _, oi := range q.OrderBy {
		if oi.Item.Var == "" || oi.Item.Star {
			continue
		}
		if _, ok := scope[oi.Item.Var]; !ok {
			return resterr.New(resterr.KindQueryRuntime, "unresolvable variable %q in ORDER BY", oi.Item.Var)
		}
	}
	if hasAggregate(q.With) {
		return resterr.Syntax("WITH", 1, "aggregation is only allowed in RETURN")
	}
	return nil
}

// entitiesFor resolves a node type to the matching entities. An empty type
// matches every entity.
func (e *Executor) entitiesFor(typeName string) []string {
	all := e.src.Entities()
	if typeName == "" {
		return all
	}
	var out []string
	for _, entity := range all {
		if graph.TypeMatchesEntity(typeName, entity) {
			out = append(out, entity)
		}
	}
	return out
}

// pathState is one partial match inside a clause: the binding so far plus
// the pattern element reached.
type pathState struct {
	b       binding
	nodeIdx int
	cur     graph.NodeRef
}

// matchClause extends every incoming binding across one MATCH pattern.
// The worklist is FIFO for BFS and LIFO for DFS; adjacency order makes
// enumeration deterministic either way.
func (e *Executor) matchClause(ctx context.Context, st *execState, in []binding, clause *MatchClause, algo string) ([]binding, error) {
	pln := planClause(e.src, clause, e.entitiesFor)
	preds := clausePredicates(clause)

	var out []binding
	for _, b := range in {
		seeds, err := e.seedStates(st, b, clause.Pattern.Nodes[0], pln)
		if err != nil {
			return nil, err
		}

		work := seeds
		for len(work) > 0 {
			if err := ctx.Err(); err != nil {
				return nil, resterr.New(resterr.KindTimeout, "query exceeded its time budget")
			}

			var s pathState
			if algo == "DFS" {
				s = work[len(work)-1]
				work = work[:len(work)-1]
			} else {
				s = work[0]
				work = work[1:]
			}

			if s.nodeIdx == len(clause.Pattern.Nodes)-1 {
				ok, err := e.checkPredicates(st, s.b, preds, nil)
				if err != nil {
					return nil, err
				}
				if ok {
					out = append(out, s.b)
				}
				continue
			}

			next, err := e.expandEdge(st, s, clause.Pattern, pln, preds)
			if err != nil {
				return nil, err
			}
			work = append(work, next...)
		}
	}
	return out, nil
}

// seedStates binds the first pattern element. A variable already bound by
// an earlier clause is reused, not re-enumerated.
func (e *Executor) seedStates(st *execState, b binding, first *NodePattern, pln plan) ([]pathState, error) {
	if first.Var != "" {
		if node, bound := b[first.Var]; bound {
			ok, err := e.nodeMatches(st, node, first, pln)
			if err != nil || !ok {
				return nil, err
			}
			return []pathState{{b: b, nodeIdx: 0, cur: node}}, nil
		}
	}

	var states []pathState
	if restriction, ok := pln.restrictions[first.Var]; ok && first.Var != "" {
		candidates := make([]graph.NodeRef, 0, len(restriction))
		for n := range restriction {
			candidates = append(candidates, n)
		}
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].Entity != candidates[j].Entity {
				return candidates[i].Entity < candidates[j].Entity
			}
			return candidates[i].ID < candidates[j].ID
		})
		for _, node := range candidates {
			st.traversed++
			ok, err := e.nodeMatches(st, node, first, pln)
			if err != nil {
				return nil, err
			}
			if ok {
				states = append(states, pathState{b: bindVar(b, first.Var, node), nodeIdx: 0, cur: node})
			}
		}
		return states, nil
	}

	for _, entity := range e.entitiesFor(first.Type) {
		for _, node := range e.src.NodesOfEntity(entity) {
			st.traversed++
			ok, err := e.nodeMatches(st, node, first, pln)
			if err != nil {
				return nil, err
			}
			if ok {
				states = append(states, pathState{b: bindVar(b, first.Var, node), nodeIdx: 0, cur: node})
			}
		}
	}
	return states, nil
}

func bindVar(b binding, v string, node graph.NodeRef) binding {
	nb := b.clone()
	if v != "" {
		nb[v] = node
	}
	return nb
}

// expandEdge advances one edge of the pattern from a partial state.
func (e *Executor) expandEdge(st *execState, s pathState, pat *Pattern, pln plan, preds []predicate) ([]pathState, error) {
	edge := pat.Edges[s.nodeIdx]
	target := pat.Nodes[s.nodeIdx+1]

	// The grammar admits edge properties but edges carry none: a
	// non-empty spec matches nothing.
	if len(edge.Props) > 0 {
		return nil, nil
	}

	var reached []graph.NodeRef
	if edge.VarLength {
		reached = e.expandVarLength(st, s.cur, edge)
	} else {
		for _, out := range e.src.Out(s.cur) {
			if labelMatches(edge.Labels, out.Label) {
				reached = append(reached, out.To)
			}
		}
	}

	var states []pathState
	for _, node := range reached {
		st.traversed++
		ok, err := e.nodeMatches(st, node, target, pln)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if target.Var != "" {
			if prev, bound := s.b[target.Var]; bound && prev != node {
				continue
			}
		}
		nb := bindVar(s.b, target.Var, node)
		ok, err = e.checkPredicates(st, nb, preds, strptr(target.Var))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		states = append(states, pathState{b: nb, nodeIdx: s.nodeIdx + 1, cur: node})
	}
	return states, nil
}

// expandVarLength walks outbound edges from start, collecting the nodes
// reached at any depth within the hop range. Each expansion path refuses
// to revisit its own nodes, so cycles terminate.
func (e *Executor) expandVarLength(st *execState, start graph.NodeRef, edge *EdgePattern) []graph.NodeRef {
	maxHops := edge.MaxHops
	if maxHops < 0 || maxHops > e.maxDepth {
		maxHops = e.maxDepth
	}

	type walk struct {
		node    graph.NodeRef
		depth   int
		visited map[graph.NodeRef]struct{}
	}
	emitted := map[graph.NodeRef]struct{}{}
	var reached []graph.NodeRef
	emit := func(n graph.NodeRef) {
		if _, dup := emitted[n]; !dup {
			emitted[n] = struct{}{}
			reached = append(reached, n)
		}
	}

	if edge.MinHops == 0 {
		emit(start)
	}

	queue := []walk{{node: start, depth: 0, visited: map[graph.NodeRef]struct{}{start: {}}}}
	for len(queue) > 0 {
		w := queue[0]
		queue = queue[1:]
		if w.depth == maxHops {
			continue
		}
		for _, out := range e.src.Out(w.node) {
			if !labelMatches(edge.Labels, out.Label) {
				continue
			}
			if _, seen := w.visited[out.To]; seen {
				continue
			}
			st.traversed++
			depth := w.depth + 1
			if depth >= edge.MinHops {
				emit(out.To)
			}
			visited := make(map[graph.NodeRef]struct{}, len(w.visited)+1)
			for k := range w.visited {
				visited[k] = struct{}{}
			}
			visited[out.To] = struct{}{}
			queue = append(queue, walk{node: out.To, depth: depth, visited: visited})
		}
	}
	return reached
}

func labelMatches(labels []string, label string) bool {
	if len(labels) == 0 {
		return true
	}
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}

// nodeMatches checks a candidate against an element's type, inline
// properties and candidate restriction.
func (e *Executor) nodeMatches(st *execState, node graph.NodeRef, pat *NodePattern, pln plan) (bool, error) {
	if pat.Type != "" && !graph.TypeMatchesEntity(pat.Type, node.Entity) {
		return false, nil
	}
	if pat.Var != "" {
		if restriction, ok := pln.restrictions[pat.Var]; ok {
			if _, allowed := restriction[node]; !allowed {
				return false, nil
			}
		}
	}
	if len(pat.Props) == 0 {
		return true, nil
	}
	doc, err := e.document(st, node)
	if err != nil {
		return false, err
	}
	keys := make([]string, 0, len(pat.Props))
	for k := range pat.Props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !looseEqual(doc[k], pat.Props[k]) {
			return false, nil
		}
	}
	return true, nil
}

// predicate is one WHERE conjunct with its variable set, evaluated as soon
// as every variable it mentions is bound (predicate pushdown).
type predicate struct {
	expr Expr
	vars []string
}

func clausePredicates(clause *MatchClause) []predicate {
	if clause.Where == nil {
		return nil
	}
	cs := conjuncts(clause.Where)
	preds := make([]predicate, 0, len(cs))
	for _, c := range cs {
		preds = append(preds, predicate{expr: c, vars: exprVars(c)})
	}
	return preds
}

// checkPredicates evaluates the conjuncts whose variables are all bound.
// With a trigger variable set, only conjuncts mentioning it are checked
// (the rest were settled when their last variable bound); with nil every
// evaluable conjunct runs.
func (e *Executor) checkPredicates(st *execState, b binding, preds []predicate, trigger *string) (bool, error) {
	for _, p := range preds {
		if trigger != nil && !containsVar(p.vars, *trigger) {
			continue
		}
		allBound := true
		for _, v := range p.vars {
			if _, ok := b[v]; !ok {
				allBound = false
				break
			}
		}
		if !allBound {
			continue
		}
		ok, err := e.evalExpr(st, b, p.expr)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func containsVar(vars []string, v string) bool {
	for _, x := range vars {
		if x == v {
			return true
		}
	}
	return false
}

func strptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (e *Executor) evalExpr(st *execState, b binding, expr Expr) (bool, error) {
	switch t := expr.(type) {
	case *BinaryExpr:
		left, err := e.evalExpr(st, b, t.Left)
		if err != nil {
			return false, err
		}
		if t.Op == "AND" && !left {
			return false, nil
		}
		if t.Op == "OR" && left {
			return true, nil
		}
		return e.evalExpr(st, b, t.Right)
	case *NotExpr:
		inner, err := e.evalExpr(st, b, t.X)
		if err != nil {
			return false, err
		}
		return !inner, nil
	case *PatternExpr:
		node, ok := b[t.Var]
		if !ok {
			return false, resterr.New(resterr.KindQueryRuntime, "unresolvable variable %q", t.Var)
		}
		for _, out := range e.src.Out(node) {
			if labelMatches(t.Labels, out.Label) {
				return true, nil
			}
		}
		return false, nil
	case *CompareExpr:
		return e.evalCompare(st, b, t)
	}
	return false, resterr.New(resterr.KindQueryRuntime, "unsupported expression")
}

func (e *Executor) evalCompare(st *execState, b binding, cmp *CompareExpr) (bool, error) {
	left, leftOK, err := e.operandValue(st, b, cmp.Left)
	if err != nil {
		return false, err
	}
	if cmp.Op == "EXISTS" {
		return leftOK && left != nil, nil
	}
	right, _, err := e.operandValue(st, b, cmp.Right)
	if err != nil {
		return false, err
	}

	switch cmp.Op {
	case "=":
		return looseEqual(left, right), nil
	case "<>":
		return !looseEqual(left, right), nil
	}

	// Ordering comparisons need two numbers or two strings.
	lf, lNum := asNumber(left)
	rf, rNum := asNumber(right)
	if lNum && rNum {
		switch cmp.Op {
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		}
	}
	ls, lStr := left.(string)
	rs, rStr := right.(string)
	if lStr && rStr {
		switch cmp.Op {
		case "<":
			return ls < rs, nil
		case "<=":
			return ls <= rs, nil
		case ">":
			return ls > rs, nil
		case ">=":
			return ls >= rs, nil
		}
	}
	return false, resterr.New(resterr.KindQueryRuntime,
		"type mismatch: cannot compare %v with %v", describeValue(left), describeValue(right))
}

func (e *Executor) operandValue(st *execState, b binding, op Operand) (any, bool, error) {
	if op.IsLit {
		return op.Literal, true, nil
	}
	node, bound := b[op.Var]
	if !bound {
		return nil, false, resterr.New(resterr.KindQueryRuntime, "unresolvable variable %q", op.Var)
	}
	if op.Field == "" {
		return node.ID, true, nil
	}
	doc, err := e.document(st, node)
	if err != nil {
		return nil, false, err
	}
	v, present := doc[op.Field]
	return v, present, nil
}

func (e *Executor) document(st *execState, node graph.NodeRef) (map[string]any, error) {
	if doc, ok := st.docs[node]; ok {
		return doc, nil
	}
	doc, err := e.src.Document(node)
	if resterr.IsKind(err, resterr.KindNotFound) {
		doc = map[string]any{"id": node.ID}
		st.docs[node] = doc
		return doc, nil
	}
	if err != nil {
		return nil, err
	}
	st.docs[node] = doc
	return doc, nil
}

// applyWith narrows bindings to the projected variables. DISTINCT items
// de-duplicate the narrowed bindings.
func (e *Executor) applyWith(st *execState, bindings []binding, items []ProjItem) ([]binding, error) {
	keep := map[string]struct{}{}
	distinct := false
	for _, it := range items {
		if it.Var != "" {
			keep[it.Var] = struct{}{}
		}
		if it.Agg == "DISTINCT" {
			distinct = true
		}
	}

	out := make([]binding, 0, len(bindings))
	seen := map[string]struct{}{}
	for _, b := range bindings {
		nb := binding{}
		for v := range keep {
			if node, ok := b[v]; ok {
				nb[v] = node
			}
		}
		if distinct {
			key := bindingKey(nb)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, nb)
	}
	return out, nil
}

func bindingKey(b binding) string {
	vars := make([]string, 0, len(b))
	for v := range b {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	key := ""
	for _, v := range vars {
		key += v + "=" + b[v].String() + ";"
	}
	return key
}

// project materialises result rows, applying aggregation with SQL group-by
// semantics and DISTINCT as whole-row de-duplication.
func (e *Executor) project(st *execState, bindings []binding, items []ProjItem) ([]map[string]any, error) {
	if hasAggregate(items) {
		return e.projectAggregated(st, bindings, items)
	}

	distinct := false
	for _, it := range items {
		if it.Agg == "DISTINCT" {
			distinct = true
		}
	}

	rows := make([]map[string]any, 0, len(bindings))
	seen := map[string]struct{}{}
	for _, b := range bindings {
		row := map[string]any{}
		for _, it := range items {
			v, err := e.itemValue(st, b, it)
			if err != nil {
				return nil, err
			}
			row[it.Key()] = v
		}
		if distinct {
			key := rowKey(row)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (e *Executor) projectAggregated(st *execState, bindings []binding, items []ProjItem) ([]map[string]any, error) {
	type group struct {
		row    map[string]any
		values map[string][]any // aggregate column -> collected inputs
		rows   int
	}
	groups := map[string]*group{}
	var order []string

	for _, b := range bindings {
		keyRow := map[string]any{}
		for _, it := range items {
			if it.Agg != "" && it.Agg != "DISTINCT" {
				continue
			}
			v, err := e.itemValue(st, b, it)
			if err != nil {
				return nil, err
			}
			keyRow[it.Key()] = v
		}
		key := rowKey(keyRow)
		g, ok := groups[key]
		if !ok {
			g = &group{row: keyRow, values: map[string][]any{}}
			groups[key] = g
			order = append(order, key)
		}
		g.rows++
		for _, it := range items {
			if it.Agg == "" || it.Agg == "DISTINCT" {
				continue
			}
			if it.Star {
				continue
			}
			v, err := e.itemValue(st, b, ProjItem{Var: it.Var, Field: it.Field})
			if err != nil {
				return nil, err
			}
			if v != nil {
				g.values[it.Key()] = append(g.values[it.Key()], v)
			}
		}
	}

	rows := make([]map[string]any, 0, len(order))
	for _, key := range order {
		g := groups[key]
		row := g.row
		for _, it := range items {
			if it.Agg == "" || it.Agg == "DISTINCT" {
				continue
			}
			v, err := aggregate(it, g.values[it.Key()], g.rows)
			if err != nil {
				return nil, err
			}
			row[it.Key()] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func aggregate(it ProjItem, values []any, rows int) (any, error) {
	switch it.Agg {
	case "COUNT":
		if it.Star {
			return int64(rows), nil
		}
		return int64(len(values)), nil
	case "SUM", "AVG":
		sum := 0.0
		for _, v := range values {
			f, ok := asNumber(v)
			if !ok {
				return nil, resterr.New(resterr.KindQueryRuntime,
					"%s over non-numeric value %v", it.Agg, describeValue(v))
			}
			sum += f
		}
		if it.Agg == "SUM" {
			return sum, nil
		}
		if len(values) == 0 {
			return nil, nil
		}
		return sum / float64(len(values)), nil
	case "MIN", "MAX":
		if len(values) == 0 {
			return nil, nil
		}
		best := values[0]
		for _, v := range values[1:] {
			less, err := lessValue(v, best)
			if err != nil {
				return nil, err
			}
			if (it.Agg == "MIN") == less {
				best = v
			}
		}
		return best, nil
	}
	return nil, resterr.New(resterr.KindQueryRuntime, "unknown aggregation %s", it.Agg)
}

func lessValue(a, b any) (bool, error) {
	af, aNum := asNumber(a)
	bf, bNum := asNumber(b)
	if aNum && bNum {
		return af < bf, nil
	}
	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		return as < bs, nil
	}
	return false, resterr.New(resterr.KindQueryRuntime,
		"type mismatch: cannot compare %v with %v", describeValue(a), describeValue(b))
}

// itemValue renders one projection column for a binding. A whole variable
// yields the node's properties with REF fields stripped.
func (e *Executor) itemValue(st *execState, b binding, it ProjItem) (any, error) {
	node, bound := b[it.Var]
	if !bound {
		return nil, resterr.New(resterr.KindQueryRuntime, "unresolvable variable %q", it.Var)
	}
	doc, err := e.document(st, node)
	if err != nil {
		return nil, err
	}
	if it.Field != "" {
		return doc[it.Field], nil
	}
	return e.nodeProperties(node.Entity, doc), nil
}

// nodeProperties is the graph view of a document: every field except the
// declared REF fields.
func (e *Executor) nodeProperties(entity string, doc map[string]any) map[string]any {
	es := e.reg.Schema(entity)
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if es != nil {
			if f, declared := es[k]; declared && f.Type == schema.TypeRef {
				continue
			}
		}
		out[k] = v
	}
	return out
}

func (e *Executor) orderRows(st *execState, rows []map[string]any, orderBy []OrderItem) error {
	if len(orderBy) == 0 {
		return nil
	}
	var sortErr error
	sort.SliceStable(rows, func(i, j int) bool {
		for _, oi := range orderBy {
			a := rows[i][oi.Item.Key()]
			bv := rows[j][oi.Item.Key()]
			if looseEqual(a, bv) {
				continue
			}
			less, err := lessValue(a, bv)
			if err != nil {
				if sortErr == nil {
					sortErr = err
				}
				return false
			}
			if oi.Desc {
				return !less
			}
			return less
		}
		return false
	})
	return sortErr
}

func rowKey(row map[string]any) string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	key := ""
	for _, k := range keys {
		raw, _ := json.Marshal(row[k])
		key += k + "=" + string(raw) + ";"
	}
	return key
}

// looseEqual compares values with numeric cross-type tolerance: an int64
// equals its float64 counterpart.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	af, aNum := asNumber(a)
	bf, bNum := asNumber(b)
	if aNum || bNum {
		return aNum && bNum && af == bf
	}
	switch a.(type) {
	case map[string]any, []any:
		ar, _ := json.Marshal(a)
		br, _ := json.Marshal(b)
		return string(ar) == string(br)
	}
	switch b.(type) {
	case map[string]any, []any:
		return false
	}
	return a == b
}

func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}

func describeValue(v any) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%v (%T)", v, v)
}
