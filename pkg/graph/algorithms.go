package graph

import (
	"fmt"
	"sort"

	"github.com/rserv-dev/rserv/pkg/resterr"
)

// Direction selects which adjacency side a degree count uses.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
	DirectionAll Direction = "all"
)

// ParseDirection validates a direction string, defaulting to "all".
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionIn, DirectionOut, DirectionAll:
		return Direction(s), nil
	case "":
		return DirectionAll, nil
	}
	return "", resterr.Validation(fmt.Sprintf("invalid direction: %q (want in, out or all)", s))
}

// Degree counts edges touching the node on the requested side.
func (x *Index) Degree(node NodeRef, dir Direction) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	switch dir {
	case DirectionIn:
		return len(x.in[node])
	case DirectionOut:
		return len(x.out[node])
	default:
		return len(x.in[node]) + len(x.out[node])
	}
}

// neighborsLocked returns the undirected neighbour set of a node, sorted.
// Caller holds at least a read lock.
func (x *Index) neighborsLocked(node NodeRef) []NodeRef {
	seen := map[NodeRef]struct{}{}
	var out []NodeRef
	for _, e := range x.out[node] {
		if _, ok := seen[e.To]; !ok {
			seen[e.To] = struct{}{}
			out = append(out, e.To)
		}
	}
	for _, e := range x.in[node] {
		if _, ok := seen[e.From]; !ok {
			seen[e.From] = struct{}{}
			out = append(out, e.From)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Entity != out[j].Entity {
			return out[i].Entity < out[j].Entity
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ShortestPath finds the fewest-hop path between two nodes over the
// undirected union of in and out edges, bounded by maxDepth hops. The
// second return is false when no path exists within the bound.
func (x *Index) ShortestPath(start, end NodeRef, maxDepth int) ([]NodeRef, bool) {
	if start == end {
		return []NodeRef{start}, true
	}
	if maxDepth <= 0 {
		return nil, false
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	parent := map[NodeRef]NodeRef{start: start}
	frontier := []NodeRef{start}
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []NodeRef
		for _, cur := range frontier {
			for _, nb := range x.neighborsLocked(cur) {
				if _, visited := parent[nb]; visited {
					continue
				}
				parent[nb] = cur
				if nb == end {
					return assemblePath(parent, start, end), true
				}
				next = append(next, nb)
			}
		}
		frontier = next
	}
	return nil, false
}

// PathExists reports whether a path of at most maxDepth hops connects the
// nodes. Same traversal as ShortestPath, early-exiting on discovery.
func (x *Index) PathExists(start, end NodeRef, maxDepth int) bool {
	_, ok := x.ShortestPath(start, end, maxDepth)
	return ok
}

func assemblePath(parent map[NodeRef]NodeRef, start, end NodeRef) []NodeRef {
	var rev []NodeRef
	for cur := end; ; cur = parent[cur] {
		rev = append(rev, cur)
		if cur == start {
			break
		}
	}
	path := make([]NodeRef, len(rev))
	for i, n := range rev {
		path[len(rev)-1-i] = n
	}
	return path
}

// CommonNeighbors intersects the outbound neighbour sets of two nodes.
func (x *Index) CommonNeighbors(a, b NodeRef) []NodeRef {
	x.mu.RLock()
	defer x.mu.RUnlock()

	fromA := map[NodeRef]struct{}{}
	for _, e := range x.out[a] {
		fromA[e.To] = struct{}{}
	}
	seen := map[NodeRef]struct{}{}
	var out []NodeRef
	for _, e := range x.out[b] {
		if _, ok := fromA[e.To]; !ok {
			continue
		}
		if _, dup := seen[e.To]; dup {
			continue
		}
		seen[e.To] = struct{}{}
		out = append(out, e.To)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Entity != out[j].Entity {
			return out[i].Entity < out[j].Entity
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// RelationshipTypes returns the distinct edge labels touching a node on
// the requested side, sorted.
func (x *Index) RelationshipTypes(node NodeRef, dir Direction) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	seen := map[string]struct{}{}
	var out []string
	collect := func(es []Edge) {
		for _, e := range es {
			if _, ok := seen[e.Label]; !ok {
				seen[e.Label] = struct{}{}
				out = append(out, e.Label)
			}
		}
	}
	switch dir {
	case DirectionIn:
		collect(x.in[node])
	case DirectionOut:
		collect(x.out[node])
	default:
		collect(x.out[node])
		collect(x.in[node])
	}
	sort.Strings(out)
	return out
}

// Subgraph collects every node within depth undirected hops of a seed,
// plus every edge whose endpoints both fall inside that set. Nodes and
// edges come back in a stable sorted order.
func (x *Index) Subgraph(seed NodeRef, depth int) ([]NodeRef, []Edge) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	visited := map[NodeRef]struct{}{seed: {}}
	nodes := []NodeRef{seed}
	frontier := []NodeRef{seed}
	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []NodeRef
		for _, cur := range frontier {
			for _, nb := range x.neighborsLocked(cur) {
				if _, ok := visited[nb]; ok {
					continue
				}
				visited[nb] = struct{}{}
				nodes = append(nodes, nb)
				next = append(next, nb)
			}
		}
		frontier = next
	}

	var edges []Edge
	for _, n := range nodes {
		for _, e := range x.out[n] {
			if _, ok := visited[e.To]; ok {
				edges = append(edges, e)
			}
		}
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Entity != nodes[j].Entity {
			return nodes[i].Entity < nodes[j].Entity
		}
		return nodes[i].ID < nodes[j].ID
	})
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.From != b.From {
			if a.From.Entity != b.From.Entity {
				return a.From.Entity < b.From.Entity
			}
			return a.From.ID < b.From.ID
		}
		if a.Label != b.Label {
			return a.Label < b.Label
		}
		if a.To.Entity != b.To.Entity {
			return a.To.Entity < b.To.Entity
		}
		return a.To.ID < b.To.ID
	})
	return nodes, edges
}

// Aggregation names an operation over collected neighbourhood values.
type Aggregation string

const (
	AggCount Aggregation = "count"
	AggSum   Aggregation = "sum"
	AggAvg   Aggregation = "avg"
)

// ParseAggregation validates an aggregation name.
func ParseAggregation(s string) (Aggregation, error) {
	switch Aggregation(s) {
	case AggCount, AggSum, AggAvg:
		return Aggregation(s), nil
	}
	return "", resterr.Validation(fmt.Sprintf("invalid aggregation: %q (want count, sum or avg)", s))
}

// DocumentGetter fetches a node's document, NotFound on absence.
type DocumentGetter func(node NodeRef) (map[string]any, error)

// NeighborhoodAggregate walks the undirected neighbourhood of a seed node
// up to depth hops and aggregates the named property over every distinct
// visited node, the seed excluded. Nodes missing the property are skipped;
// sum and avg reject non-numeric values.
func (x *Index) NeighborhoodAggregate(seed NodeRef, depth int, property string, agg Aggregation, get DocumentGetter) (any, error) {
	visited := map[NodeRef]struct{}{seed: {}}
	frontier := []NodeRef{seed}
	var nodes []NodeRef

	x.mu.RLock()
	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []NodeRef
		for _, cur := range frontier {
			for _, nb := range x.neighborsLocked(cur) {
				if _, ok := visited[nb]; ok {
					continue
				}
				visited[nb] = struct{}{}
				nodes = append(nodes, nb)
				next = append(next, nb)
			}
		}
		frontier = next
	}
	x.mu.RUnlock()

	var values []any
	for _, n := range nodes {
		doc, err := get(n)
		if resterr.IsKind(err, resterr.KindNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if v, ok := doc[property]; ok && v != nil {
			values = append(values, v)
		}
	}

	switch agg {
	case AggCount:
		return int64(len(values)), nil
	case AggSum, AggAvg:
		sum := 0.0
		for _, v := range values {
			f, ok := asFloat(v)
			if !ok {
				return nil, resterr.Validation(fmt.Sprintf("property %q has non-numeric value %v", property, v))
			}
			sum += f
		}
		if agg == AggSum {
			return sum, nil
		}
		if len(values) == 0 {
			return 0.0, nil
		}
		return sum / float64(len(values)), nil
	}
	return nil, resterr.Validation(fmt.Sprintf("invalid aggregation: %q", agg))
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}
