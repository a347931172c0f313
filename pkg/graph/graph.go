// Package graph maintains the edge overlay derived from REF fields.
//
// Every document is a node; every reference value becomes a directed edge
// labelled with the upper-cased field name. The index keeps bidirectional
// adjacency in memory and stays in sync with the store by subscribing to
// write events, which fire under the entity lock.
package graph

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/rserv-dev/rserv/pkg/resterr"
	"github.com/rserv-dev/rserv/pkg/schema"
)

// NodeRef identifies a node: an entity plus a document id.
type NodeRef struct {
	Entity string
	ID     int64
}

// String renders the "entity:id" form used in URLs and cache keys.
func (n NodeRef) String() string {
	return fmt.Sprintf("%s:%d", n.Entity, n.ID)
}

// ParseNodeRef accepts "entity:id" or a bare decimal id (entity left empty;
// the caller resolves it against the index).
func ParseNodeRef(s string) (NodeRef, error) {
	if entity, idStr, ok := strings.Cut(s, ":"); ok {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil || id <= 0 {
			return NodeRef{}, resterr.Validation(fmt.Sprintf("invalid node reference: %q", s))
		}
		return NodeRef{Entity: entity, ID: id}, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return NodeRef{}, resterr.Validation(fmt.Sprintf("invalid node reference: %q", s))
	}
	return NodeRef{ID: id}, nil
}

// Edge is a directed labelled arc. Edges carry no properties.
type Edge struct {
	From  NodeRef
	Label string
	To    NodeRef
}

// LabelFor maps a field name to its edge label.
func LabelFor(field string) string {
	return strings.ToUpper(field)
}

// TypeMatchesEntity reports whether a query node type names an entity.
// Matching is case-insensitive and tolerant of singular/plural: entity
// "users" is matched by "users", "Users", "user" and "User".
func TypeMatchesEntity(typeName, entity string) bool {
	t := strings.ToLower(typeName)
	e := strings.ToLower(entity)
	return t == e || t+"s" == e || t == e+"s"
}

// Index is the process-wide adjacency structure. Many readers, one writer.
type Index struct {
	mu     sync.RWMutex
	out    map[NodeRef][]Edge
	in     map[NodeRef][]Edge
	byType map[string][]NodeRef

	// props is the property inverted index, populated only in indexed
	// mode: entity -> field -> rendered value -> nodes.
	props map[string]map[string]map[string][]NodeRef

	reg     *schema.Registry
	log     *zap.Logger
	indexed bool
	persist *persister // nil unless indexed mode
}

// Options configures an Index.
type Options struct {
	Registry *schema.Registry
	Logger   *zap.Logger
	Indexed  bool   // maintain the property index and persist to disk
	Path     string // graph.index location, required when Indexed
}

// NewIndex builds an empty index.
func NewIndex(opts Options) *Index {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	idx := &Index{
		out:     make(map[NodeRef][]Edge),
		in:      make(map[NodeRef][]Edge),
		byType:  make(map[string][]NodeRef),
		props:   make(map[string]map[string]map[string][]NodeRef),
		reg:     opts.Registry,
		log:     log,
		indexed: opts.Indexed,
	}
	if opts.Indexed {
		idx.persist = &persister{path: opts.Path, log: log}
	}
	return idx
}

// DocumentWritten implements storage.Listener.
func (x *Index) DocumentWritten(entity string, id int64, doc map[string]any) {
	x.ApplyDocument(entity, id, doc)
	x.flush()
}

// DocumentDeleted implements storage.Listener.
func (x *Index) DocumentDeleted(entity string, id int64, doc map[string]any) {
	x.RemoveDocument(entity, id)
	x.flush()
}

// ApplyDocument replaces the node's outbound edges and properties with
// those derived from the current document version.
func (x *Index) ApplyDocument(entity string, id int64, doc map[string]any) {
	node := NodeRef{Entity: entity, ID: id}
	refs := x.reg.ReferencesOf(entity, doc)

	x.mu.Lock()
	defer x.mu.Unlock()

	x.dropOutEdges(node)
	// Adjacency is a set: a repeated value in a reference list yields one
	// edge, not two.
	seen := make(map[Edge]struct{}, len(refs))
	for _, ref := range refs {
		e := Edge{From: node, Label: LabelFor(ref.Field), To: NodeRef{Entity: ref.TargetEntity, ID: ref.TargetID}}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		x.out[node] = append(x.out[node], e)
		x.in[e.To] = insertEdge(x.in[e.To], e)
	}
	sortEdges(x.out[node])

	x.registerNode(node)
	if x.indexed {
		x.reindexProps(node, doc)
	}
}

// RemoveDocument removes the node and every edge touching it.
func (x *Index) RemoveDocument(entity string, id int64) {
	node := NodeRef{Entity: entity, ID: id}

	x.mu.Lock()
	defer x.mu.Unlock()

	x.dropOutEdges(node)
	// Inbound edges only linger when a referrer was removed outside the
	// cascade path; drop them from the sources' outbound lists too.
	for _, e := range x.in[node] {
		x.out[e.From] = removeEdgesTo(x.out[e.From], node)
	}
	delete(x.in, node)
	delete(x.out, node)

	x.byType[entity] = removeNode(x.byType[entity], node)
	if x.indexed {
		x.dropProps(node)
	}
}

// dropOutEdges detaches the node's outbound edges from both maps.
// Caller holds the write lock.
func (x *Index) dropOutEdges(node NodeRef) {
	for _, e := range x.out[node] {
		x.in[e.To] = removeEdgesFrom(x.in[e.To], node, e.Label)
	}
	x.out[node] = nil
}

func (x *Index) registerNode(node NodeRef) {
	nodes := x.byType[node.Entity]
	i := sort.Search(len(nodes), func(i int) bool { return nodes[i].ID >= node.ID })
	if i < len(nodes) && nodes[i] == node {
		return
	}
	nodes = append(nodes, NodeRef{})
	copy(nodes[i+1:], nodes[i:])
	nodes[i] = node
	x.byType[node.Entity] = nodes
}

// Out returns the node's outbound edges, label then target-id ascending.
func (x *Index) Out(node NodeRef) []Edge {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return append([]Edge(nil), x.out[node]...)
}

// In returns the node's inbound edges.
func (x *Index) In(node NodeRef) []Edge {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return append([]Edge(nil), x.in[node]...)
}

// HasNode reports whether the node is known to the index.
func (x *Index) HasNode(node NodeRef) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	nodes := x.byType[node.Entity]
	i := sort.Search(len(nodes), func(i int) bool { return nodes[i].ID >= node.ID })
	return i < len(nodes) && nodes[i] == node
}

// NodesOfEntity returns the known nodes of one entity, id ascending.
func (x *Index) NodesOfEntity(entity string) []NodeRef {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return append([]NodeRef(nil), x.byType[entity]...)
}

// Entities returns the entities with at least one node, sorted.
func (x *Index) Entities() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]string, 0, len(x.byType))
	for e, nodes := range x.byType {
		if len(nodes) > 0 {
			out = append(out, e)
		}
	}
	sort.Strings(out)
	return out
}

// ResolveID finds the nodes carrying a bare document id across entities.
func (x *Index) ResolveID(id int64) []NodeRef {
	x.mu.RLock()
	defer x.mu.RUnlock()
	var out []NodeRef
	for _, nodes := range x.byType {
		i := sort.Search(len(nodes), func(i int) bool { return nodes[i].ID >= id })
		if i < len(nodes) && nodes[i].ID == id {
			out = append(out, nodes[i])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entity < out[j].Entity })
	return out
}

// LookupProperty returns the nodes of an entity whose field equals value.
// Only served in indexed mode; ok is false otherwise.
func (x *Index) LookupProperty(entity, field string, value any) (nodes []NodeRef, ok bool) {
	if !x.indexed {
		return nil, false
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	fields, exists := x.props[entity]
	if !exists {
		return nil, true
	}
	return append([]NodeRef(nil), fields[field][propKey(value)]...), true
}

// Stats summarises the graph.
type Stats struct {
	NodeCount    int     `json:"node_count"`
	EdgeCount    int     `json:"edge_count"`
	AvgOutDegree float64 `json:"avg_out_degree"`
}

// Statistics counts nodes, edges and the average out-degree.
func (x *Index) Statistics() Stats {
	x.mu.RLock()
	defer x.mu.RUnlock()
	nodes := 0
	for _, ns := range x.byType {
		nodes += len(ns)
	}
	edges := 0
	for _, es := range x.out {
		edges += len(es)
	}
	s := Stats{NodeCount: nodes, EdgeCount: edges}
	if nodes > 0 {
		s.AvgOutDegree = float64(edges) / float64(nodes)
	}
	return s
}

// DocumentScanner is the slice of the store the index needs for rebuilds.
type DocumentScanner interface {
	Scan(entity string, fn func(doc map[string]any) bool) error
}

// Rebuild repopulates the index from a full document scan, then persists
// once in indexed mode.
func (x *Index) Rebuild(entities []string, src DocumentScanner) error {
	x.mu.Lock()
	x.out = make(map[NodeRef][]Edge)
	x.in = make(map[NodeRef][]Edge)
	x.byType = make(map[string][]NodeRef)
	x.props = make(map[string]map[string]map[string][]NodeRef)
	x.mu.Unlock()

	for _, entity := range entities {
		err := src.Scan(entity, func(doc map[string]any) bool {
			if id, ok := documentID(doc); ok {
				x.ApplyDocument(entity, id, doc)
			}
			return true
		})
		if err != nil {
			return err
		}
	}
	x.flush()
	x.log.Info("edge index rebuilt", zap.Int("nodes", x.Statistics().NodeCount))
	return nil
}

// reindexProps rewrites the property index entries of one node from its
// document, skipping REF fields. Caller holds the write lock.
func (x *Index) reindexProps(node NodeRef, doc map[string]any) {
	x.dropProps(node)
	es := x.reg.Schema(node.Entity)
	fields, ok := x.props[node.Entity]
	if !ok {
		fields = make(map[string]map[string][]NodeRef)
		x.props[node.Entity] = fields
	}
	for name, value := range doc {
		if name == "id" {
			continue
		}
		if es != nil {
			if f, declared := es[name]; declared && f.Type == schema.TypeRef {
				continue
			}
		}
		if _, isMap := value.(map[string]any); isMap {
			continue
		}
		if _, isList := value.([]any); isList {
			continue
		}
		values, ok := fields[name]
		if !ok {
			values = make(map[string][]NodeRef)
			fields[name] = values
		}
		key := propKey(value)
		values[key] = insertNode(values[key], node)
	}
}

func (x *Index) dropProps(node NodeRef) {
	fields := x.props[node.Entity]
	for name, values := range fields {
		for key, nodes := range values {
			trimmed := removeNode(nodes, node)
			if len(trimmed) == 0 {
				delete(values, key)
			} else {
				values[key] = trimmed
			}
		}
		if len(values) == 0 {
			delete(fields, name)
		}
	}
}

func (x *Index) flush() {
	if x.persist == nil {
		return
	}
	x.mu.RLock()
	snapshot := x.snapshotLocked()
	x.mu.RUnlock()
	if err := x.persist.write(snapshot); err != nil {
		x.log.Warn("persisting edge index failed", zap.Error(err))
	}
}

// propKey renders a property value for index lookup. Integers and their
// float equivalents collapse to the same key.
func propKey(v any) string {
	switch t := v.(type) {
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case string:
		return "s:" + t
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%v", t)
	}
}

func documentID(doc map[string]any) (int64, bool) {
	switch v := doc["id"].(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	}
	return 0, false
}

func sortEdges(es []Edge) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].Label != es[j].Label {
			return es[i].Label < es[j].Label
		}
		if es[i].To.Entity != es[j].To.Entity {
			return es[i].To.Entity < es[j].To.Entity
		}
		return es[i].To.ID < es[j].To.ID
	})
}

func insertEdge(es []Edge, e Edge) []Edge {
	es = append(es, e)
	sortEdges(es)
	return es
}

func removeEdgesFrom(es []Edge, from NodeRef, label string) []Edge {
	kept := es[:0]
	for _, e := range es {
		if e.From == from && e.Label == label {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

func removeEdgesTo(es []Edge, to NodeRef) []Edge {
	kept := es[:0]
	for _, e := range es {
		if e.To == to {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

func insertNode(nodes []NodeRef, n NodeRef) []NodeRef {
	i := sort.Search(len(nodes), func(i int) bool {
		if nodes[i].Entity != n.Entity {
			return nodes[i].Entity >= n.Entity
		}
		return nodes[i].ID >= n.ID
	})
	if i < len(nodes) && nodes[i] == n {
		return nodes
	}
	nodes = append(nodes, NodeRef{})
	copy(nodes[i+1:], nodes[i:])
	nodes[i] = n
	return nodes
}

func removeNode(nodes []NodeRef, n NodeRef) []NodeRef {
	kept := nodes[:0]
	for _, x := range nodes {
		if x == n {
			continue
		}
		kept = append(kept, x)
	}
	return kept
}
