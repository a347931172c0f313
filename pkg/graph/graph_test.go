package graph

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rserv-dev/rserv/pkg/resterr"
	"github.com/rserv-dev/rserv/pkg/schema"
)

func testSchemaRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.NewRegistry("default", map[string]schema.EntitySchema{
		"users": {
			"name":    {Type: schema.TypeString},
			"age":     {Type: schema.TypeInteger, Required: boolPtr(false)},
			"friends": {Type: schema.TypeRef, Entity: "users", Required: boolPtr(false)},
		},
	})
	require.NoError(t, err)
	return reg
}

func boolPtr(b bool) *bool { return &b }

func user(id int64, name string, friendIDs ...int64) map[string]any {
	doc := map[string]any{"id": id, "name": name}
	if len(friendIDs) > 0 {
		refs := make([]any, len(friendIDs))
		for i, f := range friendIDs {
			refs[i] = map[string]any{"id": f}
		}
		doc["friends"] = refs
	}
	return doc
}

func chainIndex(t *testing.T) *Index {
	t.Helper()
	x := NewIndex(Options{Registry: testSchemaRegistry(t)})
	x.ApplyDocument("users", 1, user(1, "alice", 2))
	x.ApplyDocument("users", 2, user(2, "bob", 3))
	x.ApplyDocument("users", 3, user(3, "carol", 4))
	x.ApplyDocument("users", 4, user(4, "dave"))
	return x
}

func TestApplyDocumentBuildsBidirectionalEdges(t *testing.T) {
	x := chainIndex(t)

	out := x.Out(NodeRef{"users", 1})
	require.Len(t, out, 1)
	assert.Equal(t, "FRIENDS", out[0].Label)
	assert.Equal(t, NodeRef{"users", 2}, out[0].To)

	in := x.In(NodeRef{"users", 2})
	require.Len(t, in, 1)
	assert.Equal(t, NodeRef{"users", 1}, in[0].From)
}

func TestApplyDocumentReplacesStaleEdges(t *testing.T) {
	x := chainIndex(t)

	// Rewrite 1's friends from {2} to {3}: the old edge must vanish.
	x.ApplyDocument("users", 1, user(1, "alice", 3))

	assert.Empty(t, x.In(NodeRef{"users", 2}))
	out := x.Out(NodeRef{"users", 1})
	require.Len(t, out, 1)
	assert.Equal(t, NodeRef{"users", 3}, out[0].To)
}

func TestRemoveDocumentDropsBothSides(t *testing.T) {
	x := chainIndex(t)

	x.RemoveDocument("users", 2)

	assert.Empty(t, x.Out(NodeRef{"users", 1}), "outbound edge into removed node is gone")
	assert.Empty(t, x.In(NodeRef{"users", 3}), "edge from removed node is gone")
	assert.False(t, x.HasNode(NodeRef{"users", 2}))
}

func TestAdjacencyOrderIsDeterministic(t *testing.T) {
	x := NewIndex(Options{Registry: testSchemaRegistry(t)})
	x.ApplyDocument("users", 1, user(1, "alice", 9, 3, 7))

	out := x.Out(NodeRef{"users", 1})
	require.Len(t, out, 3)
	assert.Equal(t, int64(3), out[0].To.ID)
	assert.Equal(t, int64(7), out[1].To.ID)
	assert.Equal(t, int64(9), out[2].To.ID)
}

func TestApplyDocumentDeduplicatesRepeatedRefs(t *testing.T) {
	x := NewIndex(Options{Registry: testSchemaRegistry(t)})
	x.ApplyDocument("users", 1, user(1, "alice", 2, 2, 3, 2))
	x.ApplyDocument("users", 2, user(2, "bob"))
	x.ApplyDocument("users", 3, user(3, "carol"))

	out := x.Out(NodeRef{"users", 1})
	require.Len(t, out, 2, "repeated list values collapse to one edge")
	assert.Equal(t, int64(2), out[0].To.ID)
	assert.Equal(t, int64(3), out[1].To.ID)

	assert.Len(t, x.In(NodeRef{"users", 2}), 1)
	assert.Equal(t, 2, x.Degree(NodeRef{"users", 1}, DirectionOut))
	assert.Equal(t, 2, x.Statistics().EdgeCount)
}

func TestRelationshipTypes(t *testing.T) {
	reg, err := schema.NewRegistry("default", map[string]schema.EntitySchema{
		"users": {
			"name":    {Type: schema.TypeString},
			"friends": {Type: schema.TypeRef, Entity: "users", Required: boolPtr(false)},
			"boss":    {Type: schema.TypeRef, Entity: "users", Required: boolPtr(false)},
		},
	})
	require.NoError(t, err)
	x := NewIndex(Options{Registry: reg})
	x.ApplyDocument("users", 1, map[string]any{
		"id": int64(1), "name": "a",
		"friends": []any{map[string]any{"id": int64(2)}},
		"boss":    map[string]any{"id": int64(3)},
	})
	x.ApplyDocument("users", 2, map[string]any{
		"id": int64(2), "name": "b",
		"friends": []any{map[string]any{"id": int64(1)}},
	})
	x.ApplyDocument("users", 3, map[string]any{"id": int64(3), "name": "c"})

	assert.Equal(t, []string{"BOSS", "FRIENDS"}, x.RelationshipTypes(NodeRef{"users", 1}, DirectionOut))
	assert.Equal(t, []string{"FRIENDS"}, x.RelationshipTypes(NodeRef{"users", 1}, DirectionIn))
	assert.Equal(t, []string{"BOSS", "FRIENDS"}, x.RelationshipTypes(NodeRef{"users", 1}, DirectionAll))
	assert.Empty(t, x.RelationshipTypes(NodeRef{"users", 3}, DirectionOut))
}

func TestSubgraphDepthBounds(t *testing.T) {
	x := chainIndex(t)

	nodes, edges := x.Subgraph(NodeRef{"users", 2}, 1)
	require.Len(t, nodes, 3, "depth 1 reaches both chain neighbours")
	assert.Equal(t, []NodeRef{{"users", 1}, {"users", 2}, {"users", 3}}, nodes)
	require.Len(t, edges, 2, "only edges between member nodes are kept")
	assert.Equal(t, NodeRef{"users", 1}, edges[0].From)
	assert.Equal(t, NodeRef{"users", 2}, edges[1].From)

	nodes, edges = x.Subgraph(NodeRef{"users", 1}, 3)
	assert.Len(t, nodes, 4)
	assert.Len(t, edges, 3)

	nodes, edges = x.Subgraph(NodeRef{"users", 4}, 0)
	assert.Equal(t, []NodeRef{{"users", 4}}, nodes)
	assert.Empty(t, edges, "the inbound edge's source is outside the set")
}

func TestShortestPathChain(t *testing.T) {
	x := chainIndex(t)

	path, ok := x.ShortestPath(NodeRef{"users", 1}, NodeRef{"users", 4}, 10)
	require.True(t, ok)
	require.Len(t, path, 4)
	for i, want := range []int64{1, 2, 3, 4} {
		assert.Equal(t, want, path[i].ID)
	}

	_, ok = x.ShortestPath(NodeRef{"users", 1}, NodeRef{"users", 4}, 2)
	assert.False(t, ok, "path of 3 hops must not fit in depth 2")
}

func TestShortestPathIsUndirected(t *testing.T) {
	x := chainIndex(t)

	path, ok := x.ShortestPath(NodeRef{"users", 4}, NodeRef{"users", 1}, 10)
	require.True(t, ok)
	assert.Len(t, path, 4)
}

func TestShortestPathDepthZero(t *testing.T) {
	x := chainIndex(t)

	path, ok := x.ShortestPath(NodeRef{"users", 1}, NodeRef{"users", 1}, 0)
	require.True(t, ok)
	assert.Equal(t, []NodeRef{{"users", 1}}, path)

	_, ok = x.ShortestPath(NodeRef{"users", 1}, NodeRef{"users", 2}, 0)
	assert.False(t, ok)
}

func TestPathExistsMatchesShortestPath(t *testing.T) {
	x := chainIndex(t)

	assert.True(t, x.PathExists(NodeRef{"users", 1}, NodeRef{"users", 4}, 3))
	assert.False(t, x.PathExists(NodeRef{"users", 1}, NodeRef{"users", 4}, 2))
}

func TestDegreeDirections(t *testing.T) {
	// Star: 1->2, 1->3, 4->1.
	x := NewIndex(Options{Registry: testSchemaRegistry(t)})
	x.ApplyDocument("users", 1, user(1, "hub", 2, 3))
	x.ApplyDocument("users", 2, user(2, "a"))
	x.ApplyDocument("users", 3, user(3, "b"))
	x.ApplyDocument("users", 4, user(4, "c", 1))

	hub := NodeRef{"users", 1}
	assert.Equal(t, 2, x.Degree(hub, DirectionOut))
	assert.Equal(t, 1, x.Degree(hub, DirectionIn))
	assert.Equal(t, 3, x.Degree(hub, DirectionAll))
}

func TestCommonNeighbors(t *testing.T) {
	x := NewIndex(Options{Registry: testSchemaRegistry(t)})
	x.ApplyDocument("users", 1, user(1, "a", 3, 4))
	x.ApplyDocument("users", 2, user(2, "b", 4, 5))
	x.ApplyDocument("users", 3, user(3, "c"))
	x.ApplyDocument("users", 4, user(4, "d"))
	x.ApplyDocument("users", 5, user(5, "e"))

	common := x.CommonNeighbors(NodeRef{"users", 1}, NodeRef{"users", 2})
	require.Len(t, common, 1)
	assert.Equal(t, int64(4), common[0].ID)
}

func TestNeighborhoodAggregate(t *testing.T) {
	x := NewIndex(Options{Registry: testSchemaRegistry(t)})
	docs := map[NodeRef]map[string]any{
		{"users", 1}: {"id": int64(1), "name": "a"},
		{"users", 2}: {"id": int64(2), "name": "b", "age": int64(30)},
		{"users", 3}: {"id": int64(3), "name": "c", "age": int64(40)},
		{"users", 4}: {"id": int64(4), "name": "d"}, // no age
	}
	x.ApplyDocument("users", 1, user(1, "a", 2))
	x.ApplyDocument("users", 2, user(2, "b", 3))
	x.ApplyDocument("users", 3, user(3, "c", 4))
	x.ApplyDocument("users", 4, user(4, "d"))
	get := func(n NodeRef) (map[string]any, error) {
		if d, ok := docs[n]; ok {
			return d, nil
		}
		return nil, resterr.NotFound("missing")
	}
	seed := NodeRef{"users", 1}

	sum, err := x.NeighborhoodAggregate(seed, 2, "age", AggSum, get)
	require.NoError(t, err)
	assert.Equal(t, 70.0, sum)

	avg, err := x.NeighborhoodAggregate(seed, 2, "age", AggAvg, get)
	require.NoError(t, err)
	assert.Equal(t, 35.0, avg)

	count, err := x.NeighborhoodAggregate(seed, 3, "age", AggCount, get)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count, "node 4 has no age and is skipped")

	empty, err := x.NeighborhoodAggregate(seed, 0, "age", AggCount, get)
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty, "depth 0 excludes the seed")
}

func TestNeighborhoodAggregateRejectsNonNumeric(t *testing.T) {
	x := chainIndex(t)
	get := func(n NodeRef) (map[string]any, error) {
		return map[string]any{"id": n.ID, "name": "x"}, nil
	}

	_, err := x.NeighborhoodAggregate(NodeRef{"users", 1}, 1, "name", AggSum, get)
	assert.True(t, resterr.IsKind(err, resterr.KindValidation))
}

func TestStatistics(t *testing.T) {
	x := chainIndex(t)

	s := x.Statistics()
	assert.Equal(t, 4, s.NodeCount)
	assert.Equal(t, 3, s.EdgeCount)
	assert.InDelta(t, 0.75, s.AvgOutDegree, 1e-9)
}

func TestTypeMatchesEntity(t *testing.T) {
	assert.True(t, TypeMatchesEntity("User", "users"))
	assert.True(t, TypeMatchesEntity("Users", "users"))
	assert.True(t, TypeMatchesEntity("user", "users"))
	assert.True(t, TypeMatchesEntity("users", "users"))
	assert.False(t, TypeMatchesEntity("Post", "users"))
}

func TestParseNodeRef(t *testing.T) {
	n, err := ParseNodeRef("users:7")
	require.NoError(t, err)
	assert.Equal(t, NodeRef{"users", 7}, n)

	n, err = ParseNodeRef("7")
	require.NoError(t, err)
	assert.Equal(t, NodeRef{ID: 7}, n)

	_, err = ParseNodeRef("users:zero")
	assert.True(t, resterr.IsKind(err, resterr.KindValidation))
}

func TestResolveID(t *testing.T) {
	x := chainIndex(t)

	refs := x.ResolveID(2)
	require.Len(t, refs, 1)
	assert.Equal(t, NodeRef{"users", 2}, refs[0])
	assert.Empty(t, x.ResolveID(99))
}

func TestPersistAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.index")
	reg := testSchemaRegistry(t)

	x := NewIndex(Options{Registry: reg, Indexed: true, Path: path})
	x.ApplyDocument("users", 1, map[string]any{"id": int64(1), "name": "alice", "age": int64(30), "friends": []any{map[string]any{"id": int64(2)}}})
	x.ApplyDocument("users", 2, map[string]any{"id": int64(2), "name": "bob"})
	x.flush()

	restored := NewIndex(Options{Registry: reg, Indexed: true, Path: path})
	ok, err := restored.Load()
	require.NoError(t, err)
	require.True(t, ok)

	out := restored.Out(NodeRef{"users", 1})
	require.Len(t, out, 1)
	assert.Equal(t, NodeRef{"users", 2}, out[0].To)
	assert.Equal(t, 2, restored.Statistics().NodeCount)

	nodes, served := restored.LookupProperty("users", "name", "alice")
	require.True(t, served)
	require.Len(t, nodes, 1)
	assert.Equal(t, int64(1), nodes[0].ID)
}

func TestLoadRejectsTamperedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.index")
	reg := testSchemaRegistry(t)

	x := NewIndex(Options{Registry: reg, Indexed: true, Path: path})
	x.ApplyDocument("users", 1, user(1, "alice", 2))
	x.flush()

	tampered := NewIndex(Options{Registry: reg, Indexed: true, Path: path})
	corruptIndexFile(t, path)
	ok, err := tampered.Load()
	require.NoError(t, err)
	assert.False(t, ok, "checksum mismatch must force a rebuild")
}

// corruptIndexFile flips a byte inside the stored payload so the checksum
// no longer matches.
func corruptIndexFile(t *testing.T, path string) {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	i := bytes.Index(raw, []byte(`"payload"`))
	require.Greater(t, i, 0)
	raw[i+len(raw[i:])/2] ^= 0x01
	require.NoError(t, os.WriteFile(path, raw, 0o644))
}

func TestLookupPropertyDisabledInMemoryMode(t *testing.T) {
	x := chainIndex(t)
	_, served := x.LookupProperty("users", "name", "alice")
	assert.False(t, served)
}
