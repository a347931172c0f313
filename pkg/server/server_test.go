package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rserv-dev/rserv/pkg/config"
)

var testSchemas = map[string]string{
	"users": `{
		"name":      {"type": "string"},
		"age":       {"type": "integer", "required": false},
		"friend_id": {"type": "REF", "entity": "users", "required": false}
	}`,
	"posts": `{
		"title":     {"type": "string"},
		"author_id": {"type": "REF", "entity": "users", "required": false}
	}`,
}

type testEnv struct {
	t   *testing.T
	srv *Server
	ts  *httptest.Server
}

func newEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	root := t.TempDir()
	schemaDir := filepath.Join(root, "schema")
	writeSchemaFiles(t, schemaDir)

	cfg := config.Config{
		Host:             "127.0.0.1",
		Port:             9090,
		DataDir:          filepath.Join(root, "data"),
		SchemaDir:        schemaDir,
		Schema:           "default",
		PatchNull:        config.PatchNullStore,
		DefaultPageSize:  10,
		RefEmbedDepth:    3,
		CacheType:        config.CacheTTL,
		CacheTTL:         time.Minute,
		GraphEnabled:     true,
		GraphMode:        config.GraphMemory,
		MaxQueryDepth:    10,
		QueryWorkerCount: 2,
		QueryTimeout:     5 * time.Second,
		ResultTTL:        time.Minute,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	srv, err := New(cfg, zap.NewNop())
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Shutdown(context.Background())
	})
	return &testEnv{t: t, srv: srv, ts: ts}
}

func writeSchemaFiles(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "default"), 0o755))
	for entity, body := range testSchemas {
		path := filepath.Join(dir, "default", entity+".json")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
}

func (e *testEnv) request(method, path string, body any) (int, map[string]any) {
	e.t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(e.t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rdr)
	require.NoError(e.t, err)
	resp, err := e.ts.Client().Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(e.t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func data(env map[string]any) map[string]any {
	d, _ := env["data"].(map[string]any)
	return d
}

func errBody(env map[string]any) map[string]any {
	d, _ := env["error"].(map[string]any)
	return d
}

func (e *testEnv) createUser(name string, extra map[string]any) int64 {
	e.t.Helper()
	body := map[string]any{"name": name}
	for k, v := range extra {
		body[k] = v
	}
	code, env := e.request(http.MethodPost, "/api/v1/users", body)
	require.Equal(e.t, http.StatusCreated, code)
	return int64(data(env)["id"].(float64))
}

func TestCreateAndGet(t *testing.T) {
	e := newEnv(t, nil)

	code, env := e.request(http.MethodPost, "/api/v1/users", map[string]any{"name": "alice", "age": 30})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, float64(1), data(env)["id"])
	assert.Contains(t, env, "_links")

	code, env = e.request(http.MethodGet, "/api/v1/users/1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alice", data(env)["name"])
	assert.Equal(t, float64(30), data(env)["age"])
}

func TestCreateValidationError(t *testing.T) {
	e := newEnv(t, nil)

	code, env := e.request(http.MethodPost, "/api/v1/users", map[string]any{"age": 30})
	require.Equal(t, http.StatusBadRequest, code)
	body := errBody(env)
	assert.Equal(t, float64(http.StatusBadRequest), body["status_code"])
	assert.Contains(t, fmt.Sprint(body["details"]), "missing required field: name")
}

func TestSaveConflict(t *testing.T) {
	e := newEnv(t, nil)

	code, _ := e.request(http.MethodPost, "/api/v1/users/save/5", map[string]any{"name": "alice"})
	require.Equal(t, http.StatusCreated, code)

	code, _ = e.request(http.MethodPost, "/api/v1/users/save/5", map[string]any{"name": "bob"})
	assert.Equal(t, http.StatusConflict, code)
}

func TestGetMissing(t *testing.T) {
	e := newEnv(t, nil)
	code, _ := e.request(http.MethodGet, "/api/v1/users/99", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestReplace(t *testing.T) {
	e := newEnv(t, nil)
	e.createUser("alice", map[string]any{"age": 30})

	code, env := e.request(http.MethodPut, "/api/v1/users/1", map[string]any{"name": "alicia"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alicia", data(env)["name"])
	_, hasAge := data(env)["age"]
	assert.False(t, hasAge, "replace drops fields absent from the new body")
}

func TestPatchMergeAndNullStore(t *testing.T) {
	e := newEnv(t, nil) // patch_null=store

	e.createUser("alice", map[string]any{"age": 30})
	code, env := e.request(http.MethodPatch, "/api/v1/users/1", map[string]any{"age": 31})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alice", data(env)["name"])
	assert.Equal(t, float64(31), data(env)["age"])

	code, env = e.request(http.MethodPatch, "/api/v1/users/1", map[string]any{"age": nil})
	require.Equal(t, http.StatusOK, code)
	age, present := data(env)["age"]
	assert.True(t, present, "store policy keeps the null")
	assert.Nil(t, age)
}

func TestPatchNullDelete(t *testing.T) {
	e := newEnv(t, func(c *config.Config) { c.PatchNull = config.PatchNullDelete })

	e.createUser("alice", map[string]any{"age": 30})
	code, env := e.request(http.MethodPatch, "/api/v1/users/1", map[string]any{"age": nil})
	require.Equal(t, http.StatusOK, code)
	_, present := data(env)["age"]
	assert.False(t, present, "delete policy removes the field")
}

func TestDeleteBlockedThenCascade(t *testing.T) {
	e := newEnv(t, nil)

	e.createUser("alice", nil)
	for i := 0; i < 3; i++ {
		code, _ := e.request(http.MethodPost, "/api/v1/posts",
			map[string]any{"title": fmt.Sprintf("post %d", i), "author_id": 1})
		require.Equal(t, http.StatusCreated, code)
	}

	code, env := e.request(http.MethodGet, "/api/v1/graph/statistics", nil)
	require.Equal(t, http.StatusOK, code)
	before := data(env)["edge_count"].(float64)
	assert.Equal(t, float64(3), before)

	code, _ = e.request(http.MethodDelete, "/api/v1/users/1", nil)
	assert.Equal(t, http.StatusConflict, code, "referenced document cannot be deleted without cascade")

	code, env = e.request(http.MethodDelete, "/api/v1/users/1?cascade=true", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "users:1", data(env)["deleted"])
	cascaded := data(env)["cascaded_deletes"].([]any)
	assert.Len(t, cascaded, 3)

	code, _ = e.request(http.MethodGet, "/api/v1/posts/1", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, env = e.request(http.MethodGet, "/api/v1/graph/statistics", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), data(env)["edge_count"])
	assert.Equal(t, float64(0), data(env)["node_count"])
}

func TestListPaginationAndSort(t *testing.T) {
	e := newEnv(t, nil)
	ages := []int{50, 20, 40, 10, 30}
	for i, age := range ages {
		e.createUser(fmt.Sprintf("user%d", i), map[string]any{"age": age})
	}

	code, env := e.request(http.MethodGet, "/api/v1/users/list?per_page=2&page=2&sort=age:desc", nil)
	require.Equal(t, http.StatusOK, code)
	d := data(env)
	assert.Equal(t, float64(5), d["total"])
	assert.Equal(t, float64(3), d["total_pages"])
	items := d["items"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, float64(30), items[0].(map[string]any)["age"])
	assert.Equal(t, float64(20), items[1].(map[string]any)["age"])
}

func TestListCachedPageEvictedByWrite(t *testing.T) {
	e := newEnv(t, nil)
	e.createUser("alice", nil)

	code, env := e.request(http.MethodGet, "/api/v1/users/list", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, float64(1), data(env)["total"])

	e.createUser("bob", nil)
	code, env = e.request(http.MethodGet, "/api/v1/users/list", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), data(env)["total"], "write must evict the cached page")
}

func TestLookupEmbedding(t *testing.T) {
	e := newEnv(t, nil)
	e.createUser("alice", nil)
	e.createUser("bob", map[string]any{
		"friend_id": map[string]any{"type": "REF", "entity": "users", "id": 1},
	})

	// The long REF form is normalised to {"id": n} on store.
	code, env := e.request(http.MethodGet, "/api/v1/users/2", nil)
	require.Equal(t, http.StatusOK, code)
	ref, ok := data(env)["friend_id"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"id": float64(1)}, ref)

	code, env = e.request(http.MethodGet, "/api/v1/users/2?lookup=friend_id", nil)
	require.Equal(t, http.StatusOK, code)
	friend, ok := data(env)["friend_id"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "alice", friend["name"])
}

func TestLookupEmbeddingScalarRef(t *testing.T) {
	e := newEnv(t, nil)
	e.createUser("alice", nil)
	e.createUser("bob", map[string]any{"friend_id": 1})

	code, env := e.request(http.MethodGet, "/api/v1/users/2?lookup=friend_id", nil)
	require.Equal(t, http.StatusOK, code)
	friend, ok := data(env)["friend_id"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "alice", friend["name"])
}

func chainOfFriends(e *testEnv, n int) {
	e.createUser("user1", nil)
	for i := 2; i <= n; i++ {
		e.createUser(fmt.Sprintf("user%d", i), map[string]any{"friend_id": i - 1})
	}
}

func TestShortestPath(t *testing.T) {
	e := newEnv(t, nil)
	chainOfFriends(e, 4)

	code, env := e.request(http.MethodPost, "/api/v1/graph/shortestPath",
		map[string]any{"start": "users:4", "end": "users:1"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{float64(4), float64(3), float64(2), float64(1)}, data(env)["path"])
	assert.Equal(t, float64(3), data(env)["length"])

	// Bare integer ids resolve when unambiguous; traversal is undirected.
	code, env = e.request(http.MethodPost, "/api/v1/graph/shortestPath",
		map[string]any{"start": 1, "end": 4})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{float64(1), float64(2), float64(3), float64(4)}, data(env)["path"])

	depth := 1
	code, _ = e.request(http.MethodPost, "/api/v1/graph/shortestPath",
		map[string]any{"start": "users:4", "end": "users:1", "max_depth": depth})
	assert.Equal(t, http.StatusNotFound, code, "path longer than max_depth is not found")
}

func TestPathExists(t *testing.T) {
	e := newEnv(t, nil)
	chainOfFriends(e, 3)
	e.createUser("loner", nil)

	code, env := e.request(http.MethodPost, "/api/v1/graph/pathExists",
		map[string]any{"start": "users:1", "end": "users:3"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, data(env)["exists"])

	code, env = e.request(http.MethodPost, "/api/v1/graph/pathExists",
		map[string]any{"start": "users:1", "end": "users:4"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, data(env)["exists"])
}

func TestCommonNeighbors(t *testing.T) {
	e := newEnv(t, nil)
	e.createUser("hub", nil)
	e.createUser("a", map[string]any{"friend_id": 1})
	e.createUser("b", map[string]any{"friend_id": 1})

	code, env := e.request(http.MethodPost, "/api/v1/graph/commonNeighbors",
		map[string]any{"a": "users:2", "b": "users:3"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"users:1"}, data(env)["neighbors"])
}

func TestNodeViewAndEdges(t *testing.T) {
	e := newEnv(t, nil)
	chainOfFriends(e, 2)

	// Bare id resolves when unambiguous across entities.
	code, env := e.request(http.MethodGet, "/api/v1/graph/nodes/2", nil)
	require.Equal(t, http.StatusOK, code)
	d := data(env)
	assert.Equal(t, "users:2", d["node"])
	assert.Equal(t, "users", d["type"])
	props := d["properties"].(map[string]any)
	assert.Equal(t, "user2", props["name"])
	_, hasRef := props["friend_id"]
	assert.False(t, hasRef, "declared REF fields are edges, not properties")
	assert.Equal(t, float64(1), d["out_degree"])
	assert.Equal(t, float64(0), d["in_degree"])

	code, env = e.request(http.MethodGet, "/api/v1/graph/users:2/out", nil)
	require.Equal(t, http.StatusOK, code)
	edges := data(env)["edges"].([]any)
	require.Len(t, edges, 1)
	edge := edges[0].(map[string]any)
	assert.Equal(t, "users:2", edge["from"])
	assert.Equal(t, "FRIEND_ID", edge["label"])
	assert.Equal(t, "users:1", edge["to"])

	code, env = e.request(http.MethodGet, "/api/v1/graph/users:1/in", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, data(env)["edges"].([]any), 1)
}

func TestDegreeDirections(t *testing.T) {
	e := newEnv(t, nil)
	e.createUser("hub", nil)
	e.createUser("a", map[string]any{"friend_id": 1})
	e.createUser("b", map[string]any{"friend_id": 1})

	code, env := e.request(http.MethodGet, "/api/v1/graph/nodes/users:1/degree?direction=in", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), data(env)["degree"])

	code, env = e.request(http.MethodGet, "/api/v1/graph/nodes/users:1/degree?direction=out", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), data(env)["degree"])

	code, env = e.request(http.MethodGet, "/api/v1/graph/nodes/users:2/degree?direction=out", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), data(env)["degree"])

	code, env = e.request(http.MethodGet, "/api/v1/graph/nodes/users:1/degree", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "all", data(env)["direction"])
	assert.Equal(t, float64(2), data(env)["degree"])
}

func TestNeighborhoodAggregate(t *testing.T) {
	e := newEnv(t, nil)
	e.createUser("hub", map[string]any{"age": 99})
	e.createUser("a", map[string]any{"friend_id": 1, "age": 30})
	e.createUser("b", map[string]any{"friend_id": 1, "age": 40})

	code, env := e.request(http.MethodPost, "/api/v1/graph/nodes/neighborhoodAggregate",
		map[string]any{"node": "users:1", "depth": 1, "property": "age", "aggregation": "sum"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(70), data(env)["value"], "seed is excluded from its own neighborhood")
}

func TestNodeSearch(t *testing.T) {
	e := newEnv(t, nil)
	e.createUser("alice", map[string]any{"age": 30})
	e.createUser("bob", map[string]any{"age": 30})
	e.createUser("carol", map[string]any{"age": 40})

	code, env := e.request(http.MethodPost, "/api/v1/graph/nodes/search",
		map[string]any{"age": 30})
	require.Equal(t, http.StatusOK, code)
	nodes := data(env)["nodes"].([]any)
	require.Len(t, nodes, 2)
	first := nodes[0].(map[string]any)
	assert.Equal(t, "users:1", first["node"])
	assert.Equal(t, "users", first["type"])
	assert.Equal(t, "alice", first["properties"].(map[string]any)["name"])

	// Every criterion must match.
	code, env = e.request(http.MethodPost, "/api/v1/graph/nodes/search",
		map[string]any{"age": 30, "name": "bob"})
	require.Equal(t, http.StatusOK, code)
	nodes = data(env)["nodes"].([]any)
	require.Len(t, nodes, 1)
	assert.Equal(t, "users:2", nodes[0].(map[string]any)["node"])

	code, env = e.request(http.MethodPost, "/api/v1/graph/nodes/search",
		map[string]any{"age": 99})
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, data(env)["nodes"])

	code, _ = e.request(http.MethodPost, "/api/v1/graph/nodes/search", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestNodeRelationshipTypes(t *testing.T) {
	e := newEnv(t, nil)
	e.createUser("alice", nil)
	e.createUser("bob", map[string]any{"friend_id": 1})
	code, _ := e.request(http.MethodPost, "/api/v1/posts",
		map[string]any{"title": "hello", "author_id": 1})
	require.Equal(t, http.StatusCreated, code)

	code, env := e.request(http.MethodGet, "/api/v1/graph/nodes/users:1/relationships", nil)
	require.Equal(t, http.StatusOK, code)
	d := data(env)
	assert.Equal(t, "all", d["direction"])
	assert.Equal(t, []any{"AUTHOR_ID", "FRIEND_ID"}, d["types"])

	code, env = e.request(http.MethodGet, "/api/v1/graph/nodes/users:1/relationships?direction=out", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, data(env)["types"])

	code, env = e.request(http.MethodGet, "/api/v1/graph/nodes/users:2/relationships?direction=out", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"FRIEND_ID"}, data(env)["types"])

	code, _ = e.request(http.MethodGet, "/api/v1/graph/nodes/users:1/relationships?direction=sideways", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSubgraph(t *testing.T) {
	e := newEnv(t, nil)
	chainOfFriends(e, 4)

	// Depth defaults to 1: the chain neighbours of users:2 on both sides.
	code, env := e.request(http.MethodPost, "/api/v1/graph/subgraph",
		map[string]any{"node": "users:2"})
	require.Equal(t, http.StatusOK, code)
	d := data(env)
	assert.Equal(t, "users:2", d["center"])
	assert.Equal(t, float64(1), d["depth"])
	assert.Equal(t, []any{"users:1", "users:2", "users:3"}, d["nodes"])
	rels := d["relationships"].([]any)
	require.Len(t, rels, 2, "the edge leaving the member set is excluded")
	first := rels[0].(map[string]any)
	assert.Equal(t, "users:2", first["from"])
	assert.Equal(t, "FRIEND_ID", first["label"])
	assert.Equal(t, "users:1", first["to"])

	code, env = e.request(http.MethodPost, "/api/v1/graph/subgraph",
		map[string]any{"node": "users:1", "depth": 3})
	require.Equal(t, http.StatusOK, code)
	d = data(env)
	assert.Len(t, d["nodes"].([]any), 4)
	assert.Len(t, d["relationships"].([]any), 3)

	code, _ = e.request(http.MethodPost, "/api/v1/graph/subgraph",
		map[string]any{"node": "users:99"})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = e.request(http.MethodPost, "/api/v1/graph/subgraph",
		map[string]any{"node": "users:1", "depth": 0})
	assert.Equal(t, http.StatusBadRequest, code)
}

func (e *testEnv) waitQuery(id string) map[string]any {
	e.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		code, env := e.request(http.MethodGet, "/api/v1/graph/query/"+id, nil)
		require.Equal(e.t, http.StatusOK, code)
		status := data(env)["status"].(string)
		if status == "completed" || status == "failed" {
			return data(env)
		}
		time.Sleep(10 * time.Millisecond)
	}
	e.t.Fatalf("query %s did not finish", id)
	return nil
}

func TestAsyncQueryLifecycle(t *testing.T) {
	e := newEnv(t, nil)
	chainOfFriends(e, 3)

	code, env := e.request(http.MethodPost, "/api/v1/graph/query",
		map[string]any{"query": "MATCH (u:users) RETURN u.name ORDER BY u.name"})
	require.Equal(t, http.StatusAccepted, code)
	id := data(env)["query_id"].(string)
	require.NotEmpty(t, id)

	status := e.waitQuery(id)
	require.Equal(t, "completed", status["status"])
	assert.Contains(t, status, "finished_at")

	code, env = e.request(http.MethodGet, "/api/v1/graph/query/"+id+"/result", nil)
	require.Equal(t, http.StatusOK, code)
	rows := data(env)["results"].([]any)
	require.Len(t, rows, 3)
	assert.Equal(t, "user1", rows[0].(map[string]any)["u.name"])

	// Same query modulo case and whitespace hits the result cache.
	code, env = e.request(http.MethodPost, "/api/v1/graph/query",
		map[string]any{"query": "match  (u:users)  return u.name order by u.name"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, data(env)["cached"])

	// Any write invalidates cached results.
	e.createUser("user4", nil)
	code, _ = e.request(http.MethodPost, "/api/v1/graph/query",
		map[string]any{"query": "MATCH (u:users) RETURN u.name ORDER BY u.name"})
	assert.Equal(t, http.StatusAccepted, code)
}

func TestQuerySyntaxErrorAtSubmit(t *testing.T) {
	e := newEnv(t, nil)

	code, env := e.request(http.MethodPost, "/api/v1/graph/query",
		map[string]any{"query": "MATCH (u:users RETURN u"})
	require.Equal(t, http.StatusBadRequest, code)
	assert.NotEmpty(t, errBody(env)["message"])
}

func TestFailedQueryResult(t *testing.T) {
	e := newEnv(t, nil)
	e.createUser("alice", nil)

	code, env := e.request(http.MethodPost, "/api/v1/graph/query",
		map[string]any{"query": "MATCH (u:users) RETURN v.name"})
	require.Equal(t, http.StatusAccepted, code)
	id := data(env)["query_id"].(string)

	status := e.waitQuery(id)
	require.Equal(t, "failed", status["status"])

	code, env = e.request(http.MethodGet, "/api/v1/graph/query/"+id+"/result", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.NotEmpty(t, errBody(env)["message"])
}

func TestQueryResultBeforeCompletion(t *testing.T) {
	e := newEnv(t, nil)
	code, _ := e.request(http.MethodGet, "/api/v1/graph/query/nope/result", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestFulltextSearch(t *testing.T) {
	e := newEnv(t, func(c *config.Config) { c.FulltextEnabled = true })
	e.createUser("Alice Smith", nil)
	e.createUser("Bob Smith", nil)

	code, env := e.request(http.MethodGet, "/api/v1/users/search?query=alice", nil)
	require.Equal(t, http.StatusOK, code)
	items := data(env)["items"].([]any)
	require.Len(t, items, 1)
	hit := items[0].(map[string]any)
	assert.Equal(t, float64(1), hit["id"])
	assert.Equal(t, "Alice Smith", hit["document"].(map[string]any)["name"])

	code, env = e.request(http.MethodGet, "/api/v1/search?query=smith", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, data(env)["items"].([]any), 2)

	code, env = e.request(http.MethodPost, "/api/v1/search",
		map[string]any{"query": "smith", "limit": 1})
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, data(env)["items"].([]any), 1)
	assert.Equal(t, float64(2), data(env)["total"])
}

func TestSearchDisabled(t *testing.T) {
	e := newEnv(t, nil)
	code, _ := e.request(http.MethodGet, "/api/v1/users/search?query=x", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAmbiguousBareNodeRef(t *testing.T) {
	e := newEnv(t, nil)
	e.createUser("alice", nil)
	code, _ := e.request(http.MethodPost, "/api/v1/posts", map[string]any{"title": "hi", "author_id": 1})
	require.Equal(t, http.StatusCreated, code)

	code, _ = e.request(http.MethodGet, "/api/v1/graph/nodes/1", nil)
	assert.Equal(t, http.StatusBadRequest, code, "id 1 exists in users and posts")
}

func TestInvalidEntityName(t *testing.T) {
	e := newEnv(t, nil)
	code, _ := e.request(http.MethodGet, "/api/v1/bad-name/list", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}
