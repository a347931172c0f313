package server

import (
	"context"

	"github.com/rserv-dev/rserv/pkg/graph"
	"github.com/rserv-dev/rserv/pkg/storage"
)

// querySource adapts the edge index and the document store to the query
// executor's view of the world.
type querySource struct {
	idx   *graph.Index
	store *storage.Store
}

func (q *querySource) Entities() []string { return q.idx.Entities() }

func (q *querySource) NodesOfEntity(entity string) []graph.NodeRef {
	return q.idx.NodesOfEntity(entity)
}

func (q *querySource) Out(node graph.NodeRef) []graph.Edge { return q.idx.Out(node) }

func (q *querySource) LookupProperty(entity, field string, value any) ([]graph.NodeRef, bool) {
	return q.idx.LookupProperty(entity, field, value)
}

func (q *querySource) Document(node graph.NodeRef) (map[string]any, error) {
	return q.store.Get(context.Background(), node.Entity, node.ID)
}
