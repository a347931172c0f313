package server

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rserv-dev/rserv/pkg/graph"
	"github.com/rserv-dev/rserv/pkg/jobs"
	"github.com/rserv-dev/rserv/pkg/resterr"
	"github.com/rserv-dev/rserv/pkg/schema"
)

// Request DTOs for the graph endpoints. Validation failures map onto the
// 400 ValidationError envelope.

type graphQueryRequest struct {
	Query    string `json:"query" validate:"required"`
	MaxDepth int    `json:"max_depth" validate:"omitempty,gte=0,lte=100"`
}

// Node references in request bodies are either "entity:id" strings or bare
// integer ids, so the ref fields are typed any and resolved explicitly.

type pathRequest struct {
	Start    any  `json:"start" validate:"required"`
	End      any  `json:"end" validate:"required"`
	MaxDepth *int `json:"max_depth" validate:"omitempty,gte=0,lte=100"`
}

type commonNeighborsRequest struct {
	A any `json:"a" validate:"required"`
	B any `json:"b" validate:"required"`
}

type subgraphRequest struct {
	Node  any  `json:"node" validate:"required"`
	Depth *int `json:"depth"`
}

type neighborhoodAggregateRequest struct {
	Node        any    `json:"node" validate:"required"`
	Depth       int    `json:"depth" validate:"gte=0,lte=100"`
	Property    string `json:"property" validate:"required"`
	Aggregation string `json:"aggregation" validate:"required"`
}

func (s *Server) decodeValidated(r *http.Request, dst any) error {
	if err := decodeBody(r, dst); err != nil {
		return err
	}
	if err := s.validate.Struct(dst); err != nil {
		return resterr.Validation("invalid request: " + err.Error())
	}
	return nil
}

// resolveNodeValue accepts the JSON forms a node reference may take in a
// request body.
func (s *Server) resolveNodeValue(v any) (graph.NodeRef, error) {
	switch t := v.(type) {
	case string:
		return s.resolveNode(t)
	case float64:
		if t > 0 && t == float64(int64(t)) {
			return s.resolveNode(strconv.FormatInt(int64(t), 10))
		}
	}
	return graph.NodeRef{}, resterr.Validation(fmt.Sprintf("invalid node reference: %v", v))
}

// resolveNode turns a node reference string ("users:3" or bare "3") into
// a concrete node. Bare ids must be unambiguous across entities.
func (s *Server) resolveNode(ref string) (graph.NodeRef, error) {
	n, err := graph.ParseNodeRef(ref)
	if err != nil {
		return graph.NodeRef{}, err
	}
	if n.Entity != "" {
		if !s.idx.HasNode(n) {
			return graph.NodeRef{}, resterr.NotFound("node %s not found", n)
		}
		return n, nil
	}
	matches := s.idx.ResolveID(n.ID)
	switch len(matches) {
	case 0:
		return graph.NodeRef{}, resterr.NotFound("node %d not found", n.ID)
	case 1:
		return matches[0], nil
	}
	return graph.NodeRef{}, resterr.Validation(fmt.Sprintf(
		"id %d is ambiguous across entities; use the entity:id form", n.ID))
}

// pathValue renders a node path: bare ids when every hop shares one
// entity, entity:id strings otherwise.
func pathValue(path []graph.NodeRef) []any {
	single := true
	for _, n := range path[1:] {
		if n.Entity != path[0].Entity {
			single = false
			break
		}
	}
	out := make([]any, len(path))
	for i, n := range path {
		if single {
			out[i] = n.ID
		} else {
			out[i] = n.String()
		}
	}
	return out
}

func (s *Server) handleQuerySubmit(w http.ResponseWriter, r *http.Request) {
	var req graphQueryRequest
	if err := s.decodeValidated(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sub, err := s.manager.Submit(r.Context(), req.Query, req.MaxDepth)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if sub.Cached {
		s.writeData(w, r, http.StatusOK, map[string]any{
			"results": sub.Result.Rows,
			"stats":   sub.Result.Stats,
			"cached":  true,
		})
		return
	}
	s.writeData(w, r, http.StatusAccepted, map[string]any{
		"query_id": sub.JobID,
		"status":   string(jobs.StatusPending),
	})
}

func (s *Server) handleQueryStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.manager.Status(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body := map[string]any{
		"query_id":     job.ID,
		"status":       string(job.Status),
		"submitted_at": job.SubmittedAt.Format(time.RFC3339Nano),
	}
	if !job.FinishedAt.IsZero() {
		body["finished_at"] = job.FinishedAt.Format(time.RFC3339Nano)
	}
	if job.Result != nil {
		body["stats"] = job.Result.Stats
	}
	s.writeData(w, r, http.StatusOK, body)
}

func (s *Server) handleQueryResult(w http.ResponseWriter, r *http.Request) {
	job, err := s.manager.Result(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if job.Status == jobs.StatusFailed {
		s.writeError(w, r, job.Err)
		return
	}
	s.writeData(w, r, http.StatusOK, map[string]any{
		"results": job.Result.Rows,
		"stats":   job.Result.Stats,
	})
}

func (s *Server) pathEndpoints(r *http.Request) (start, end graph.NodeRef, maxDepth int, err error) {
	var req pathRequest
	if err = s.decodeValidated(r, &req); err != nil {
		return
	}
	maxDepth = s.cfg.MaxQueryDepth
	if req.MaxDepth != nil {
		maxDepth = *req.MaxDepth
	}
	if start, err = s.resolveNodeValue(req.Start); err != nil {
		return
	}
	end, err = s.resolveNodeValue(req.End)
	return
}

func (s *Server) handleShortestPath(w http.ResponseWriter, r *http.Request) {
	start, end, maxDepth, err := s.pathEndpoints(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	path, ok := s.idx.ShortestPath(start, end, maxDepth)
	if !ok {
		s.writeError(w, r, resterr.NotFound(
			"no path from %s to %s within depth %d", start, end, maxDepth))
		return
	}
	s.writeData(w, r, http.StatusOK, map[string]any{
		"path":   pathValue(path),
		"length": len(path) - 1,
	})
}

func (s *Server) handlePathExists(w http.ResponseWriter, r *http.Request) {
	start, end, maxDepth, err := s.pathEndpoints(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, map[string]any{
		"exists": s.idx.PathExists(start, end, maxDepth),
	})
}

func (s *Server) handleCommonNeighbors(w http.ResponseWriter, r *http.Request) {
	var req commonNeighborsRequest
	if err := s.decodeValidated(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.resolveNodeValue(req.A)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.resolveNodeValue(req.B)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	common := s.idx.CommonNeighbors(a, b)
	s.writeData(w, r, http.StatusOK, map[string]any{
		"neighbors": pathRefs(common),
	})
}

func pathRefs(nodes []graph.NodeRef) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.String()
	}
	return out
}

func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	node, err := s.resolveNode(chi.URLParam(r, "ref"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	doc, err := s.store.Get(r.Context(), node.Entity, node.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, map[string]any{
		"node":       node.String(),
		"type":       node.Entity,
		"properties": s.nodeProperties(node.Entity, doc),
		"out_degree": s.idx.Degree(node, graph.DirectionOut),
		"in_degree":  s.idx.Degree(node, graph.DirectionIn),
	})
}

// nodeProperties strips declared REF fields from the document view.
func (s *Server) nodeProperties(entity string, doc map[string]any) map[string]any {
	es := s.reg.Schema(entity)
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

func (s *Server) handleDegree(w http.ResponseWriter, r *http.Request) {
	node, err := s.resolveNode(chi.URLParam(r, "ref"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	dir, err := graph.ParseDirection(r.URL.Query().Get("direction"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, map[string]any{
		"node":      node.String(),
		"direction": string(dir),
		"degree":    s.idx.Degree(node, dir),
	})
}

func (s *Server) handleNeighborhoodAggregate(w http.ResponseWriter, r *http.Request) {
	var req neighborhoodAggregateRequest
	if err := s.decodeValidated(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	node, err := s.resolveNodeValue(req.Node)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	agg, err := graph.ParseAggregation(req.Aggregation)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	value, err := s.idx.NeighborhoodAggregate(node, req.Depth, req.Property, agg,
		func(n graph.NodeRef) (map[string]any, error) {
			return s.store.Get(r.Context(), n.Entity, n.ID)
		})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, map[string]any{
		"node":        node.String(),
		"depth":       req.Depth,
		"property":    req.Property,
		"aggregation": string(agg),
		"value":       value,
	})
}

// handleNodeSearch matches nodes whose documents carry every property in
// the request body, across all entities. Values compare loosely so 30 and
// 30.0 match the same documents.
func (s *Server) handleNodeSearch(w http.ResponseWriter, r *http.Request) {
	criteria, err := decodeDocument(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(criteria) == 0 {
		s.writeError(w, r, resterr.Validation("search criteria must not be empty"))
		return
	}

	entities := s.idx.Entities()
	sort.Strings(entities)
	items := []map[string]any{}
	for _, entity := range entities {
		for _, node := range s.idx.NodesOfEntity(entity) {
			doc, err := s.store.Get(r.Context(), node.Entity, node.ID)
			if resterr.IsKind(err, resterr.KindNotFound) {
				continue
			}
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			if !matchesCriteria(doc, criteria) {
				continue
			}
			items = append(items, map[string]any{
				"node":       node.String(),
				"type":       node.Entity,
				"properties": s.nodeProperties(node.Entity, doc),
			})
		}
	}
	s.writeData(w, r, http.StatusOK, map[string]any{"nodes": items})
}

func matchesCriteria(doc, criteria map[string]any) bool {
	for k, want := range criteria {
		got, ok := doc[k]
		if !ok || compareLoose(got, want) != 0 {
			return false
		}
	}
	return true
}

// handleRelationships lists the distinct edge labels touching a node.
func (s *Server) handleRelationships(w http.ResponseWriter, r *http.Request) {
	node, err := s.resolveNode(chi.URLParam(r, "ref"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	dir, err := graph.ParseDirection(r.URL.Query().Get("direction"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	types := s.idx.RelationshipTypes(node, dir)
	if types == nil {
		types = []string{}
	}
	s.writeData(w, r, http.StatusOK, map[string]any{
		"node":      node.String(),
		"direction": string(dir),
		"types":     types,
	})
}

// handleSubgraph extracts the depth-bounded undirected neighbourhood of a
// node, edges between member nodes included.
func (s *Server) handleSubgraph(w http.ResponseWriter, r *http.Request) {
	var req subgraphRequest
	if err := s.decodeValidated(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	node, err := s.resolveNodeValue(req.Node)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	depth := 1
	if req.Depth != nil {
		depth = *req.Depth
	}
	if depth < 1 || depth > 100 {
		s.writeError(w, r, resterr.Validation(
			fmt.Sprintf("depth must be between 1 and 100, got %d", depth)))
		return
	}
	nodes, edges := s.idx.Subgraph(node, depth)
	rels := make([]map[string]any, len(edges))
	for i, e := range edges {
		rels[i] = map[string]any{
			"from":  e.From.String(),
			"label": e.Label,
			"to":    e.To.String(),
		}
	}
	s.writeData(w, r, http.StatusOK, map[string]any{
		"center":        node.String(),
		"depth":         depth,
		"nodes":         pathRefs(nodes),
		"relationships": rels,
	})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	s.writeData(w, r, http.StatusOK, s.idx.Statistics())
}

func (s *Server) handleEdges(dir graph.Direction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		node, err := s.resolveNode(chi.URLParam(r, "ref"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var edges []graph.Edge
		if dir == graph.DirectionIn {
			edges = s.idx.In(node)
		} else {
			edges = s.idx.Out(node)
		}
		items := make([]map[string]any, len(edges))
		for i, e := range edges {
			items[i] = map[string]any{
				"from":  e.From.String(),
				"label": e.Label,
				"to":    e.To.String(),
			}
		}
		s.writeData(w, r, http.StatusOK, map[string]any{
			"node":  node.String(),
			"edges": items,
		})
	}
}
