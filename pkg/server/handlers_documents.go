package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rserv-dev/rserv/pkg/resterr"
	"github.com/rserv-dev/rserv/pkg/schema"
	"github.com/rserv-dev/rserv/pkg/search"
	"github.com/rserv-dev/rserv/pkg/storage"
)

const maxPerPage = 100

func entityParam(r *http.Request) (string, error) {
	entity := chi.URLParam(r, "entity")
	if err := storage.ValidateEntityName(entity); err != nil {
		return "", err
	}
	return entity, nil
}

func idParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, resterr.Validation(fmt.Sprintf("invalid id: %q", raw))
	}
	return id, nil
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	entity, err := entityParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body, err := decodeDocument(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.store.Create(r.Context(), entity, body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	doc, err := s.store.Get(r.Context(), entity, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusCreated, doc)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	entity, err := entityParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body, err := decodeDocument(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.Save(r.Context(), entity, id, body); err != nil {
		s.writeError(w, r, err)
		return
	}
	doc, err := s.store.Get(r.Context(), entity, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusCreated, doc)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	entity, err := entityParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	doc, err := s.store.Get(r.Context(), entity, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if lookup := r.URL.Query().Get("lookup"); lookup != "" {
		depth := s.cfg.RefEmbedDepth
		if raw := r.URL.Query().Get("embed_depth"); raw != "" {
			depth, err = strconv.Atoi(raw)
			if err != nil || depth < 1 {
				s.writeError(w, r, resterr.Validation(fmt.Sprintf("invalid embed_depth: %q", raw)))
				return
			}
		}
		doc = s.embedRefs(r.Context(), entity, doc, strings.Split(lookup, ","), depth)
	}
	s.writeData(w, r, http.StatusOK, doc)
}

func (s *Server) handleReplace(w http.ResponseWriter, r *http.Request) {
	entity, err := entityParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body, err := decodeDocument(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.Replace(r.Context(), entity, id, body); err != nil {
		s.writeError(w, r, err)
		return
	}
	doc, err := s.store.Get(r.Context(), entity, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, doc)
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	entity, err := entityParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body, err := decodeDocument(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	merged, err := s.store.Patch(r.Context(), entity, id, body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, merged)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	entity, err := entityParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cascade := s.cfg.CascadingDelete
	if raw := r.URL.Query().Get("cascade"); raw != "" {
		cascade = raw == "true" || raw == "1"
	}
	deleted, err := s.store.Delete(r.Context(), entity, id, cascade)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	target := fmt.Sprintf("%s:%d", entity, id)
	cascaded := make([]string, 0, len(deleted))
	for _, d := range deleted {
		if d != target {
			cascaded = append(cascaded, d)
		}
	}
	s.writeData(w, r, http.StatusOK, map[string]any{
		"deleted":          target,
		"cascaded_deletes": cascaded,
	})
}

// page is the pagination envelope shared by list and search responses.
type page struct {
	Items      []any `json:"items"`
	Total      int   `json:"total"`
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	TotalPages int   `json:"total_pages"`
}

func paginate(items []any, pageNum, perPage int) page {
	total := len(items)
	totalPages := (total + perPage - 1) / perPage
	start := (pageNum - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return page{
		Items:      items[start:end],
		Total:      total,
		Page:       pageNum,
		PerPage:    perPage,
		TotalPages: totalPages,
	}
}

func (s *Server) pageParams(r *http.Request) (pageNum, perPage int, err error) {
	q := r.URL.Query()
	pageNum = 1
	if raw := q.Get("page"); raw != "" {
		pageNum, err = strconv.Atoi(raw)
		if err != nil || pageNum < 1 {
			return 0, 0, resterr.Validation(fmt.Sprintf("invalid page: %q", raw))
		}
	}
	perPage = s.cfg.DefaultPageSize
	if raw := q.Get("per_page"); raw != "" {
		perPage, err = strconv.Atoi(raw)
		if err != nil || perPage < 1 {
			return 0, 0, resterr.Validation(fmt.Sprintf("invalid per_page: %q", raw))
		}
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	return pageNum, perPage, nil
}

type sortKey struct {
	field string
	desc  bool
}

// parseSort accepts "field:asc,other:desc" (direction optional, asc
// default).
func parseSort(spec string) ([]sortKey, error) {
	if spec == "" {
		return nil, nil
	}
	var keys []sortKey
	for _, part := range strings.Split(spec, ",") {
		field, dir, hasDir := strings.Cut(strings.TrimSpace(part), ":")
		if field == "" {
			return nil, resterr.Validation(fmt.Sprintf("invalid sort spec: %q", spec))
		}
		key := sortKey{field: field}
		if hasDir {
			switch dir {
			case "asc":
			case "desc":
				key.desc = true
			default:
				return nil, resterr.Validation(fmt.Sprintf("invalid sort direction %q in %q", dir, spec))
			}
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func sortDocuments(docs []storage.Document, keys []sortKey) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range keys {
			a, b := docs[i][k.field], docs[j][k.field]
			c := compareLoose(a, b)
			if c == 0 {
				continue
			}
			if k.desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// compareLoose orders mixed document values: nil first, then numbers,
// strings, booleans, everything else by JSON text.
func compareLoose(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	af, aNum := looseNumber(a)
	bf, bNum := looseNumber(b)
	if aNum && bNum {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		return strings.Compare(as, bs)
	}
	ar, _ := json.Marshal(a)
	br, _ := json.Marshal(b)
	return strings.Compare(string(ar), string(br))
}

func looseNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	entity, err := entityParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	pageNum, perPage, err := s.pageParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sortSpec := r.URL.Query().Get("sort")
	keys, err := parseSort(sortSpec)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// List pages share the entity's cache namespace, so any write to the
	// entity evicts them with the per-document entries.
	cacheKey := fmt.Sprintf("%s:list:%d:%d:%s", entity, pageNum, perPage, sortSpec)
	if raw, hit, cerr := s.store.Cache().Get(r.Context(), cacheKey); cerr == nil && hit {
		var cached page
		if json.Unmarshal(raw, &cached) == nil {
			s.writeData(w, r, http.StatusOK, cached)
			return
		}
	}

	docs, err := s.store.List(entity)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sortDocuments(docs, keys)
	items := make([]any, len(docs))
	for i, d := range docs {
		items[i] = d
	}
	result := paginate(items, pageNum, perPage)

	if raw, merr := json.Marshal(result); merr == nil {
		if cerr := s.store.Cache().Set(r.Context(), cacheKey, raw); cerr != nil {
			s.log.Warn("caching list page failed", zap.Error(cerr))
		}
	}
	s.writeData(w, r, http.StatusOK, result)
}

func (s *Server) handleEntitySearch(w http.ResponseWriter, r *http.Request) {
	entity, err := entityParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.serveSearch(w, r, entity)
}

func (s *Server) handleGlobalSearch(w http.ResponseWriter, r *http.Request) {
	s.serveSearch(w, r, r.URL.Query().Get("entity"))
}

type searchRequest struct {
	Query  string `json:"query" validate:"required"`
	Entity string `json:"entity"`
	Field  string `json:"field"`
	Limit  int    `json:"limit" validate:"omitempty,gte=1,lte=100"`
}

func (s *Server) handleSearchPost(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := s.decodeValidated(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	hits := s.searcher.Search(req.Query, req.Entity, req.Field)
	total := len(hits)
	if req.Limit > 0 && len(hits) > req.Limit {
		hits = hits[:req.Limit]
	}
	items := make([]any, 0, len(hits))
	for _, h := range hits {
		items = append(items, s.hydrateHit(r.Context(), h))
	}
	s.writeData(w, r, http.StatusOK, map[string]any{"items": items, "total": total})
}

func (s *Server) serveSearch(w http.ResponseWriter, r *http.Request, entity string) {
	if s.searcher == nil {
		s.writeError(w, r, resterr.Validation("full-text search is disabled"))
		return
	}
	query := r.URL.Query().Get("query")
	if query == "" {
		s.writeError(w, r, resterr.Validation("missing query parameter"))
		return
	}
	pageNum, perPage, err := s.pageParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	hits := s.searcher.Search(query, entity, r.URL.Query().Get("field"))
	items := make([]any, 0, len(hits))
	for _, h := range hits {
		items = append(items, s.hydrateHit(r.Context(), h))
	}
	s.writeData(w, r, http.StatusOK, paginate(items, pageNum, perPage))
}

func (s *Server) hydrateHit(ctx context.Context, h search.Hit) map[string]any {
	item := map[string]any{
		"entity":  h.Entity,
		"id":      h.ID,
		"field":   h.Field,
		"matches": h.Matches,
	}
	if doc, err := s.store.Get(ctx, h.Entity, h.ID); err == nil {
		item["document"] = doc
	}
	return item
}

// embedRefs replaces the requested REF values with the documents they
// point at, up to depth levels, leaving broken references untouched.
func (s *Server) embedRefs(ctx context.Context, entity string, doc storage.Document, fields []string, depth int) storage.Document {
	if depth <= 0 {
		return doc
	}
	es := s.reg.Schema(entity)
	if es == nil {
		return doc
	}

	out := make(storage.Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	for _, field := range fields {
		field = strings.TrimSpace(field)
		f, declared := es[field]
		if !declared || f.Type != schema.TypeRef {
			continue
		}
		target, _ := f.Target()
		switch v := out[field].(type) {
		case int64:
			if embedded, ok := s.embedOne(ctx, target, v, fields, depth); ok {
				out[field] = embedded
			}
		case map[string]any:
			if id, isID := v["id"].(int64); isID {
				if embedded, ok := s.embedOne(ctx, target, id, fields, depth); ok {
					out[field] = embedded
				}
			}
		case []any:
			list := make([]any, len(v))
			copy(list, v)
			for i, item := range list {
				ref, isMap := item.(map[string]any)
				if !isMap {
					continue
				}
				id, isID := ref["id"].(int64)
				if !isID {
					continue
				}
				if embedded, ok := s.embedOne(ctx, target, id, fields, depth); ok {
					list[i] = embedded
				}
			}
			out[field] = list
		}
	}
	return out
}

func (s *Server) embedOne(ctx context.Context, target string, id int64, fields []string, depth int) (storage.Document, bool) {
	if target == "" {
		return nil, false
	}
	doc, err := s.store.Get(ctx, target, id)
	if err != nil {
		return nil, false
	}
	return s.embedRefs(ctx, target, doc, fields, depth-1), true
}
