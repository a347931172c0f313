// Package search provides the in-process full-text index behind /search.
// It tokenises string field values into lower-cased words and serves
// ranked lookups from an inverted index.
package search

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var wordRe = regexp.MustCompile(`\w+`)

// Tokenize splits text into lower-cased word tokens.
func Tokenize(text string) []string {
	return wordRe.FindAllString(strings.ToLower(text), -1)
}

// Hit is one ranked search result.
type Hit struct {
	Entity  string `json:"entity"`
	ID      int64  `json:"id"`
	Field   string `json:"field"`
	Matches int    `json:"matches"`
}

type docKey struct {
	entity string
	id     int64
}

// Index is the process-wide inverted index: token -> documents -> the
// fields the token occurs in.
type Index struct {
	mu      sync.RWMutex
	byToken map[string]map[docKey]map[string]int // token -> doc -> field -> count
	byDoc   map[docKey][]string                  // doc -> tokens, for removal

	log *zap.Logger
}

// NewIndex builds an empty search index.
func NewIndex(log *zap.Logger) *Index {
	if log == nil {
		log = zap.NewNop()
	}
	return &Index{
		byToken: make(map[string]map[docKey]map[string]int),
		byDoc:   make(map[docKey][]string),
		log:     log,
	}
}

// DocumentWritten implements storage.Listener.
func (x *Index) DocumentWritten(entity string, id int64, doc map[string]any) {
	x.IndexDocument(entity, id, doc)
}

// DocumentDeleted implements storage.Listener.
func (x *Index) DocumentDeleted(entity string, id int64, doc map[string]any) {
	x.Remove(entity, id)
}

// IndexDocument replaces the entries of one document. Only string-valued
// fields are indexed.
func (x *Index) IndexDocument(entity string, id int64, doc map[string]any) {
	key := docKey{entity, id}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.removeLocked(key)

	var tokens []string
	for field, value := range doc {
		text, ok := value.(string)
		if !ok {
			continue
		}
		for _, tok := range Tokenize(text) {
			docs, exists := x.byToken[tok]
			if !exists {
				docs = make(map[docKey]map[string]int)
				x.byToken[tok] = docs
			}
			fields, exists := docs[key]
			if !exists {
				fields = make(map[string]int)
				docs[key] = fields
			}
			fields[field]++
			tokens = append(tokens, tok)
		}
	}
	x.byDoc[key] = tokens
}

// Remove drops every entry of one document.
func (x *Index) Remove(entity string, id int64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.removeLocked(docKey{entity, id})
}

func (x *Index) removeLocked(key docKey) {
	for _, tok := range x.byDoc[key] {
		if docs, ok := x.byToken[tok]; ok {
			delete(docs, key)
			if len(docs) == 0 {
				delete(x.byToken, tok)
			}
		}
	}
	delete(x.byDoc, key)
}

// Search ranks documents by total token matches, descending, ties broken
// by (entity, id) ascending. Entity and field narrow the scope when set.
func (x *Index) Search(query, entity, field string) []Hit {
	terms := Tokenize(query)
	if len(terms) == 0 {
		return nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	type acc struct {
		matches int
		field   string
	}
	scores := map[docKey]*acc{}
	for _, term := range terms {
		for key, fields := range x.byToken[term] {
			if entity != "" && key.entity != entity {
				continue
			}
			for f, count := range fields {
				if field != "" && f != field {
					continue
				}
				a, ok := scores[key]
				if !ok {
					a = &acc{field: f}
					scores[key] = a
				}
				a.matches += count
			}
		}
	}

	hits := make([]Hit, 0, len(scores))
	for key, a := range scores {
		hits = append(hits, Hit{Entity: key.entity, ID: key.id, Field: a.field, Matches: a.matches})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Matches != hits[j].Matches {
			return hits[i].Matches > hits[j].Matches
		}
		if hits[i].Entity != hits[j].Entity {
			return hits[i].Entity < hits[j].Entity
		}
		return hits[i].ID < hits[j].ID
	})
	return hits
}

// Rebuild reindexes every document of the given entities.
func (x *Index) Rebuild(entities []string, scan func(entity string, fn func(doc map[string]any) bool) error) error {
	for _, entity := range entities {
		err := scan(entity, func(doc map[string]any) bool {
			id, ok := doc["id"].(int64)
			if !ok {
				return true
			}
			x.IndexDocument(entity, id, doc)
			return true
		})
		if err != nil {
			return err
		}
	}
	x.log.Info("search index rebuilt", zap.Int("tokens", x.TokenCount()))
	return nil
}

// TokenCount reports distinct indexed tokens.
func (x *Index) TokenCount() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.byToken)
}
