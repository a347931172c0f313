package storage

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/rserv-dev/rserv/pkg/cache"
	"github.com/rserv-dev/rserv/pkg/config"
	"github.com/rserv-dev/rserv/pkg/resterr"
	"github.com/rserv-dev/rserv/pkg/schema"
)

// Document is a decoded JSON record. The "id" field is always an int64.
type Document = map[string]any

// Listener observes committed writes. Listeners run synchronously inside
// the entity lock, so the edge index and other in-process indexes never lag
// a committed write; they must not block.
type Listener interface {
	DocumentWritten(entity string, id int64, doc Document)
	DocumentDeleted(entity string, id int64, doc Document)
}

// Options configures a Store.
type Options struct {
	Layout         Layout
	Registry       *schema.Registry
	Cache          cache.Cache
	Logger         *zap.Logger
	PatchNull      string // config.PatchNullStore or config.PatchNullDelete
	CascadeEnabled bool
}

// Store is the document store: CRUD over per-document JSON files with
// schema validation, read-through caching and write notification.
//
// Writes to the same document are strictly serialised by the per-entity
// lock; reads are lock-free.
type Store struct {
	layout         Layout
	reg            *schema.Registry
	cache          cache.Cache
	log            *zap.Logger
	patchNull      string
	cascadeEnabled bool

	mu        sync.Mutex
	locks     map[string]*sync.Mutex
	listeners []Listener
}

// NewStore builds a Store. Nil Cache and Logger default to no-ops.
func NewStore(opts Options) *Store {
	c := opts.Cache
	if c == nil {
		c = cache.NewNop()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	patchNull := opts.PatchNull
	if patchNull == "" {
		patchNull = config.PatchNullStore
	}
	return &Store{
		layout:         opts.Layout,
		reg:            opts.Registry,
		cache:          c,
		log:            log,
		patchNull:      patchNull,
		cascadeEnabled: opts.CascadeEnabled,
		locks:          make(map[string]*sync.Mutex),
	}
}

// Layout exposes the directory scheme (the graph index persists next to it).
func (s *Store) Layout() Layout { return s.layout }

// Registry exposes the schema registry.
func (s *Store) Registry() *schema.Registry { return s.reg }

// Cache exposes the read cache so the HTTP layer can cache list pages
// under the same invalidation regime.
func (s *Store) Cache() cache.Cache { return s.cache }

// Subscribe registers a write listener. Call during start-up, before the
// store receives traffic.
func (s *Store) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// entityMutex returns the in-process mutex serialising writers of an
// entity. The file lock below it serialises across processes.
func (s *Store) entityMutex(entity string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[entity]
	if !ok {
		m = &sync.Mutex{}
		s.locks[entity] = m
	}
	return m
}

// withEntityLock runs fn holding both the in-process mutex and the
// advisory file lock for entity. fn must not suspend.
func (s *Store) withEntityLock(entity string, fn func() error) error {
	if _, err := s.layout.EntityDir(entity); err != nil {
		return err
	}
	m := s.entityMutex(entity)
	m.Lock()
	defer m.Unlock()
	return withFileLock(s.layout.LockPath(entity), fn)
}

func (s *Store) snapshotListeners() []Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Listener(nil), s.listeners...)
}

func (s *Store) notifyWritten(entity string, id int64, doc Document) {
	for _, l := range s.snapshotListeners() {
		l.DocumentWritten(entity, id, doc)
	}
}

func (s *Store) notifyDeleted(entity string, id int64, doc Document) {
	for _, l := range s.snapshotListeners() {
		l.DocumentDeleted(entity, id, doc)
	}
}

// invalidate drops cached reads for an entity. Runs outside the file lock
// because the redis driver may block.
func (s *Store) invalidate(ctx context.Context, entity string) {
	if err := s.cache.Invalidate(ctx, entity+":"); err != nil {
		s.log.Warn("cache invalidation failed", zap.String("entity", entity), zap.Error(err))
	}
}

// Create allocates an id, validates and writes a new document.
func (s *Store) Create(ctx context.Context, entity string, body Document) (int64, error) {
	if body == nil {
		return 0, resterr.Validation("no input data provided")
	}
	var id int64
	err := s.withEntityLock(entity, func() error {
		allocated, err := s.allocateID(entity)
		if err != nil {
			return err
		}
		id = allocated
		body["id"] = id
		return s.writeDocument(entity, id, body, schema.ModeCreate)
	})
	if err != nil {
		return 0, err
	}
	s.invalidate(ctx, entity)
	s.log.Info("created document", zap.String("entity", entity), zap.Int64("id", id))
	return id, nil
}

// Save writes a new document under a caller-supplied id. Fails with
// Conflict if the id is taken.
func (s *Store) Save(ctx context.Context, entity string, id int64, body Document) error {
	if body == nil {
		return resterr.Validation("no input data provided")
	}
	if id <= 0 {
		return resterr.Validation(fmt.Sprintf("invalid id: %d", id))
	}
	err := s.withEntityLock(entity, func() error {
		if _, err := os.Stat(s.layout.DocumentPath(entity, id)); err == nil {
			return resterr.Conflict("resource of entity %s with id %d already exists", entity, id)
		}
		body["id"] = id
		return s.writeDocument(entity, id, body, schema.ModeCreate)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, entity)
	s.log.Info("saved document", zap.String("entity", entity), zap.Int64("id", id))
	return nil
}

// Get returns a document, reading through the cache.
func (s *Store) Get(ctx context.Context, entity string, id int64) (Document, error) {
	if err := ValidateEntityName(entity); err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%s:%d", entity, id)
	if raw, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		if doc, derr := DecodeDocument(raw); derr == nil {
			return doc, nil
		}
	} else if err != nil {
		s.log.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}

	doc, err := s.readDocument(entity, id)
	if err != nil {
		return nil, err
	}
	if raw, err := EncodeDocument(doc); err == nil {
		if err := s.cache.Set(ctx, key, raw); err != nil {
			s.log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return doc, nil
}

// Replace validates and rewrites an existing document in full.
func (s *Store) Replace(ctx context.Context, entity string, id int64, body Document) error {
	if body == nil {
		return resterr.Validation("no input data provided")
	}
	err := s.withEntityLock(entity, func() error {
		if _, err := os.Stat(s.layout.DocumentPath(entity, id)); err != nil {
			return resterr.NotFound("resource of entity %s with id %d not found", entity, id)
		}
		body["id"] = id
		return s.writeDocument(entity, id, body, schema.ModeReplace)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, entity)
	s.log.Info("replaced document", zap.String("entity", entity), zap.Int64("id", id))
	return nil
}

// Patch merges a partial document per the patch-null policy, validates the
// provided fields and rewrites the document.
func (s *Store) Patch(ctx context.Context, entity string, id int64, partial Document) (Document, error) {
	if partial == nil {
		return nil, resterr.Validation("no input data provided")
	}
	var merged Document
	err := s.withEntityLock(entity, func() error {
		existing, err := s.readDocument(entity, id)
		if err != nil {
			return err
		}

		// Validate only the provided fields, minus null deletions.
		check := Document{"id": id}
		for k, v := range partial {
			if k == "id" {
				continue
			}
			if v == nil && s.patchNull == config.PatchNullDelete {
				continue
			}
			check[k] = v
		}
		if _, err := s.reg.Validate(entity, check, schema.ModePatch, s); err != nil {
			return err
		}

		for k, v := range partial {
			if k == "id" {
				continue
			}
			if v == nil && s.patchNull == config.PatchNullDelete {
				delete(existing, k)
				continue
			}
			if nv, ok := check[k]; ok {
				v = nv // normalised REF form
			}
			existing[k] = v
		}
		merged = existing
		return s.writeDocument(entity, id, merged, schema.ModeReplace)
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, entity)
	s.log.Info("patched document", zap.String("entity", entity), zap.Int64("id", id))
	return merged, nil
}

// Delete removes a document. With cascade enabled (globally and per call)
// every document transitively referencing the target is removed first.
// Without cascade, deleting a document that schema-declared foreign keys
// still point at fails with IntegrityError.
//
// Returns the deleted documents as "entity:id" strings, target last.
func (s *Store) Delete(ctx context.Context, entity string, id int64, cascade bool) ([]string, error) {
	if err := ValidateEntityName(entity); err != nil {
		return nil, err
	}
	if _, err := os.Stat(s.layout.DocumentPath(entity, id)); err != nil {
		return nil, resterr.NotFound("resource of entity %s with id %d not found", entity, id)
	}

	var targets [][2]any // (entity, id) in discovery order, target first
	if cascade && s.cascadeEnabled {
		collected, err := s.collectCascade(entity, id)
		if err != nil {
			return nil, err
		}
		targets = collected
	} else {
		referenced, err := s.isReferenced(entity, id)
		if err != nil {
			return nil, err
		}
		if referenced {
			return nil, resterr.Integrity("resource of entity %s with id %d is still referenced; delete with cascade or remove referrers first", entity, id)
		}
		targets = [][2]any{{entity, id}}
	}

	// Referrers are deleted before their target: reverse discovery order.
	deleted := make([]string, 0, len(targets))
	entities := map[string]struct{}{}
	for i := len(targets) - 1; i >= 0; i-- {
		e := targets[i][0].(string)
		tid := targets[i][1].(int64)
		if err := s.deleteOne(e, tid); err != nil {
			return deleted, err
		}
		deleted = append(deleted, fmt.Sprintf("%s:%d", e, tid))
		entities[e] = struct{}{}
	}
	for e := range entities {
		s.invalidate(ctx, e)
	}
	s.log.Info("deleted documents", zap.String("entity", entity), zap.Int64("id", id), zap.Int("count", len(deleted)))
	return deleted, nil
}

// collectCascade walks referrers breadth-first from the target, guarding
// against reference cycles with a seen-set. The result is in discovery
// order with the target first.
func (s *Store) collectCascade(entity string, id int64) ([][2]any, error) {
	type node struct {
		entity string
		id     int64
	}
	seen := map[node]struct{}{}
	queue := []node{{entity, id}}
	var order [][2]any

	allEntities, err := s.layout.Entities()
	if err != nil {
		return nil, err
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, ok := seen[cur]; ok {
			continue
		}
		seen[cur] = struct{}{}
		order = append(order, [2]any{cur.entity, cur.id})

		// Schema-declared referrers scan only the declaring entities;
		// schema-less entities are scanned for inline REF values.
		candidates := map[string]struct{}{}
		for _, ref := range s.reg.ReferrersOf(cur.entity) {
			candidates[ref.Entity] = struct{}{}
		}
		for _, e := range allEntities {
			if s.reg.Schema(e) == nil {
				candidates[e] = struct{}{}
			}
		}

		for candidate := range candidates {
			err := s.Scan(candidate, func(doc Document) bool {
				docID, ok := docID(doc)
				if !ok {
					return true
				}
				for _, ref := range s.reg.ReferencesOf(candidate, doc) {
					if ref.TargetEntity == cur.entity && ref.TargetID == cur.id {
						queue = append(queue, node{candidate, docID})
						break
					}
				}
				return true
			})
			if err != nil {
				return nil, err
			}
		}
	}
	return order, nil
}

// isReferenced reports whether any schema-declared foreign key still
// points at the document.
func (s *Store) isReferenced(entity string, id int64) (bool, error) {
	for _, ref := range s.reg.ReferrersOf(entity) {
		found := false
		err := s.Scan(ref.Entity, func(doc Document) bool {
			for _, r := range s.reg.ReferencesOf(ref.Entity, doc) {
				if r.Field == ref.Field && r.TargetEntity == entity && r.TargetID == id {
					found = true
					return false
				}
			}
			return true
		})
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}

// deleteOne removes a single document under its entity lock.
func (s *Store) deleteOne(entity string, id int64) error {
	return s.withEntityLock(entity, func() error {
		doc, err := s.readDocument(entity, id)
		if resterr.IsKind(err, resterr.KindNotFound) {
			return nil // already gone, e.g. raced within the cascade
		}
		if err != nil {
			return err
		}
		if err := os.Remove(s.layout.DocumentPath(entity, id)); err != nil {
			return resterr.Storage(err, "removing %s/%d", entity, id)
		}
		s.notifyDeleted(entity, id, doc)
		return nil
	})
}

// writeDocument validates, encodes and atomically writes a document, then
// notifies listeners. Caller holds the entity lock.
func (s *Store) writeDocument(entity string, id int64, doc Document, mode schema.Mode) error {
	validated, err := s.reg.Validate(entity, doc, mode, s)
	if err != nil {
		return err
	}
	raw, err := EncodeDocument(validated)
	if err != nil {
		return resterr.Storage(err, "encoding %s/%d", entity, id)
	}
	if err := WriteFileAtomic(s.layout.DocumentPath(entity, id), raw); err != nil {
		return err
	}
	s.notifyWritten(entity, id, validated)
	return nil
}

// readDocument reads and decodes one document, bypassing the cache.
func (s *Store) readDocument(entity string, id int64) (Document, error) {
	raw, err := os.ReadFile(s.layout.DocumentPath(entity, id))
	if os.IsNotExist(err) {
		return nil, resterr.NotFound("resource of entity %s with id %d not found", entity, id)
	}
	if err != nil {
		return nil, resterr.Storage(err, "reading %s/%d", entity, id)
	}
	doc, err := DecodeDocument(raw)
	if err != nil {
		return nil, resterr.Storage(err, "corrupt document %s/%d", entity, id)
	}
	return doc, nil
}

// List returns every document of an entity, ascending by id.
func (s *Store) List(entity string) ([]Document, error) {
	if err := ValidateEntityName(entity); err != nil {
		return nil, err
	}
	ids, err := s.layout.DocumentIDs(entity)
	if err != nil {
		return nil, err
	}
	out := make([]Document, 0, len(ids))
	for _, id := range ids {
		doc, err := s.readDocument(entity, id)
		if resterr.IsKind(err, resterr.KindNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

// Exists implements schema.DocumentSource.
func (s *Store) Exists(entity string, id int64) (bool, error) {
	if err := ValidateEntityName(entity); err != nil {
		return false, err
	}
	_, err := os.Stat(s.layout.DocumentPath(entity, id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, resterr.Storage(err, "checking %s/%d", entity, id)
}

// Scan implements schema.DocumentSource: visits each document of an entity
// until fn returns false.
func (s *Store) Scan(entity string, fn func(doc map[string]any) bool) error {
	ids, err := s.layout.DocumentIDs(entity)
	if err != nil {
		return err
	}
	for _, id := range ids {
		doc, err := s.readDocument(entity, id)
		if resterr.IsKind(err, resterr.KindNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if !fn(doc) {
			return nil
		}
	}
	return nil
}

// Count returns the total number of documents across all entities.
func (s *Store) Count() (int, error) {
	entities, err := s.layout.Entities()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, e := range entities {
		ids, err := s.layout.DocumentIDs(e)
		if err != nil {
			return 0, err
		}
		total += len(ids)
	}
	return total, nil
}

// docID extracts the id field of a decoded document.
func docID(doc Document) (int64, bool) {
	switch v := doc["id"].(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	}
	return 0, false
}
