// Package schema loads per-entity field descriptors and validates documents
// against them.
//
// A schema lives at schema/<schema_name>/<entity>.json and maps field names
// to descriptors:
//
//	{
//	  "name":      {"type": "string", "required": true, "max_length": 80},
//	  "age":       {"type": "integer", "min": 0, "max": 150},
//	  "email":     {"type": "string", "regex": "^[^@]+@[^@]+$", "unique": true},
//	  "author_id": {"type": "REF", "entity": "users", "field": "id"}
//	}
//
// Entities without a schema file are accepted as-is (schema-less mode);
// validation then only normalises inline REF values.
//
// The registry also answers the two structural questions the store needs:
// ReferencesOf (which documents does this document point at) and
// ReferrersOf (which entity/field pairs may point at a given entity),
// the latter driving cascade deletion.
package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rserv-dev/rserv/pkg/resterr"
)

// FieldType enumerates the recognised descriptor types.
type FieldType string

const (
	TypeString   FieldType = "string"
	TypeInteger  FieldType = "integer"
	TypeFloat    FieldType = "float"
	TypeBoolean  FieldType = "boolean"
	TypeDatetime FieldType = "datetime"
	TypeRef      FieldType = "REF"
	TypeList     FieldType = "list"
	TypeMapping  FieldType = "mapping"
)

// Field is a single field descriptor. It is a tagged variant: Type selects
// which of the optional constraints apply.
type Field struct {
	Type       FieldType   `json:"type"`
	Required   *bool       `json:"required,omitempty"`
	MaxLength  *int        `json:"max_length,omitempty"`
	Min        *float64    `json:"min,omitempty"`
	Max        *float64    `json:"max,omitempty"`
	Regex      string      `json:"regex,omitempty"`
	PrimaryKey bool        `json:"primary_key,omitempty"`
	Unique     bool        `json:"unique,omitempty"`
	ForeignKey *ForeignKey `json:"foreign_key,omitempty"`

	// REF target; either inline entity/field or via ForeignKey.
	Entity   string `json:"entity,omitempty"`
	KeyField string `json:"field,omitempty"`

	re *regexp.Regexp // compiled Regex
}

// ForeignKey names the referenced entity and key field.
type ForeignKey struct {
	Entity string `json:"entity"`
	Field  string `json:"field"`
}

// IsRequired reports the effective required flag. Absent means required,
// matching the original rserv semantics.
func (f *Field) IsRequired() bool {
	return f.Required == nil || *f.Required
}

// Target returns the referenced entity and key field for REF and
// foreign-key fields, or "" when the field references nothing.
func (f *Field) Target() (entity, field string) {
	if f.ForeignKey != nil {
		return f.ForeignKey.Entity, f.ForeignKey.Field
	}
	if f.Type == TypeRef {
		kf := f.KeyField
		if kf == "" {
			kf = "id"
		}
		return f.Entity, kf
	}
	return "", ""
}

// EntitySchema maps field names to descriptors for one entity.
type EntitySchema map[string]*Field

// Referrer is one (source entity, source field) pair that may reference a
// target entity. Derived statically from the loaded schemas.
type Referrer struct {
	Entity string
	Field  string
}

// Reference is one resolved outbound reference of a concrete document.
type Reference struct {
	Field        string
	TargetEntity string
	TargetID     int64
}

// Registry holds every loaded entity schema plus the reverse referrer map.
type Registry struct {
	name      string
	entities  map[string]EntitySchema
	referrers map[string][]Referrer // target entity -> referrers
}

// Load reads schema/<name>/<entity>.json for every file present.
// A missing schema directory yields an empty (schema-less) registry.
func Load(dir, name string) (*Registry, error) {
	r := &Registry{
		name:      name,
		entities:  make(map[string]EntitySchema),
		referrers: make(map[string][]Referrer),
	}

	schemaDir := filepath.Join(dir, name)
	files, err := os.ReadDir(schemaDir)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, resterr.Storage(err, "reading schema directory %s", schemaDir)
	}

	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		entity := strings.TrimSuffix(f.Name(), ".json")
		raw, err := os.ReadFile(filepath.Join(schemaDir, f.Name()))
		if err != nil {
			return nil, resterr.Storage(err, "reading schema for %s", entity)
		}
		es := EntitySchema{}
		if err := json.Unmarshal(raw, &es); err != nil {
			return nil, resterr.Storage(err, "parsing schema for %s", entity)
		}
		if err := compileSchema(entity, es); err != nil {
			return nil, err
		}
		r.entities[entity] = es
	}

	r.buildReferrers()
	return r, nil
}

// NewRegistry builds a registry from in-memory schemas. Used by tests and
// by callers that do not want file loading.
func NewRegistry(name string, entities map[string]EntitySchema) (*Registry, error) {
	r := &Registry{
		name:      name,
		entities:  make(map[string]EntitySchema, len(entities)),
		referrers: make(map[string][]Referrer),
	}
	for entity, es := range entities {
		if err := compileSchema(entity, es); err != nil {
			return nil, err
		}
		r.entities[entity] = es
	}
	r.buildReferrers()
	return r, nil
}

func compileSchema(entity string, es EntitySchema) error {
	for name, field := range es {
		if field == nil {
			return fmt.Errorf("schema %s: field %s has no descriptor", entity, name)
		}
		// Accept "ref" in any case.
		if strings.EqualFold(string(field.Type), string(TypeRef)) {
			field.Type = TypeRef
		}
		switch field.Type {
		case TypeString, TypeInteger, TypeFloat, TypeBoolean, TypeDatetime, TypeRef, TypeList, TypeMapping:
		default:
			return fmt.Errorf("schema %s: field %s has unknown type %q", entity, name, field.Type)
		}
		if field.Regex != "" {
			re, err := regexp.Compile(field.Regex)
			if err != nil {
				return fmt.Errorf("schema %s: field %s regex: %w", entity, name, err)
			}
			field.re = re
		}
	}
	return nil
}

func (r *Registry) buildReferrers() {
	for entity, es := range r.entities {
		for name, field := range es {
			target, _ := field.Target()
			if target == "" {
				continue
			}
			r.referrers[target] = append(r.referrers[target], Referrer{Entity: entity, Field: name})
		}
	}
	for target := range r.referrers {
		refs := r.referrers[target]
		sort.Slice(refs, func(i, j int) bool {
			if refs[i].Entity != refs[j].Entity {
				return refs[i].Entity < refs[j].Entity
			}
			return refs[i].Field < refs[j].Field
		})
	}
}

// Name returns the schema set name (the <schema_name> path segment).
func (r *Registry) Name() string { return r.name }

// Entities returns the sorted list of entities with a loaded schema.
func (r *Registry) Entities() []string {
	out := make([]string, 0, len(r.entities))
	for e := range r.entities {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// Schema returns the schema for an entity, or nil when schema-less.
func (r *Registry) Schema(entity string) EntitySchema {
	return r.entities[entity]
}

// ReferrersOf returns the static (source entity, source field) pairs whose
// schemas declare a reference to the target entity.
func (r *Registry) ReferrersOf(target string) []Referrer {
	return r.referrers[target]
}

// ReferencesOf yields the outbound references of a concrete document:
// schema-declared REF/foreign-key fields, plus inline
// {"type":"REF","entity":...,"id":...} values for schema-less entities.
func (r *Registry) ReferencesOf(entity string, doc map[string]any) []Reference {
	var out []Reference
	es := r.entities[entity]

	for name, value := range doc {
		if name == "id" {
			continue
		}
		var field *Field
		if es != nil {
			field = es[name]
		}
		for _, ref := range refValues(field, value) {
			target := ref.entity
			if field != nil {
				if t, _ := field.Target(); t != "" {
					target = t
				}
			}
			if target == "" {
				continue
			}
			out = append(out, Reference{Field: name, TargetEntity: target, TargetID: ref.id})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Field != out[j].Field {
			return out[i].Field < out[j].Field
		}
		if out[i].TargetEntity != out[j].TargetEntity {
			return out[i].TargetEntity < out[j].TargetEntity
		}
		return out[i].TargetID < out[j].TargetID
	})
	return out
}

// refValue is one parsed reference-shaped value.
type refValue struct {
	entity string // inline entity, if the long form was used
	id     int64
}

// refValues extracts reference values from a field value. For declared REF
// fields any {"id": n} object (or list of them) counts; for undeclared
// fields only the explicit {"type":"REF", ...} long form is recognised.
func refValues(field *Field, value any) []refValue {
	declared := false
	if field != nil {
		if target, _ := field.Target(); target != "" {
			declared = true
		}
	}
	var out []refValue

	collect := func(v any) {
		m, ok := v.(map[string]any)
		if !ok {
			return
		}
		long := false
		if t, ok := m["type"].(string); ok && strings.EqualFold(t, "REF") {
			long = true
		}
		if !declared && !long {
			return
		}
		id, ok := toInt64(m["id"])
		if !ok {
			return
		}
		entity, _ := m["entity"].(string)
		out = append(out, refValue{entity: entity, id: id})
	}

	switch v := value.(type) {
	case []any:
		for _, item := range v {
			collect(item)
		}
	case map[string]any:
		collect(v)
	default:
		// Scalar foreign keys: the raw value is the referenced id.
		if declared {
			if id, ok := toInt64(v); ok {
				out = append(out, refValue{id: id})
			}
		}
	}
	return out
}

// NormalizeRefs rewrites accepted REF value forms to the canonical
// {"id": n} shape in place. Both {"id": n} and the long
// {"type":"REF","entity":...,"id":n} form are accepted on write.
func (r *Registry) NormalizeRefs(entity string, doc map[string]any) {
	es := r.entities[entity]
	for name, value := range doc {
		var field *Field
		if es != nil {
			field = es[name]
		}
		switch v := value.(type) {
		case map[string]any:
			if nv, ok := normalizeRefValue(field, v); ok {
				doc[name] = nv
			}
		case []any:
			for i, item := range v {
				if m, ok := item.(map[string]any); ok {
					if nv, ok := normalizeRefValue(field, m); ok {
						v[i] = nv
					}
				}
			}
		}
	}
}

func normalizeRefValue(field *Field, m map[string]any) (map[string]any, bool) {
	long := false
	if t, ok := m["type"].(string); ok && strings.EqualFold(t, "REF") {
		long = true
	}
	declared := field != nil && field.Type == TypeRef
	if !long && !declared {
		return nil, false
	}
	id, ok := toInt64(m["id"])
	if !ok {
		return nil, false
	}
	return map[string]any{"id": id}, true
}

// toInt64 converts the numeric representations a decoded document may hold.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
	}
	return 0, false
}
