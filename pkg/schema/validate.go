package schema

import (
	"fmt"
	"sort"
	"time"

	"github.com/rserv-dev/rserv/pkg/resterr"
)

// Mode selects which validation rules apply.
type Mode int

const (
	// ModeCreate and ModeReplace require every required field and check
	// every present field.
	ModeCreate Mode = iota
	ModeReplace
	// ModePatch checks only the fields present in the partial document.
	ModePatch
)

// DocumentSource answers existence and scan queries during validation.
// The document store implements it; tests supply fakes.
type DocumentSource interface {
	// Exists reports whether entity/<id>.json is present.
	Exists(entity string, id int64) (bool, error)
	// Scan visits every document of an entity until fn returns false.
	Scan(entity string, fn func(doc map[string]any) bool) error
}

// Validate checks a document against the entity schema. On success the
// document is returned with REF values normalised; on failure a
// ValidationError (or IntegrityError for FK/unique violations) carrying
// field-level details is returned.
//
// Schema-less entities pass validation untouched apart from REF
// normalisation.
func (r *Registry) Validate(entity string, doc map[string]any, mode Mode, src DocumentSource) (map[string]any, error) {
	es := r.entities[entity]
	if es == nil {
		r.NormalizeRefs(entity, doc)
		return doc, nil
	}

	var details []string
	var integrity []string

	// Deterministic field order for stable error lists.
	names := make([]string, 0, len(es))
	for name := range es {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		field := es[name]
		value, present := doc[name]

		if !present {
			if mode != ModePatch && field.IsRequired() && name != "id" {
				details = append(details, fmt.Sprintf("missing required field: %s", name))
			}
			continue
		}

		if errs := checkValue(name, field, value); len(errs) > 0 {
			details = append(details, errs...)
			continue
		}

		if target, keyField := field.Target(); target != "" && src != nil {
			if errs := r.checkForeignKey(name, field, value, target, keyField, src); len(errs) > 0 {
				integrity = append(integrity, errs...)
			}
		}

		if field.Unique && src != nil {
			if err := checkUnique(entity, name, value, doc, src); err != nil {
				integrity = append(integrity, err.Error())
			}
		}
	}

	if len(details) > 0 {
		return nil, resterr.Validation("validation failed", details...)
	}
	if len(integrity) > 0 {
		e := resterr.Integrity("integrity constraint violated")
		return nil, e.WithDetails(integrity...)
	}

	r.NormalizeRefs(entity, doc)
	return doc, nil
}

// checkValue type-checks one field value and its declared constraints.
func checkValue(name string, field *Field, value any) []string {
	if value == nil {
		// Explicit null is a type error for required fields only; the
		// patch-null policy is decided by the store before validation.
		if field.IsRequired() {
			return []string{fmt.Sprintf("field %s must not be null", name)}
		}
		return nil
	}

	var errs []string
	switch field.Type {
	case TypeString:
		s, ok := value.(string)
		if !ok {
			return []string{fmt.Sprintf("field %s must be a string", name)}
		}
		if field.MaxLength != nil && len(s) > *field.MaxLength {
			errs = append(errs, fmt.Sprintf("field %s exceeds maximum length of %d", name, *field.MaxLength))
		}
		if field.re != nil && !field.re.MatchString(s) {
			errs = append(errs, fmt.Sprintf("field %s does not match the required pattern: %s", name, field.Regex))
		}

	case TypeInteger:
		n, ok := toInt64(value)
		if !ok {
			return []string{fmt.Sprintf("field %s must be an integer", name)}
		}
		errs = append(errs, checkRange(name, float64(n), field)...)

	case TypeFloat:
		var f float64
		switch v := value.(type) {
		case float64:
			f = v
		case int64:
			f = float64(v)
		case int:
			f = float64(v)
		default:
			return []string{fmt.Sprintf("field %s must be a number", name)}
		}
		errs = append(errs, checkRange(name, f, field)...)

	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			return []string{fmt.Sprintf("field %s must be a boolean", name)}
		}

	case TypeDatetime:
		s, ok := value.(string)
		if !ok {
			return []string{fmt.Sprintf("field %s must be a datetime string", name)}
		}
		if !validDatetime(s) {
			errs = append(errs, fmt.Sprintf("field %s must be a valid ISO format datetime string", name))
		}

	case TypeRef:
		if ids := refValues(field, value); len(ids) == 0 {
			return []string{fmt.Sprintf("field %s must be a reference value like {\"id\": n}", name)}
		}

	case TypeList:
		if _, ok := value.([]any); !ok {
			return []string{fmt.Sprintf("field %s must be a list", name)}
		}

	case TypeMapping:
		if _, ok := value.(map[string]any); !ok {
			return []string{fmt.Sprintf("field %s must be a mapping", name)}
		}
	}
	return errs
}

func checkRange(name string, v float64, field *Field) []string {
	var errs []string
	if field.Min != nil && v < *field.Min {
		errs = append(errs, fmt.Sprintf("field %s must be greater than or equal to %v", name, *field.Min))
	}
	if field.Max != nil && v > *field.Max {
		errs = append(errs, fmt.Sprintf("field %s must be less than or equal to %v", name, *field.Max))
	}
	return errs
}

// validDatetime accepts RFC 3339 and the common date-only form.
func validDatetime(s string) bool {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// checkForeignKey verifies every referenced target exists.
func (r *Registry) checkForeignKey(name string, field *Field, value any, target, keyField string, src DocumentSource) []string {
	var errs []string
	for _, ref := range refValues(field, value) {
		ok, err := src.Exists(target, ref.id)
		if err != nil {
			errs = append(errs, fmt.Sprintf("field %s: checking %s/%d: %v", name, target, ref.id, err))
			continue
		}
		if !ok {
			errs = append(errs, fmt.Sprintf("foreign key constraint failed: %s with %s=%d does not exist", target, keyField, ref.id))
		}
	}
	return errs
}

// checkUnique scans the entity for another document holding the same value.
func checkUnique(entity, name string, value any, doc map[string]any, src DocumentSource) error {
	selfID, _ := toInt64(doc["id"])
	var violation error
	err := src.Scan(entity, func(other map[string]any) bool {
		otherID, _ := toInt64(other["id"])
		if otherID == selfID {
			return true
		}
		if equalValue(other[name], value) {
			violation = fmt.Errorf("field %s must be unique", name)
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	return violation
}

// equalValue compares scalar JSON values across int64/float64 decodings.
func equalValue(a, b any) bool {
	if ai, ok := toInt64(a); ok {
		if bi, ok := toInt64(b); ok {
			return ai == bi
		}
	}
	return a == b
}
