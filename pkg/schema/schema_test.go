package schema

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rserv-dev/rserv/pkg/resterr"
)

func boolPtr(b bool) *bool        { return &b }
func intPtr(i int) *int           { return &i }
func floatPtr(f float64) *float64 { return &f }

// fakeSource is an in-memory DocumentSource for validator tests.
type fakeSource struct {
	docs map[string][]map[string]any
}

func (f *fakeSource) Exists(entity string, id int64) (bool, error) {
	for _, d := range f.docs[entity] {
		if did, _ := toInt64(d["id"]); did == id {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeSource) Scan(entity string, fn func(doc map[string]any) bool) error {
	for _, d := range f.docs[entity] {
		if !fn(d) {
			return nil
		}
	}
	return nil
}

func usersRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry("default", map[string]EntitySchema{
		"users": {
			"name":  {Type: TypeString, MaxLength: intPtr(40)},
			"email": {Type: TypeString, Regex: `^[^@]+@[^@]+$`, Unique: true, Required: boolPtr(false)},
			"age":   {Type: TypeInteger, Min: floatPtr(0), Max: floatPtr(150), Required: boolPtr(false)},
		},
		"posts": {
			"title":     {Type: TypeString},
			"author_id": {Type: TypeRef, Entity: "users", Required: boolPtr(false)},
		},
	})
	require.NoError(t, err)
	return r
}

func TestLoadFromDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "default"), 0o755))
	schemaJSON := `{"name": {"type": "string", "max_length": 10}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "default", "users.json"), []byte(schemaJSON), 0o644))

	r, err := Load(dir, "default")
	require.NoError(t, err)
	assert.Equal(t, []string{"users"}, r.Entities())
	assert.NotNil(t, r.Schema("users")["name"])
}

func TestLoadMissingDirectoryIsSchemaless(t *testing.T) {
	r, err := Load(t.TempDir(), "default")
	require.NoError(t, err)
	assert.Empty(t, r.Entities())

	doc := map[string]any{"anything": "goes"}
	out, err := r.Validate("users", doc, ModeCreate, nil)
	require.NoError(t, err)
	assert.Equal(t, doc, out)
}

func TestValidateCreate(t *testing.T) {
	r := usersRegistry(t)
	src := &fakeSource{docs: map[string][]map[string]any{}}

	tests := []struct {
		name    string
		doc     map[string]any
		wantErr string
	}{
		{
			name: "valid",
			doc:  map[string]any{"id": int64(1), "name": "Alice", "age": int64(30)},
		},
		{
			name:    "missing required",
			doc:     map[string]any{"id": int64(1)},
			wantErr: "missing required field: name",
		},
		{
			name:    "wrong type",
			doc:     map[string]any{"id": int64(1), "name": int64(5)},
			wantErr: "must be a string",
		},
		{
			name:    "too long",
			doc:     map[string]any{"id": int64(1), "name": "0123456789012345678901234567890123456789X"},
			wantErr: "maximum length",
		},
		{
			name:    "regex",
			doc:     map[string]any{"id": int64(1), "name": "A", "email": "not-an-email"},
			wantErr: "pattern",
		},
		{
			name:    "range",
			doc:     map[string]any{"id": int64(1), "name": "A", "age": int64(200)},
			wantErr: "less than or equal to 150",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Validate("users", tt.doc, ModeCreate, src)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			re := resterr.From(err)
			assert.Equal(t, resterr.KindValidation, re.Kind)
			found := false
			for _, d := range re.Details {
				if strings.Contains(d, tt.wantErr) {
					found = true
				}
			}
			assert.True(t, found, "details %v should mention %q", re.Details, tt.wantErr)
		})
	}
}

func TestValidatePatchChecksOnlyPresentFields(t *testing.T) {
	r := usersRegistry(t)

	_, err := r.Validate("users", map[string]any{"age": int64(40)}, ModePatch, nil)
	assert.NoError(t, err, "patch without required fields must pass")

	_, err = r.Validate("users", map[string]any{"age": "old"}, ModePatch, nil)
	assert.Error(t, err, "present fields are still type-checked")
}

func TestForeignKeyEnforced(t *testing.T) {
	r := usersRegistry(t)
	src := &fakeSource{docs: map[string][]map[string]any{
		"users": {{"id": int64(1), "name": "Alice"}},
	}}

	doc := map[string]any{"id": int64(10), "title": "hello", "author_id": map[string]any{"id": int64(1)}}
	_, err := r.Validate("posts", doc, ModeCreate, src)
	assert.NoError(t, err)

	bad := map[string]any{"id": int64(11), "title": "dangling", "author_id": map[string]any{"id": int64(99)}}
	_, err = r.Validate("posts", bad, ModeCreate, src)
	require.Error(t, err)
	assert.Equal(t, resterr.KindIntegrity, resterr.From(err).Kind)
}

func TestUniqueEnforced(t *testing.T) {
	r := usersRegistry(t)
	src := &fakeSource{docs: map[string][]map[string]any{
		"users": {{"id": int64(1), "name": "Alice", "email": "a@b.c"}},
	}}

	dup := map[string]any{"id": int64(2), "name": "Bob", "email": "a@b.c"}
	_, err := r.Validate("users", dup, ModeCreate, src)
	require.Error(t, err)
	assert.Equal(t, resterr.KindIntegrity, resterr.From(err).Kind)

	// Replacing the same document with its own value is fine.
	same := map[string]any{"id": int64(1), "name": "Alice", "email": "a@b.c"}
	_, err = r.Validate("users", same, ModeReplace, src)
	assert.NoError(t, err)
}

func TestReferencesOfNormalisesBothForms(t *testing.T) {
	r := usersRegistry(t)

	doc := map[string]any{
		"id":        int64(10),
		"title":     "post",
		"author_id": map[string]any{"type": "REF", "entity": "users", "id": int64(1)},
	}
	refs := r.ReferencesOf("posts", doc)
	require.Len(t, refs, 1)
	assert.Equal(t, Reference{Field: "author_id", TargetEntity: "users", TargetID: 1}, refs[0])

	r.NormalizeRefs("posts", doc)
	assert.Equal(t, map[string]any{"id": int64(1)}, doc["author_id"])
}

func TestReferencesOfListAndInline(t *testing.T) {
	r := usersRegistry(t)

	// Schema-less entity: only the long form counts.
	doc := map[string]any{
		"id":      int64(3),
		"friends": []any{map[string]any{"type": "REF", "entity": "users", "id": int64(1)}, map[string]any{"id": int64(2)}},
	}
	refs := r.ReferencesOf("groups", doc)
	require.Len(t, refs, 1)
	assert.Equal(t, int64(1), refs[0].TargetID)
}

func TestReferrersOf(t *testing.T) {
	r := usersRegistry(t)
	refs := r.ReferrersOf("users")
	require.Len(t, refs, 1)
	assert.Equal(t, Referrer{Entity: "posts", Field: "author_id"}, refs[0])
	assert.Empty(t, r.ReferrersOf("posts"))
}
