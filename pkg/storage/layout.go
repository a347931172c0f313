// Package storage implements the file-backed document store.
//
// On-disk layout:
//
//	data/<schema>/<entity>/<id>.json   one document per file
//	data/<schema>/<entity>/_next_id.txt  ID allocator state (decimal ASCII)
//	data/<schema>/<entity>/.lock       advisory lock file
//	data/<schema>/graph.index          optional persisted edge index
//
// Writes serialise to a sibling temp file, fsync, then rename, so a reader
// never observes a torn document. Read-modify-write sequences (the
// allocator, patch, delete) hold an exclusive advisory lock on the entity's
// lock file; plain reads are lock-free and rely on rename atomicity.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rserv-dev/rserv/pkg/resterr"
)

// entityNameRe is the accepted entity name shape.
var entityNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateEntityName rejects names that could escape the directory scheme.
func ValidateEntityName(entity string) error {
	if !entityNameRe.MatchString(entity) {
		return resterr.Validation(fmt.Sprintf("invalid entity name: %q", entity))
	}
	return nil
}

// Layout resolves the directory scheme for one schema namespace.
type Layout struct {
	Root   string // data root, e.g. "data"
	Schema string // schema name, e.g. "default"
}

// SchemaDir returns data/<schema>.
func (l Layout) SchemaDir() string {
	return filepath.Join(l.Root, l.Schema)
}

// EntityDir returns data/<schema>/<entity>, creating it on first use.
func (l Layout) EntityDir(entity string) (string, error) {
	if err := ValidateEntityName(entity); err != nil {
		return "", err
	}
	dir := filepath.Join(l.Root, l.Schema, entity)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", resterr.Storage(err, "creating entity directory %s", dir)
	}
	return dir, nil
}

// DocumentPath returns data/<schema>/<entity>/<id>.json.
func (l Layout) DocumentPath(entity string, id int64) string {
	return filepath.Join(l.Root, l.Schema, entity, fmt.Sprintf("%d.json", id))
}

// AllocatorPath returns the allocator state file for an entity.
func (l Layout) AllocatorPath(entity string) string {
	return filepath.Join(l.Root, l.Schema, entity, "_next_id.txt")
}

// LockPath returns the advisory lock file for an entity.
func (l Layout) LockPath(entity string) string {
	return filepath.Join(l.Root, l.Schema, entity, ".lock")
}

// IndexPath returns the persisted edge index file for the schema.
func (l Layout) IndexPath() string {
	return filepath.Join(l.Root, l.Schema, "graph.index")
}

// Entities lists the entity directories present under the schema.
func (l Layout) Entities() ([]string, error) {
	dirEntries, err := os.ReadDir(l.SchemaDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, resterr.Storage(err, "listing entities under %s", l.SchemaDir())
	}
	var out []string
	for _, e := range dirEntries {
		if e.IsDir() && entityNameRe.MatchString(e.Name()) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// DocumentIDs lists the ids present for an entity, ascending.
func (l Layout) DocumentIDs(entity string) ([]int64, error) {
	dir := filepath.Join(l.Root, l.Schema, entity)
	dirEntries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, resterr.Storage(err, "listing documents under %s", dir)
	}
	var ids []int64
	for _, e := range dirEntries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, "_") {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSuffix(name, ".json"), 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
