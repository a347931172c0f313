package storage

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/rserv-dev/rserv/pkg/resterr"
)

// WriteFileAtomic writes data to path via a sibling temp file, fsync and
// rename. On any failure the previous file content is left intact.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return resterr.Storage(err, "creating temp file in %s", dir)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return resterr.Storage(err, "writing %s", path)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return resterr.Storage(err, "syncing %s", path)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return resterr.Storage(err, "closing temp for %s", path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return resterr.Storage(err, "renaming into %s", path)
	}
	return nil
}

// withFileLock runs fn while holding an exclusive advisory lock on path.
// The lock is released on every exit path, including panics in fn.
func withFileLock(path string, fn func() error) error {
	fl := flock.New(path)
	if err := fl.Lock(); err != nil {
		return resterr.Storage(err, "acquiring lock %s", path)
	}
	defer func() { _ = fl.Unlock() }()
	return fn()
}

// DecodeDocument parses a JSON document, preserving integer precision.
// Integral numbers come back as int64, everything else as float64.
func DecodeDocument(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return normalizeMap(raw), nil
}

// EncodeDocument serialises a document deterministically (sorted keys come
// for free from encoding/json map handling).
func EncodeDocument(doc map[string]any) ([]byte, error) {
	return json.Marshal(doc)
}

func normalizeMap(m map[string]any) map[string]any {
	for k, v := range m {
		m[k] = normalizeValue(v)
	}
	return m
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		return normalizeMap(t)
	case []any:
		for i, item := range t {
			t[i] = normalizeValue(item)
		}
		return t
	default:
		return v
	}
}
