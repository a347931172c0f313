package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"hello", "world", "42"}, Tokenize("Hello, WORLD! 42"))
	assert.Empty(t, Tokenize("!!! ..."))
}

func seededIndex() *Index {
	x := NewIndex(nil)
	x.IndexDocument("posts", 1, map[string]any{"id": int64(1), "title": "go concurrency patterns", "body": "channels and goroutines"})
	x.IndexDocument("posts", 2, map[string]any{"id": int64(2), "title": "python asyncio", "body": "coroutines and event loops"})
	x.IndexDocument("users", 1, map[string]any{"id": int64(1), "name": "go fan", "age": int64(30)})
	return x
}

func TestSearchRanksByMatchCount(t *testing.T) {
	x := seededIndex()

	hits := x.Search("go channels", "", "")
	require.Len(t, hits, 2)
	assert.Equal(t, "posts", hits[0].Entity)
	assert.Equal(t, int64(1), hits[0].ID)
	assert.Equal(t, 2, hits[0].Matches, "matches both terms")
	assert.Equal(t, "users", hits[1].Entity)
}

func TestSearchScopedToEntityAndField(t *testing.T) {
	x := seededIndex()

	hits := x.Search("go", "users", "")
	require.Len(t, hits, 1)
	assert.Equal(t, "users", hits[0].Entity)

	hits = x.Search("go", "posts", "body")
	assert.Empty(t, hits, `"go" only occurs in the title`)
}

func TestSearchIgnoresNonStringFields(t *testing.T) {
	x := seededIndex()
	assert.Empty(t, x.Search("30", "", ""), "integer fields are not indexed")
}

func TestReindexReplacesOldTokens(t *testing.T) {
	x := seededIndex()

	x.IndexDocument("posts", 1, map[string]any{"id": int64(1), "title": "rust ownership"})

	assert.Empty(t, x.Search("concurrency", "", ""))
	hits := x.Search("rust", "", "")
	require.Len(t, hits, 1)
	assert.Equal(t, int64(1), hits[0].ID)
}

func TestRemoveDropsDocument(t *testing.T) {
	x := seededIndex()

	x.Remove("posts", 1)
	assert.Empty(t, x.Search("concurrency", "", ""))
	assert.NotEmpty(t, x.Search("asyncio", "", ""), "other documents survive")
}

func TestRebuild(t *testing.T) {
	x := NewIndex(nil)
	docs := map[string][]map[string]any{
		"posts": {{"id": int64(1), "title": "hello graph"}},
	}
	err := x.Rebuild([]string{"posts"}, func(entity string, fn func(doc map[string]any) bool) error {
		for _, d := range docs[entity] {
			if !fn(d) {
				break
			}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, x.Search("graph", "", ""), 1)
}

func TestEmptyQuery(t *testing.T) {
	x := seededIndex()
	assert.Empty(t, x.Search("", "", ""))
}
