package resterr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCodeMapping(t *testing.T) {
	tests := []struct {
		kind   Kind
		status int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindQuerySyntax, http.StatusBadRequest},
		{KindQueryRuntime, http.StatusBadRequest},
		{KindIntegrity, http.StatusConflict},
		{KindNotFound, http.StatusNotFound},
		{KindConflict, http.StatusConflict},
		{KindTimeout, http.StatusInternalServerError},
		{KindStorage, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := New(tt.kind, "boom")
			assert.Equal(t, tt.status, err.StatusCode())
		})
	}
}

func TestFromRecoversWrappedError(t *testing.T) {
	orig := NotFound("document users/7 not found")
	wrapped := fmt.Errorf("handling request: %w", orig)

	got := From(wrapped)
	require.NotNil(t, got)
	assert.Equal(t, KindNotFound, got.Kind)
	assert.Equal(t, orig, got)
}

func TestFromUnknownBecomesStorage(t *testing.T) {
	got := From(errors.New("disk on fire"))
	assert.Equal(t, KindStorage, got.Kind)
	assert.False(t, got.Public())
}

func TestSyntaxCarriesTokenAndColumn(t *testing.T) {
	err := Syntax("RETRUN", 27, "unexpected token")
	require.Len(t, err.Details, 1)
	assert.Contains(t, err.Details[0], `"RETRUN"`)
	assert.Contains(t, err.Details[0], "column 27")
}

func TestIsKind(t *testing.T) {
	err := fmt.Errorf("outer: %w", Conflict("id 3 already exists"))
	assert.True(t, IsKind(err, KindConflict))
	assert.False(t, IsKind(err, KindNotFound))
	assert.False(t, IsKind(errors.New("plain"), KindConflict))
}
