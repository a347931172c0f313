package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newViper(t))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "default", cfg.Schema)
	assert.Equal(t, PatchNullStore, cfg.PatchNull)
	assert.Equal(t, GraphMemory, cfg.GraphMode)
	assert.Equal(t, CacheTTL, cfg.CacheType)
	assert.Equal(t, 10, cfg.MaxQueryDepth)
	assert.Equal(t, 300*time.Second, cfg.CacheTTL)
	assert.Equal(t, "0.0.0.0:9090", cfg.Addr())
}

func TestEnvOverridesDefault(t *testing.T) {
	t.Setenv("RSERV_PORT", "8123")
	t.Setenv("RSERV_PATCH_NULL", "delete")

	cfg, err := Load(newViper(t))
	require.NoError(t, err)
	assert.Equal(t, 8123, cfg.Port)
	assert.Equal(t, PatchNullDelete, cfg.PatchNull)
}

func TestFileUnderEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "rserv.env")
	require.NoError(t, os.WriteFile(file, []byte("PORT=7001\nSCHEMA=blog\n"), 0o644))

	v := newViper(t)
	v.SetConfigFile(file)
	v.SetConfigType("env")

	// File supplies both values.
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 7001, cfg.Port)
	assert.Equal(t, "blog", cfg.Schema)

	// Env wins over file.
	t.Setenv("RSERV_PORT", "7002")
	v2 := newViper(t)
	v2.SetConfigFile(file)
	v2.SetConfigType("env")
	cfg2, err := Load(v2)
	require.NoError(t, err)
	assert.Equal(t, 7002, cfg2.Port)
	assert.Equal(t, "blog", cfg2.Schema)
}

func TestValidateRejectsBadEnums(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad patch_null", map[string]string{"RSERV_PATCH_NULL": "discard"}},
		{"bad graph mode", map[string]string{"RSERV_RSERV_GRAPH": "distributed"}},
		{"bad cache type", map[string]string{"RSERV_CACHE_TYPE": "memcached"}},
		{"bad port", map[string]string{"RSERV_PORT": "99999"}},
		{"zero workers", map[string]string{"RSERV_QUERY_WORKER_COUNT": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, val := range tt.env {
				t.Setenv(k, val)
			}
			_, err := Load(newViper(t))
			assert.Error(t, err)
		})
	}
}

func TestBannerListsSchemas(t *testing.T) {
	cfg, err := Load(newViper(t))
	require.NoError(t, err)

	banner := cfg.Banner("0.4.0", []string{"users", "posts"})
	assert.Contains(t, banner, "rserv 0.4.0")
	assert.Contains(t, banner, "users, posts")
	assert.Contains(t, banner, "Patch null handling: store")
}
