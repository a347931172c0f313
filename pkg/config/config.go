// Package config loads rserv configuration.
//
// Every option can come from four places, in decreasing precedence:
//
//  1. command-line flag (bound by cmd/rserv)
//  2. process environment (RSERV_HOST, RSERV_PATCH_NULL, ...)
//  3. a .env-style file passed via --config
//  4. the built-in default
//
// The precedence chain is implemented with viper: cobra flags are bound
// into a viper instance, the environment is registered with AutomaticEnv,
// and the optional file is merged underneath both.
//
// Example:
//
//	v := viper.New()
//	config.SetDefaults(v)
//	cfg, err := config.Load(v)
//	if err != nil {
//		log.Fatal(err)
//	}
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Graph index modes for the rserv_graph option.
const (
	GraphMemory  = "memory"
	GraphIndexed = "indexed"
)

// Patch-null policies for the patch_null option.
const (
	PatchNullStore  = "store"
	PatchNullDelete = "delete"
)

// Read-cache drivers for the cache_type option.
const (
	CacheTTL   = "ttlcache"
	CacheRedis = "redis"
)

// Config holds the effective rserv configuration.
type Config struct {
	// Server
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// Document store
	DataDir         string `mapstructure:"data_dir"`
	SchemaDir       string `mapstructure:"schema_dir"`
	Schema          string `mapstructure:"schema"`
	PatchNull       string `mapstructure:"patch_null"`
	CascadingDelete bool   `mapstructure:"cascading_delete"`
	DefaultPageSize int    `mapstructure:"default_page_size"`
	RefEmbedDepth   int    `mapstructure:"ref_embed_depth"`

	// Read cache
	CacheType string        `mapstructure:"cache_type"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	RedisHost string        `mapstructure:"redis_host"`
	RedisPort int           `mapstructure:"redis_port"`

	// Graph overlay
	GraphEnabled bool   `mapstructure:"graph_enabled"`
	GraphMode    string `mapstructure:"rserv_graph"`

	// Sulpher query execution
	MaxQueryDepth    int           `mapstructure:"max_query_depth"`
	QueryWorkerCount int           `mapstructure:"query_worker_count"`
	QueryTimeout     time.Duration `mapstructure:"query_timeout"`
	QueryTTL         time.Duration `mapstructure:"graph_query_ttl"`
	ResultTTL        time.Duration `mapstructure:"graph_result_ttl"`

	// Full-text search
	FulltextEnabled bool `mapstructure:"fulltext_enabled"`
}

// SetDefaults registers the built-in defaults on a viper instance.
// Call before binding flags so flags and env override them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 9090)
	v.SetDefault("data_dir", "data")
	v.SetDefault("schema_dir", "schema")
	v.SetDefault("schema", "default")
	v.SetDefault("patch_null", PatchNullStore)
	v.SetDefault("cascading_delete", false)
	v.SetDefault("default_page_size", 10)
	v.SetDefault("ref_embed_depth", 3)
	v.SetDefault("cache_type", CacheTTL)
	v.SetDefault("cache_ttl", 300*time.Second)
	v.SetDefault("redis_host", "localhost")
	v.SetDefault("redis_port", 6379)
	v.SetDefault("graph_enabled", true)
	v.SetDefault("rserv_graph", GraphMemory)
	v.SetDefault("max_query_depth", 10)
	v.SetDefault("query_worker_count", 4)
	v.SetDefault("query_timeout", 30*time.Second)
	v.SetDefault("graph_query_ttl", 24*time.Hour)
	v.SetDefault("graph_result_ttl", time.Hour)
	v.SetDefault("fulltext_enabled", false)
}

// Load reads the environment and any configured file into v, unmarshals
// the result and validates it.
func Load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("rserv")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file := v.ConfigFileUsed(); file != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", file, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enum options and numeric bounds.
func (c *Config) Validate() error {
	switch c.PatchNull {
	case PatchNullStore, PatchNullDelete:
	default:
		return fmt.Errorf("patch_null must be %q or %q, got %q", PatchNullStore, PatchNullDelete, c.PatchNull)
	}
	switch c.GraphMode {
	case GraphMemory, GraphIndexed:
	default:
		return fmt.Errorf("rserv_graph must be %q or %q, got %q", GraphMemory, GraphIndexed, c.GraphMode)
	}
	switch c.CacheType {
	case CacheTTL, CacheRedis:
	default:
		return fmt.Errorf("cache_type must be %q or %q, got %q", CacheTTL, CacheRedis, c.CacheType)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.MaxQueryDepth < 0 {
		return fmt.Errorf("max_query_depth must be >= 0, got %d", c.MaxQueryDepth)
	}
	if c.QueryWorkerCount < 1 {
		return fmt.Errorf("query_worker_count must be >= 1, got %d", c.QueryWorkerCount)
	}
	if c.DefaultPageSize < 1 {
		return fmt.Errorf("default_page_size must be >= 1, got %d", c.DefaultPageSize)
	}
	return nil
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Banner renders the startup configuration summary printed by cmd/rserv.
func (c *Config) Banner(version string, entities []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "////////////// rserv %s // a simple REST prototyping server //////////////\n", version)
	b.WriteString("---------------------------------------------------------\n")
	b.WriteString("Server Configuration:\n")
	fmt.Fprintf(&b, "  Host: %s\n", c.Host)
	fmt.Fprintf(&b, "  Port: %d\n", c.Port)
	fmt.Fprintf(&b, "  Schema: %s\n", c.Schema)
	if len(entities) > 0 {
		fmt.Fprintf(&b, "  Entities: %s\n", strings.Join(entities, ", "))
	}
	b.WriteString("\nGraph Configuration:\n")
	if c.GraphEnabled {
		b.WriteString("  Mode: Enabled\n")
	} else {
		b.WriteString("  Mode: Disabled\n")
	}
	fmt.Fprintf(&b, "  Type: %s\n", c.GraphMode)
	fmt.Fprintf(&b, "  Query TTL: %s\n", c.QueryTTL)
	b.WriteString("\nCache Configuration:\n")
	fmt.Fprintf(&b, "  Type: %s\n", c.CacheType)
	fmt.Fprintf(&b, "  TTL: %s\n", c.CacheTTL)
	b.WriteString("\nOther Configuration:\n")
	fmt.Fprintf(&b, "  Full-text search: %v\n", c.FulltextEnabled)
	fmt.Fprintf(&b, "  Cascading delete: %v\n", c.CascadingDelete)
	fmt.Fprintf(&b, "  REF embed depth: %d\n", c.RefEmbedDepth)
	fmt.Fprintf(&b, "  Patch null handling: %s\n", c.PatchNull)
	fmt.Fprintf(&b, "  Max query depth: %d\n", c.MaxQueryDepth)
	return b.String()
}
