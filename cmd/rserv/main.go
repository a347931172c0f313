// Package main provides the rserv CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/rserv-dev/rserv/pkg/config"
	"github.com/rserv-dev/rserv/pkg/schema"
	"github.com/rserv-dev/rserv/pkg/server"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	v := viper.New()
	config.SetDefaults(v)

	rootCmd := &cobra.Command{
		Use:   "rserv",
		Short: "rserv - a simple REST prototyping server",
		Long: `rserv serves a file-backed JSON document store over REST, with
optional schema validation, referential integrity, a graph overlay built
from REF fields, and a Sulpher query engine on top of it.

Every document lives as one JSON file under the data directory, so the
whole store stays inspectable and diffable while you prototype.`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rserv v%s (%s)\n", version, commit)
		},
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the rserv server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, v)
		},
	}
	flags := serveCmd.Flags()
	flags.String("config", "", "path to a .env-style configuration file")
	flags.String("host", "0.0.0.0", "listen host")
	flags.Int("port", 9090, "listen port")
	flags.String("data-dir", "data", "document store root directory")
	flags.String("schema-dir", "schema", "schema definitions directory")
	flags.String("schema", "default", "active schema namespace")
	flags.String("patch-null", config.PatchNullStore, "null handling on PATCH: store or delete")
	flags.Bool("cascading-delete", false, "delete referring documents instead of rejecting")
	flags.Int("default-page-size", 10, "default list page size")
	flags.Int("ref-embed-depth", 3, "maximum REF embedding depth for ?lookup=")
	flags.String("cache-type", config.CacheTTL, "read cache driver: ttlcache or redis")
	flags.Duration("cache-ttl", 300*time.Second, "read cache entry lifetime")
	flags.String("redis-host", "localhost", "redis host (cache-type=redis)")
	flags.Int("redis-port", 6379, "redis port (cache-type=redis)")
	flags.Bool("graph-enabled", true, "maintain the graph overlay and query endpoints")
	flags.String("rserv-graph", config.GraphMemory, "graph index mode: memory or indexed")
	flags.Int("max-query-depth", 10, "traversal depth cap for Sulpher queries")
	flags.Int("query-worker-count", 4, "Sulpher executor worker goroutines")
	flags.Duration("query-timeout", 30*time.Second, "per-query execution timeout")
	flags.Duration("graph-query-ttl", 24*time.Hour, "finished job retention")
	flags.Duration("graph-result-ttl", time.Hour, "cached query result lifetime")
	flags.Bool("fulltext-enabled", false, "maintain the full-text search index")
	bindFlags(v, serveCmd)
	rootCmd.AddCommand(serveCmd)

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "List the entities of the active schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(v)
		},
	}
	schemaCmd.Flags().String("schema-dir", "schema", "schema definitions directory")
	schemaCmd.Flags().String("schema", "default", "active schema namespace")
	bindFlags(v, schemaCmd)
	rootCmd.AddCommand(schemaCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// bindFlags maps kebab-case cobra flags onto the snake_case viper keys.
func bindFlags(v *viper.Viper, cmd *cobra.Command) {
	for _, key := range []string{
		"host", "port", "data_dir", "schema_dir", "schema", "patch_null",
		"cascading_delete", "default_page_size", "ref_embed_depth",
		"cache_type", "cache_ttl", "redis_host", "redis_port",
		"graph_enabled", "rserv_graph", "max_query_depth",
		"query_worker_count", "query_timeout", "graph_query_ttl",
		"graph_result_ttl", "fulltext_enabled",
	} {
		flagName := flagNameFor(key)
		if f := cmd.Flags().Lookup(flagName); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}

func flagNameFor(key string) string {
	out := make([]byte, len(key))
	for i := 0; i < len(key); i++ {
		if key[i] == '_' {
			out[i] = '-'
		} else {
			out[i] = key[i]
		}
	}
	return string(out)
}

func runServe(cmd *cobra.Command, v *viper.Viper) error {
	if file, _ := cmd.Flags().GetString("config"); file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("env")
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer log.Sync()

	srv, err := server.New(*cfg, log)
	if err != nil {
		return fmt.Errorf("assembling server: %w", err)
	}

	fmt.Println(cfg.Banner(version, srv.Registry().Entities()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("stopping server: %w", err)
	}
	return nil
}

func runSchema(v *viper.Viper) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	reg, err := schema.Load(cfg.SchemaDir, cfg.Schema)
	if err != nil {
		return err
	}
	entities := reg.Entities()
	if len(entities) == 0 {
		fmt.Printf("schema %q declares no entities (schema-less mode)\n", cfg.Schema)
		return nil
	}
	fmt.Printf("schema %q:\n", cfg.Schema)
	for _, entity := range entities {
		es := reg.Schema(entity)
		fmt.Printf("  %s (%d fields)\n", entity, len(es))
	}
	return nil
}
