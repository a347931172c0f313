// Package server wires the document store, the graph overlay, the query
// executor and the job manager behind the REST surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/rserv-dev/rserv/pkg/cache"
	"github.com/rserv-dev/rserv/pkg/config"
	"github.com/rserv-dev/rserv/pkg/graph"
	"github.com/rserv-dev/rserv/pkg/jobs"
	"github.com/rserv-dev/rserv/pkg/schema"
	"github.com/rserv-dev/rserv/pkg/search"
	"github.com/rserv-dev/rserv/pkg/storage"
	"github.com/rserv-dev/rserv/pkg/sulpher"
)

// Server owns every long-lived component and the HTTP router.
type Server struct {
	cfg      config.Config
	log      *zap.Logger
	reg      *schema.Registry
	store    *storage.Store
	idx      *graph.Index
	searcher *search.Index // nil when fulltext is disabled
	manager  *jobs.Manager
	validate *validator.Validate

	http *http.Server
}

// New assembles the server: loads schemas, opens the store, restores or
// rebuilds the graph and search indexes, and starts the job workers.
func New(cfg config.Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}

	reg, err := schema.Load(cfg.SchemaDir, cfg.Schema)
	if err != nil {
		return nil, err
	}

	readCache, err := buildCache(cfg)
	if err != nil {
		return nil, err
	}

	layout := storage.Layout{Root: cfg.DataDir, Schema: cfg.Schema}
	store := storage.NewStore(storage.Options{
		Layout:         layout,
		Registry:       reg,
		Cache:          readCache,
		Logger:         log.Named("store"),
		PatchNull:      cfg.PatchNull,
		CascadeEnabled: cfg.CascadingDelete,
	})

	s := &Server{
		cfg:      cfg,
		log:      log,
		reg:      reg,
		store:    store,
		validate: validator.New(),
	}

	if cfg.GraphEnabled {
		s.idx = graph.NewIndex(graph.Options{
			Registry: reg,
			Logger:   log.Named("graph"),
			Indexed:  cfg.GraphMode == config.GraphIndexed,
			Path:     layout.IndexPath(),
		})
		loaded, err := s.idx.Load()
		if err != nil {
			return nil, err
		}
		if !loaded {
			entities, err := layout.Entities()
			if err != nil {
				return nil, err
			}
			if err := s.idx.Rebuild(entities, store); err != nil {
				return nil, err
			}
		}
		store.Subscribe(s.idx)

		src := &querySource{idx: s.idx, store: store}
		s.manager = jobs.NewManager(jobs.Options{
			Run: func(ctx context.Context, q *sulpher.Query, maxDepth int) (*sulpher.Result, error) {
				depth := maxDepth
				if depth <= 0 || depth > cfg.MaxQueryDepth {
					depth = cfg.MaxQueryDepth
				}
				exec := sulpher.NewExecutor(src, reg, sulpher.ExecOptions{
					MaxDepth: depth,
					Logger:   log.Named("sulpher"),
				})
				return exec.Run(ctx, q)
			},
			Workers:   cfg.QueryWorkerCount,
			Timeout:   cfg.QueryTimeout,
			ResultTTL: cfg.ResultTTL,
			JobTTL:    cfg.QueryTTL,
			Logger:    log.Named("jobs"),
		})
		store.Subscribe(s.manager)
	}

	if cfg.FulltextEnabled {
		s.searcher = search.NewIndex(log.Named("search"))
		entities, err := layout.Entities()
		if err != nil {
			return nil, err
		}
		if err := s.searcher.Rebuild(entities, store.Scan); err != nil {
			return nil, err
		}
		store.Subscribe(s.searcher)
	}

	return s, nil
}

func buildCache(cfg config.Config) (cache.Cache, error) {
	switch cfg.CacheType {
	case config.CacheRedis:
		return cache.NewRedis(context.Background(), cache.Options{
			TTL:  cfg.CacheTTL,
			Addr: fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
		})
	default:
		return cache.NewTTL(cache.Options{TTL: cfg.CacheTTL, MaxEntries: 1024}), nil
	}
}

// Router builds the chi mux with the full endpoint surface. Static /graph
// routes take precedence over the {entity} wildcards, so "graph" is a
// reserved entity name.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(s.recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		if s.cfg.GraphEnabled {
			r.Route("/graph", func(r chi.Router) {
				r.Post("/query", s.handleQuerySubmit)
				r.Get("/query/{id}", s.handleQueryStatus)
				r.Get("/query/{id}/result", s.handleQueryResult)
				r.Post("/shortestPath", s.handleShortestPath)
				r.Post("/pathExists", s.handlePathExists)
				r.Post("/commonNeighbors", s.handleCommonNeighbors)
				r.Get("/statistics", s.handleStatistics)
				r.Post("/subgraph", s.handleSubgraph)
				r.Post("/nodes/search", s.handleNodeSearch)
				r.Get("/nodes/{ref}", s.handleNode)
				r.Get("/nodes/{ref}/degree", s.handleDegree)
				r.Get("/nodes/{ref}/relationships", s.handleRelationships)
				r.Post("/nodes/neighborhoodAggregate", s.handleNeighborhoodAggregate)
				r.Get("/{ref}/in", s.handleEdges(graph.DirectionIn))
				r.Get("/{ref}/out", s.handleEdges(graph.DirectionOut))
			})
		}
		if s.searcher != nil {
			r.Get("/search", s.handleGlobalSearch)
			r.Post("/search", s.handleSearchPost)
		}
		r.Route("/{entity}", func(r chi.Router) {
			r.Post("/", s.handleCreate)
			r.Get("/list", s.handleList)
			r.Get("/search", s.handleEntitySearch)
			r.Post("/save/{id}", s.handleSave)
			r.Get("/{id}", s.handleGet)
			r.Put("/{id}", s.handleReplace)
			r.Patch("/{id}", s.handlePatch)
			r.Delete("/{id}", s.handleDelete)
		})
	})
	return r
}

// ListenAndServe blocks until Shutdown or a listener failure.
func (s *Server) ListenAndServe() error {
	s.http = &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("listening", zap.String("addr", s.cfg.Addr()))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains the HTTP server, the job pool and the read cache.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}
	if s.manager != nil {
		s.manager.Close()
	}
	if cerr := s.store.Cache().Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Registry exposes the schema registry for the CLI schema listing.
func (s *Server) Registry() *schema.Registry { return s.reg }

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("panic in handler",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path))
				s.writeError(w, r, fmt.Errorf("panic: %v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
