// Package jobs runs Sulpher queries asynchronously on a bounded worker
// pool and caches completed results by canonical query string.
package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rserv-dev/rserv/pkg/cache"
	"github.com/rserv-dev/rserv/pkg/resterr"
	"github.com/rserv-dev/rserv/pkg/sulpher"
)

// Status is a job lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is the tracked state of one submitted query.
type Job struct {
	ID          string
	Query       string
	Canonical   string
	MaxDepth    int
	Status      Status
	SubmittedAt time.Time
	FinishedAt  time.Time // zero until terminal
	Result      *sulpher.Result
	Err         *resterr.Error
}

// Submission is the outcome of Submit: either a fresh job id or a result
// served straight from the cache.
type Submission struct {
	JobID  string
	Cached bool
	Result *sulpher.Result
}

// RunFunc executes a parsed query with a per-request depth bound.
type RunFunc func(ctx context.Context, q *sulpher.Query, maxDepth int) (*sulpher.Result, error)

// Options configures a Manager.
type Options struct {
	Run       RunFunc
	Workers   int           // pool size, default 4
	Timeout   time.Duration // per-query wall clock, default 30s
	ResultTTL time.Duration // cached result lifetime, default 5m
	JobTTL    time.Duration // terminal job retention, default 24h
	Logger    *zap.Logger
}

// Manager owns the job table, the worker pool and the result cache. It
// subscribes to store writes and evicts every cached result on any write:
// coarse, but never stale.
type Manager struct {
	run       RunFunc
	timeout   time.Duration
	resultTTL time.Duration
	jobTTL    time.Duration
	log       *zap.Logger
	results   *cache.TTLCache

	mu   sync.Mutex
	jobs map[string]*Job

	queue  chan string
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewManager starts the worker pool and the eviction sweeper.
func NewManager(opts Options) *Manager {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ttl := opts.ResultTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	jobTTL := opts.JobTTL
	if jobTTL <= 0 {
		jobTTL = 24 * time.Hour
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		run:       opts.Run,
		timeout:   timeout,
		resultTTL: ttl,
		jobTTL:    jobTTL,
		log:       log,
		results:   cache.NewTTL(cache.Options{TTL: ttl, MaxEntries: 256}),
		jobs:      make(map[string]*Job),
		queue:     make(chan string, 1024),
		cancel:    cancel,
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go m.worker(ctx)
	}
	m.wg.Add(1)
	go m.sweep(ctx)
	return m
}

// Close drains the pool. In-flight queries finish; queued ones are dropped.
func (m *Manager) Close() {
	m.cancel()
	close(m.queue)
	m.wg.Wait()
}

// Submit canonicalises and parses the query, serves a cache hit
// immediately, or enqueues a new job. Parse failures surface here, before
// a job exists.
func (m *Manager) Submit(ctx context.Context, query string, maxDepth int) (*Submission, error) {
	canonical := sulpher.Canonicalize(query)

	if raw, hit, err := m.results.Get(ctx, canonical); err == nil && hit {
		var res sulpher.Result
		if json.Unmarshal(raw, &res) == nil {
			return &Submission{Cached: true, Result: &res}, nil
		}
	}

	if _, err := sulpher.Parse(query); err != nil {
		return nil, err
	}

	job := &Job{
		ID:          uuid.NewString(),
		Query:       query,
		Canonical:   canonical,
		MaxDepth:    maxDepth,
		Status:      StatusPending,
		SubmittedAt: time.Now().UTC(),
	}
	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	select {
	case m.queue <- job.ID:
	default:
		m.mu.Lock()
		delete(m.jobs, job.ID)
		m.mu.Unlock()
		return nil, resterr.New(resterr.KindConflict, "query queue is full")
	}

	m.log.Info("query submitted", zap.String("job_id", job.ID))
	return &Submission{JobID: job.ID}, nil
}

// Status returns a snapshot of the job.
func (m *Manager) Status(id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return Job{}, resterr.NotFound("query job %s not found", id)
	}
	return *job, nil
}

// Result returns the outcome of a terminal job. Polling a job that is
// still pending or running fails with Conflict.
func (m *Manager) Result(id string) (Job, error) {
	job, err := m.Status(id)
	if err != nil {
		return Job{}, err
	}
	switch job.Status {
	case StatusCompleted, StatusFailed:
		return job, nil
	}
	return Job{}, resterr.Conflict("query job %s is %s; result not ready", id, job.Status)
}

// DocumentWritten implements storage.Listener: any write may change any
// query's answer, so every cached result goes.
func (m *Manager) DocumentWritten(entity string, id int64, doc map[string]any) {
	m.evictAll()
}

// DocumentDeleted implements storage.Listener.
func (m *Manager) DocumentDeleted(entity string, id int64, doc map[string]any) {
	m.evictAll()
}

func (m *Manager) evictAll() {
	// An empty substring matches every key.
	_ = m.results.Invalidate(context.Background(), "")
}

func (m *Manager) worker(ctx context.Context) {
	defer m.wg.Done()
	for id := range m.queue {
		if ctx.Err() != nil {
			return
		}
		m.execute(ctx, id)
	}
}

func (m *Manager) execute(ctx context.Context, id string) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	job.Status = StatusRunning
	query, maxDepth, canonical := job.Query, job.MaxDepth, job.Canonical
	m.mu.Unlock()

	runCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	q, err := sulpher.Parse(query)
	var res *sulpher.Result
	if err == nil {
		res, err = m.run(runCtx, q, maxDepth)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	job.FinishedAt = time.Now().UTC()
	if err != nil {
		job.Status = StatusFailed
		job.Err = resterr.From(err)
		m.log.Warn("query failed", zap.String("job_id", id), zap.Error(err))
		return
	}
	job.Status = StatusCompleted
	job.Result = res
	if raw, merr := json.Marshal(res); merr == nil {
		_ = m.results.Set(context.Background(), canonical, raw)
	}
	m.log.Info("query completed",
		zap.String("job_id", id),
		zap.Int("rows", res.Stats.ResultCount))
}

// sweep drops terminal jobs once they outlive the job TTL.
func (m *Manager) sweep(ctx context.Context) {
	defer m.wg.Done()
	tick := time.NewTicker(m.jobTTL / 2)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			cutoff := time.Now().UTC().Add(-m.jobTTL)
			m.mu.Lock()
			for id, job := range m.jobs {
				terminal := job.Status == StatusCompleted || job.Status == StatusFailed
				if terminal && job.FinishedAt.Before(cutoff) {
					delete(m.jobs, id)
				}
			}
			m.mu.Unlock()
		}
	}
}
