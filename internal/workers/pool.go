// Package workers provides the bounded worker pool that fans probes out
// across a fixed number of goroutines. It supports context cancellation,
// probe pacing, retries of retryable failures, and reports through the
// structured logging and metrics systems.
package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/logging"
	"github.com/anstrom/netscope/internal/metrics"
)

// Job represents a unit of work to be executed by a worker.
type Job interface {
	// Execute performs the job and returns an error if it fails.
	Execute(ctx context.Context) error
	// ID returns a unique identifier for the job.
	ID() string
	// Type returns the job type for metrics and logging.
	Type() string
}

// Result represents the result of executing a job. Skipped is set for jobs
// that were dequeued after the pool context ended and never executed.
type Result struct {
	Job      Job
	JobID    string
	JobType  string
	Error    error
	Duration time.Duration
	Retries  int
	Skipped  bool
}

// Config holds configuration for the worker pool.
type Config struct {
	// Size is the number of worker goroutines to create.
	Size int
	// QueueSize is the maximum number of jobs that can be queued.
	QueueSize int
	// MaxRetries is the maximum number of retries for retryable failures.
	MaxRetries int
	// RetryDelay is the delay between retries.
	RetryDelay time.Duration
	// RateLimit is the maximum number of jobs started per second (0 = no limit).
	RateLimit float64
	// Burst is the limiter burst size. Defaults to Size.
	Burst int
}

// DefaultConfig returns a default worker pool configuration.
func DefaultConfig() Config {
	return Config{
		Size:       10,
		QueueSize:  100,
		MaxRetries: 0,
		RetryDelay: 100 * time.Millisecond,
	}
}

// Pool manages a pool of worker goroutines for concurrent job execution.
type Pool struct {
	config  Config
	jobs    chan Job
	results chan Result
	limiter *rate.Limiter
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	ctx       context.Context
	startOnce sync.Once
}

// New creates a new worker pool with the given configuration.
func New(config Config) *Pool {
	if config.Size <= 0 {
		config.Size = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = config.Size
	}

	pool := &Pool{
		config:  config,
		jobs:    make(chan Job, config.QueueSize),
		results: make(chan Result, config.QueueSize),
		ctx:     context.Background(),
	}

	if config.RateLimit > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = config.Size
		}
		pool.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}

	return pool
}

// Start launches the workers. Jobs observe ctx; once it ends, queued jobs are
// reported as skipped instead of executed.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.ctx = ctx
		logging.Debug("Starting worker pool",
			"worker_count", p.config.Size,
			"queue_size", p.config.QueueSize,
			"rate_limit", p.config.RateLimit)

		p.wg.Add(p.config.Size)
		for i := 0; i < p.config.Size; i++ {
			w := &worker{id: i, pool: p}
			go w.run()
		}

		go func() {
			p.wg.Wait()
			close(p.results)
		}()

		metrics.Gauge(metrics.MetricPoolSize, float64(p.config.Size), metrics.Labels{
			metrics.LabelComponent: "workers",
		})
	})
}

// Submit queues a job, blocking until there is room, ctx ends, or the pool
// is closed.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return fmt.Errorf("worker pool is closed")
	}

	select {
	case p.jobs <- job:
		metrics.Counter(metrics.MetricJobsSubmitted, metrics.Labels{
			metrics.LabelJobType: job.Type(),
		})
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

// Close stops accepting jobs. Workers drain the queue and the results
// channel is closed once they exit.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.jobs)
}

// Results returns the channel of job results. Callers must drain it.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Run executes jobs on a fresh pool and returns one Result per job that was
// queued. When ctx ends early, jobs never queued are absent and jobs queued
// but not started come back Skipped.
func Run(ctx context.Context, config Config, jobs []Job) []Result {
	pool := New(config)
	pool.Start(ctx)

	go func() {
		defer pool.Close()
		for _, job := range jobs {
			if err := pool.Submit(ctx, job); err != nil {
				return
			}
		}
	}()

	results := make([]Result, 0, len(jobs))
	for res := range pool.Results() {
		results = append(results, res)
	}
	return results
}

// worker represents a single worker goroutine.
type worker struct {
	id   int
	pool *Pool
}

func (w *worker) run() {
	defer w.pool.wg.Done()

	for job := range w.pool.jobs {
		w.pool.results <- w.executeJob(job)
	}
}

// executeJob executes a single job, retrying retryable failures.
func (w *worker) executeJob(job Job) Result {
	ctx := w.pool.ctx
	result := Result{Job: job, JobID: job.ID(), JobType: job.Type()}

	if err := ctx.Err(); err != nil {
		result.Error = err
		result.Skipped = true
		return result
	}

	if w.pool.limiter != nil {
		if err := w.pool.limiter.Wait(ctx); err != nil {
			result.Error = err
			result.Skipped = true
			return result
		}
	}

	timer := metrics.NewTimer(metrics.MetricJobDuration, metrics.Labels{
		metrics.LabelJobType: job.Type(),
	})
	defer timer.Stop()

	start := time.Now()
	for attempt := 0; ; attempt++ {
		err := job.Execute(ctx)
		result.Error = err
		result.Retries = attempt

		if err == nil || attempt >= w.pool.config.MaxRetries || !errors.IsRetryable(err) {
			break
		}

		logging.Debug("Job failed, retrying",
			"job_id", job.ID(),
			"job_type", job.Type(),
			"attempt", attempt+1,
			"worker_id", w.id,
			"error", err)

		select {
		case <-time.After(w.pool.config.RetryDelay):
		case <-ctx.Done():
			result.Duration = time.Since(start)
			return result
		}
	}
	result.Duration = time.Since(start)

	status := "success"
	if result.Error != nil {
		status = "error"
		metrics.Counter(metrics.MetricJobErrors, metrics.Labels{
			metrics.LabelJobType: job.Type(),
		})
	}
	metrics.Counter(metrics.MetricJobsCompleted, metrics.Labels{
		metrics.LabelJobType: job.Type(),
		metrics.LabelStatus:  status,
	})
	metrics.Histogram(metrics.MetricJobRetries, float64(result.Retries), metrics.Labels{
		metrics.LabelJobType: job.Type(),
	})

	return result
}

// FuncJob adapts a function to the Job interface.
type FuncJob struct {
	id      string
	jobType string
	fn      func(ctx context.Context) error
}

// NewFuncJob creates a job that runs fn.
func NewFuncJob(id, jobType string, fn func(ctx context.Context) error) *FuncJob {
	return &FuncJob{id: id, jobType: jobType, fn: fn}
}

// Execute implements the Job interface.
func (j *FuncJob) Execute(ctx context.Context) error {
	return j.fn(ctx)
}

// ID implements the Job interface.
func (j *FuncJob) ID() string {
	return j.id
}

// Type implements the Job interface.
func (j *FuncJob) Type() string {
	return j.jobType
}
