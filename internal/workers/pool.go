// Package workers provides the bounded worker pools that run discovery,
// port scan and detection probes. Submission honors cancellation so an
// interrupt stops new probes promptly, while jobs already handed to a worker
// run on a detached context and finish by their own timeout.
package workers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/anstrom/netscan/internal/errors"
	"github.com/anstrom/netscan/internal/logging"
	"github.com/anstrom/netscan/internal/metrics"
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

// Config holds configuration for a worker pool.
type Config struct {
	// Name labels the pool in logs and metrics.
	Name string
	// Size is the number of worker goroutines.
	Size int
	// QueueSize is the number of jobs buffered ahead of the workers.
	QueueSize int
	// RateLimit caps job starts per second (0 = no limit).
	RateLimit int
	// Burst is the limiter bucket size; defaults to 1.
	Burst int
	// JobTimeout bounds a single job (0 = job enforces its own deadlines).
	JobTimeout time.Duration
}

// DefaultConfig returns a default worker pool configuration.
func DefaultConfig() Config {
	return Config{
		Name:      "default",
		Size:      10,
		QueueSize: 100,
	}
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Submitted int64
	Completed int64
	Failed    int64
}

// Pool runs submitted jobs on a fixed number of goroutines.
type Pool struct {
	config  Config
	jobs    chan Job
	limiter *rate.Limiter
	metrics *metrics.PrometheusMetrics
	logger  *logging.Logger
	wg      sync.WaitGroup

	startOnce sync.Once
	closeOnce sync.Once
	closed    atomic.Bool

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// Option customizes a Pool.
type Option func(*Pool)

// WithMetrics routes pool activity to m instead of the global metrics.
func WithMetrics(m *metrics.PrometheusMetrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// WithLogger sets the pool logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// New creates a worker pool. Call Start before submitting.
func New(config Config, opts ...Option) *Pool {
	if config.Size <= 0 {
		config.Size = 1
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}
	if config.Name == "" {
		config.Name = "default"
	}

	p := &Pool{
		config:  config,
		jobs:    make(chan Job, config.QueueSize),
		metrics: metrics.GetGlobalMetrics(),
		logger:  logging.Default(),
	}
	if config.RateLimit > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithComponent("workers").WithFields("pool", config.Name)
	return p
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.logger.Debug("Starting worker pool",
			"worker_count", p.config.Size,
			"queue_size", p.config.QueueSize,
			"rate_limit", p.config.RateLimit)

		for i := 0; i < p.config.Size; i++ {
			p.wg.Add(1)
			go p.run(i)
		}
	})
}

// Submit queues job, blocking while the queue is full. It returns a
// CodeCanceled error without queueing when ctx is done first, which is how
// an interrupt stops dispatch of new probes.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	if p.closed.Load() {
		return errors.NewScanError(errors.CodeCanceled, fmt.Sprintf("worker pool %s is closed", p.config.Name))
	}
	if err := ctx.Err(); err != nil {
		return errors.WrapScanError(errors.CodeCanceled, "submission canceled", err)
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return errors.WrapScanError(errors.CodeCanceled, "submission canceled", err)
		}
	}

	select {
	case p.jobs <- job:
		p.submitted.Add(1)
		return nil
	case <-ctx.Done():
		return errors.WrapScanError(errors.CodeCanceled, "submission canceled", ctx.Err())
	}
}

// Close stops accepting jobs and waits until every queued job has run.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.jobs)
	})
	p.wg.Wait()
	p.logger.Debug("Worker pool drained",
		"completed", p.completed.Load(),
		"failed", p.failed.Load())
}

// Stats returns the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.execute(id, job)
	}
}

func (p *Pool) execute(workerID int, job Job) {
	ctx := context.Background()
	if p.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.JobTimeout)
		defer cancel()
	}

	p.metrics.JobStarted(p.config.Name)
	start := time.Now()
	err := p.safeExecute(ctx, job)
	p.metrics.JobFinished(p.config.Name, err)

	if err != nil {
		p.failed.Add(1)
		p.logger.Debug("Job failed",
			"job_id", job.ID(),
			"job_type", job.Type(),
			"worker_id", workerID,
			"error", err)
		return
	}
	p.completed.Add(1)
	p.logger.Debug("Job completed",
		"job_id", job.ID(),
		"job_type", job.Type(),
		"worker_id", workerID,
		"duration", time.Since(start))
}

// safeExecute turns a panicking job into an error so one bad probe cannot
// take the session down.
func (p *Pool) safeExecute(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.ID(), r)
		}
	}()
	return job.Execute(ctx)
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
