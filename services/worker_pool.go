// Package services holds the outbound collaborators of the notification
// engine: push presenters, the dispatch worker pool and health checks.
package services

import (
	"context"
	"sync"
	"time"

	"github.com/eventcrew/eventcrew-backend/config"
	"github.com/eventcrew/eventcrew-backend/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const defaultJobTimeout = 30 * time.Second

// Job represents a unit of work for the worker pool.
type Job struct {
	// Name is a descriptive name for logging purposes
	Name    string
	Execute func(ctx context.Context) error
}

// WorkerPool runs jobs on a fixed number of goroutines fed by a bounded queue.
// Submit never blocks: a full queue drops the job.
type WorkerPool struct {
	jobQueue   chan Job
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	logger     *zap.SugaredLogger
	metrics    *workerPoolMetrics
	config     config.WorkerPoolConfig
	jobTimeout time.Duration
	mu         sync.Mutex
	running    bool
	stopped    bool
}

type workerPoolMetrics struct {
	queueDepth    prometheus.Gauge
	activeWorkers prometheus.Gauge
	completedJobs prometheus.Counter
	droppedJobs   prometheus.Counter
	errorCount    prometheus.Counter
	jobDuration   prometheus.Histogram
}

var (
	wpMetricsInstance *workerPoolMetrics
	wpMetricsOnce     sync.Once
	wpDefaultRegistry = prometheus.DefaultRegisterer
)

func newWorkerPoolMetrics() *workerPoolMetrics {
	wpMetricsOnce.Do(func() {
		wpMetricsInstance = &workerPoolMetrics{
			queueDepth: promauto.With(wpDefaultRegistry).NewGauge(prometheus.GaugeOpts{
				Name: "push_dispatch_queue_depth",
				Help: "Current number of push jobs waiting in queue",
			}),
			activeWorkers: promauto.With(wpDefaultRegistry).NewGauge(prometheus.GaugeOpts{
				Name: "push_dispatch_active_workers",
				Help: "Current number of workers presenting a push",
			}),
			completedJobs: promauto.With(wpDefaultRegistry).NewCounter(prometheus.CounterOpts{
				Name: "push_dispatch_completed_jobs_total",
				Help: "Total number of finished push jobs",
			}),
			droppedJobs: promauto.With(wpDefaultRegistry).NewCounter(prometheus.CounterOpts{
				Name: "push_dispatch_dropped_jobs_total",
				Help: "Total number of push jobs dropped because the queue was full or closed",
			}),
			errorCount: promauto.With(wpDefaultRegistry).NewCounter(prometheus.CounterOpts{
				Name: "push_dispatch_errors_total",
				Help: "Total number of failed push jobs",
			}),
			jobDuration: promauto.With(wpDefaultRegistry).NewHistogram(prometheus.HistogramOpts{
				Name:    "push_dispatch_job_duration_seconds",
				Help:    "Time taken to execute push jobs",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			}),
		}
	})
	return wpMetricsInstance
}

// resetWorkerPoolMetricsForTesting resets the metrics singleton for test isolation.
func resetWorkerPoolMetricsForTesting() {
	wpDefaultRegistry = prometheus.NewRegistry()
	wpMetricsInstance = nil
	wpMetricsOnce = sync.Once{}
}

// NewWorkerPool creates a pool. Start must be called before jobs run.
func NewWorkerPool(cfg config.WorkerPoolConfig) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		jobQueue:   make(chan Job, cfg.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger.GetLogger().Named("worker-pool"),
		metrics:    newWorkerPoolMetrics(),
		config:     cfg,
		jobTimeout: defaultJobTimeout,
	}
}

// Start launches the workers. Repeated calls are no-ops.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.running || wp.stopped {
		wp.logger.Warn("Worker pool already started")
		return
	}
	wp.running = true

	wp.logger.Infow("Starting worker pool",
		"maxWorkers", wp.config.MaxWorkers,
		"queueSize", wp.config.QueueSize)

	for i := 0; i < wp.config.MaxWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for {
		select {
		case <-wp.ctx.Done():
			return
		case job, ok := <-wp.jobQueue:
			if !ok {
				return
			}
			wp.executeJob(id, job)
		}
	}
}

func (wp *WorkerPool) executeJob(workerID int, job Job) {
	wp.metrics.activeWorkers.Inc()
	wp.metrics.queueDepth.Dec()
	defer wp.metrics.activeWorkers.Dec()

	start := time.Now()
	jobCtx, cancel := context.WithTimeout(wp.ctx, wp.jobTimeout)
	defer cancel()

	if err := job.Execute(jobCtx); err != nil {
		wp.logger.Errorw("Job execution failed",
			"job", job.Name,
			"workerId", workerID,
			"error", err,
			"duration", time.Since(start))
		wp.metrics.errorCount.Inc()
	}

	wp.metrics.jobDuration.Observe(time.Since(start).Seconds())
	wp.metrics.completedJobs.Inc()
}

// Submit queues job and reports whether it was accepted. It returns false
// when the queue is full or the pool has been shut down.
func (wp *WorkerPool) Submit(job Job) bool {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.stopped {
		wp.metrics.droppedJobs.Inc()
		wp.logger.Warnw("Job dropped - pool stopped", "job", job.Name)
		return false
	}

	select {
	case wp.jobQueue <- job:
		wp.metrics.queueDepth.Inc()
		return true
	default:
		wp.metrics.droppedJobs.Inc()
		wp.logger.Warnw("Job dropped - queue full",
			"job", job.Name,
			"queueSize", wp.config.QueueSize)
		return false
	}
}

// Dispatch submits fn as a named job. It lets the pool serve as the push
// dispatcher of an inbox delivery gate.
func (wp *WorkerPool) Dispatch(name string, fn func(ctx context.Context) error) bool {
	return wp.Submit(Job{Name: name, Execute: fn})
}

// Shutdown stops accepting jobs, lets workers drain the queue and waits for
// them until ctx ends.
func (wp *WorkerPool) Shutdown(ctx context.Context) error {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return nil
	}
	wasRunning := wp.running
	wp.running = false
	wp.stopped = true
	close(wp.jobQueue)
	wp.mu.Unlock()

	if !wasRunning {
		wp.cancel()
		return nil
	}

	wp.logger.Info("Initiating worker pool shutdown...")

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.cancel()
		wp.logger.Info("Worker pool shutdown complete")
		return nil
	case <-ctx.Done():
		wp.cancel()
		wp.logger.Warn("Worker pool shutdown timed out - cancelling in-flight jobs")
		return ctx.Err()
	}
}

// ShutdownTimeout is the configured drain budget for Shutdown.
func (wp *WorkerPool) ShutdownTimeout() time.Duration {
	if wp.config.ShutdownTimeoutSeconds <= 0 {
		return defaultJobTimeout
	}
	return time.Duration(wp.config.ShutdownTimeoutSeconds) * time.Second
}

// QueueDepth returns the current number of jobs waiting in the queue.
func (wp *WorkerPool) QueueDepth() int {
	return len(wp.jobQueue)
}

// IsRunning returns whether the worker pool is currently running.
func (wp *WorkerPool) IsRunning() bool {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.running
}
