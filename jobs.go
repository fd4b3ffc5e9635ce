package admission

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/sync/errgroup"
)

// Job is a deferred side effect. Its error is logged and dropped.
type Job func(ctx context.Context) error

// JobQueue schedules fire-and-forget jobs after a delay.
type JobQueue interface {
	Schedule(name string, delay time.Duration, job Job)
}

type scheduledJob struct {
	name string
	run  Job
}

// DelayedQueue runs jobs on a pool of workers once their delay elapsed.
type DelayedQueue struct {
	inbox   chan scheduledJob
	workers int
	timeout time.Duration
	metrics *Metrics
	logger  Logger

	mu      sync.Mutex
	closed  bool
	timers  map[*time.Timer]struct{}
	cancel  context.CancelFunc
	group   *errgroup.Group
	pending sync.WaitGroup
}

var _ JobQueue = (*DelayedQueue)(nil)

// NewDelayedQueue creates a queue with the given number of workers and
// inbox capacity. Call Start before jobs are due.
func NewDelayedQueue(workers, capacity int) *DelayedQueue {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 64
	}
	_, logger := ResolveLogger("admission.jobs", nil, nil)
	return &DelayedQueue{
		inbox:   make(chan scheduledJob, capacity),
		workers: workers,
		timeout: 30 * time.Second,
		logger:  logger,
		timers:  map[*time.Timer]struct{}{},
	}
}

// WithLoggerProvider resolves the queue logger from provider.
func (q *DelayedQueue) WithLoggerProvider(provider LoggerProvider) *DelayedQueue {
	_, q.logger = ResolveLogger("admission.jobs", provider, q.logger)
	return q
}

// WithMetrics counts failed jobs.
func (q *DelayedQueue) WithMetrics(m *Metrics) *DelayedQueue {
	q.metrics = m
	return q
}

// WithJobTimeout bounds every job run.
func (q *DelayedQueue) WithJobTimeout(timeout time.Duration) *DelayedQueue {
	if timeout > 0 {
		q.timeout = timeout
	}
	return q
}

// Start launches the workers. They stop when ctx is done or on Stop.
func (q *DelayedQueue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.group != nil {
		return
	}

	ctx, q.cancel = context.WithCancel(ctx)
	q.group, ctx = errgroup.WithContext(ctx)
	for range q.workers {
		q.group.Go(func() error {
			return q.work(ctx)
		})
	}
}

// Schedule implements JobQueue.
func (q *DelayedQueue) Schedule(name string, delay time.Duration, job Job) {
	if job == nil {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("job dropped, queue is stopped", "job", name)
		return
	}

	q.pending.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		defer q.pending.Done()
		q.mu.Lock()
		delete(q.timers, timer)
		q.mu.Unlock()

		select {
		case q.inbox <- scheduledJob{name: name, run: job}:
		default:
			q.logger.Error("job dropped, queue is full", "job", name)
			q.metrics.bestEffortFailed("job_dropped")
		}
	})
	q.timers[timer] = struct{}{}
}

// Stop cancels timers that did not fire yet, lets the workers drain
// the inbox and waits for them.
func (q *DelayedQueue) Stop() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for timer := range q.timers {
		if timer.Stop() {
			q.pending.Done()
		}
		delete(q.timers, timer)
	}
	q.mu.Unlock()

	q.pending.Wait()
	close(q.inbox)

	if q.group == nil {
		return nil
	}
	err := q.group.Wait()
	q.cancel()
	if goerrors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (q *DelayedQueue) work(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job, ok := <-q.inbox:
			if !ok {
				return nil
			}
			q.run(ctx, job)
		}
	}
}

func (q *DelayedQueue) run(ctx context.Context, job scheduledJob) {
	runJob(ctx, q.timeout, job, q.logger, q.metrics)
}

func runJob(ctx context.Context, timeout time.Duration, job scheduledJob, logger Logger, metrics *Metrics) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			logger.Error("deferred job panicked", "job", job.name, "panic", p)
			metrics.bestEffortFailed(job.name)
		}
	}()

	if err := job.run(ctx); err != nil {
		logger.Error("deferred job failed", "job", job.name, "error", err)
		metrics.bestEffortFailed(job.name)
	}
}

// TimerQueue runs every job on its own goroutine once its delay elapsed.
// It needs no lifecycle and is the default queue of the engine and the
// login handler. Servers that drain jobs on shutdown use DelayedQueue.
type TimerQueue struct {
	timeout time.Duration
	metrics *Metrics
	logger  Logger
}

var _ JobQueue = (*TimerQueue)(nil)

func NewTimerQueue(logger Logger) *TimerQueue {
	if logger == nil {
		logger = defaultLogger()
	}
	return &TimerQueue{timeout: 30 * time.Second, logger: logger}
}

// WithMetrics counts failed jobs.
func (q *TimerQueue) WithMetrics(m *Metrics) *TimerQueue {
	q.metrics = m
	return q
}

// Schedule implements JobQueue.
func (q *TimerQueue) Schedule(name string, delay time.Duration, job Job) {
	if job == nil {
		return
	}
	time.AfterFunc(delay, func() {
		runJob(context.Background(), q.timeout, scheduledJob{name: name, run: job}, q.logger, q.metrics)
	})
}

// ScheduledJob is a job captured by ManualQueue.
type ScheduledJob struct {
	Name  string
	Delay time.Duration
	Run   Job
}

// ManualQueue records jobs and runs them only when asked, so schedules can
// be asserted without waiting on the clock.
type ManualQueue struct {
	mu   sync.Mutex
	jobs []ScheduledJob
}

var _ JobQueue = (*ManualQueue)(nil)

// Schedule implements JobQueue.
func (m *ManualQueue) Schedule(name string, delay time.Duration, job Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, ScheduledJob{Name: name, Delay: delay, Run: job})
}

// Jobs returns the scheduled jobs in order.
func (m *ManualQueue) Jobs() []ScheduledJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ScheduledJob, len(m.jobs))
	copy(out, m.jobs)
	return out
}

// RunAll runs and clears the scheduled jobs, returning their errors.
func (m *ManualQueue) RunAll(ctx context.Context) []error {
	m.mu.Lock()
	jobs := m.jobs
	m.jobs = nil
	m.mu.Unlock()

	var errs []error
	for _, job := range jobs {
		if err := job.Run(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
