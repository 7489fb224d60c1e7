package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/timmy/vidflow/internal/domain"
	"github.com/timmy/vidflow/internal/logger"
)

var (
	// ErrPoolFull is returned by TrySubmit when every worker is busy and the backlog is full.
	ErrPoolFull = errors.New("worker pool backlog is full")
	// ErrPoolStopped is returned once Stop has been called.
	ErrPoolStopped = errors.New("worker pool is stopped")
)

// RejectionPolicy decides what Submit does with a task when the backlog is full.
type RejectionPolicy string

const (
	// PolicyCallerRuns executes the task synchronously on the submitting goroutine.
	PolicyCallerRuns RejectionPolicy = "caller-runs"
	// PolicyDropWithAlert discards the task, counts it and calls the reject handler.
	PolicyDropWithAlert RejectionPolicy = "drop-with-alert"
)

// SubmitResult reports how Submit disposed of a task.
type SubmitResult int

const (
	Queued SubmitResult = iota
	RanOnCaller
	Dropped
)

func (r SubmitResult) String() string {
	switch r {
	case Queued:
		return "queued"
	case RanOnCaller:
		return "ran_on_caller"
	case Dropped:
		return "dropped"
	}
	return "unknown"
}

// Task is one unit of work. Name and Args identify the task in failure logs.
// OnDone, if set, receives the result of Run (a recovered panic becomes an error)
// and runs on the same goroutine after Run returns.
type Task struct {
	Name   string
	Args   logger.Fields
	Run    func(ctx context.Context) error
	OnDone func(err error)
}

// FailureHandler is called for every task that returns an error or panics.
type FailureHandler func(task Task, err error)

// RejectHandler is called when a task is dropped under PolicyDropWithAlert.
type RejectHandler func(task Task, snap domain.CapacitySnapshot)

// Probe exposes live pool counters. Implementations must be non-blocking.
type Probe interface {
	Sample() domain.CapacitySnapshot
}

// Config represents pool configuration
type Config struct {
	Workers     int             // fixed number of worker goroutines
	QueueSize   int             // bounded backlog
	TaskTimeout time.Duration   // per-task deadline, zero disables
	Policy      RejectionPolicy // applied by Submit when the backlog is full
	OnFailure   FailureHandler
	OnReject    RejectHandler
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Workers:     10,
		QueueSize:   50,
		TaskTimeout: 90 * time.Minute,
		Policy:      PolicyDropWithAlert,
	}
}

// Validate validates configuration
func (cfg *Config) Validate() error {
	if cfg.Workers < 1 {
		return errors.New("workers must be greater than 0")
	}
	if cfg.QueueSize < 1 {
		return errors.New("queue size must be greater than 0")
	}
	if cfg.TaskTimeout < 0 {
		return errors.New("task timeout must be greater than or equal to 0")
	}
	switch cfg.Policy {
	case PolicyCallerRuns, PolicyDropWithAlert:
	default:
		return fmt.Errorf("unknown rejection policy %q", cfg.Policy)
	}
	return nil
}

// Pool is a fixed-size worker pool with a bounded backlog. A single Pool is
// constructed at startup and shared by the admission router, the drain
// scheduler and the alert monitor.
type Pool struct {
	workers     int
	queueSize   int
	taskTimeout time.Duration
	policy      RejectionPolicy
	onFailure   FailureHandler
	onReject    RejectHandler

	tasks   chan Task
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex // guards stopped against sends on a closed channel
	stopped bool

	active    atomic.Int64
	queued    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

// New creates a pool and starts its workers.
func New(cfg *Config) (*Pool, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		workers:     cfg.Workers,
		queueSize:   cfg.QueueSize,
		taskTimeout: cfg.TaskTimeout,
		policy:      cfg.Policy,
		onFailure:   cfg.OnFailure,
		onReject:    cfg.OnReject,
		tasks:       make(chan Task, cfg.QueueSize),
		ctx:         ctx,
		cancel:      cancel,
	}
	if p.onFailure == nil {
		p.onFailure = logFailure
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p, nil
}

// Submit runs or enqueues task. When the backlog is full the configured
// rejection policy applies; the caller never sees ErrPoolFull.
func (p *Pool) Submit(task Task) (SubmitResult, error) {
	err := p.TrySubmit(task)
	if err == nil {
		return Queued, nil
	}
	if !errors.Is(err, ErrPoolFull) {
		return Dropped, err
	}

	switch p.policy {
	case PolicyCallerRuns:
		logger.With(logger.Fields{
			logger.FieldComponent: "pool",
			"task":                task.Name,
		}).Warn(p.ctx, "Backlog full, running task on caller")
		// Caller-run work occupies capacity like a worker does.
		p.active.Add(1)
		defer p.active.Add(-1)
		p.execute(task)
		return RanOnCaller, nil
	default:
		p.rejected.Add(1)
		snap := p.Sample()
		logger.With(logger.Fields{
			logger.FieldComponent: "pool",
			"task":                task.Name,
			"active":              snap.ActiveWorkers,
			"queued":              snap.QueuedTasks,
		}).Error(p.ctx, "Backlog full, task dropped: args=%v", task.Args)
		if p.onReject != nil {
			p.onReject(task, snap)
		}
		if task.OnDone != nil {
			task.OnDone(ErrPoolFull)
		}
		return Dropped, nil
	}
}

// TrySubmit enqueues task without applying the rejection policy.
func (p *Pool) TrySubmit(task Task) error {
	if task.Run == nil {
		return errors.New("task has no Run function")
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	// Count before the send so a fast worker never drives the gauge negative.
	p.queued.Add(1)
	select {
	case p.tasks <- task:
		return nil
	default:
		p.queued.Add(-1)
		return ErrPoolFull
	}
}

// Stop stops accepting tasks and waits for queued and running tasks to finish.
// If ctx expires first, running tasks have their contexts cancelled.
func (p *Pool) Stop(ctx context.Context) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.cancel()
		<-done
	}
	p.cancel()
}

// Sample returns live counters. It only reads atomics.
func (p *Pool) Sample() domain.CapacitySnapshot {
	queued := p.queued.Load()
	if queued < 0 {
		queued = 0
	}
	return domain.CapacitySnapshot{
		ActiveWorkers: int(p.active.Load()),
		QueuedTasks:   int(queued),
		MaxWorkers:    p.workers,
		MaxQueue:      p.queueSize,
		Completed:     p.completed.Load(),
		Failed:        p.failed.Load(),
		Rejected:      p.rejected.Load(),
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for task := range p.tasks {
		p.queued.Add(-1)
		p.active.Add(1)
		p.execute(task)
		p.active.Add(-1)
	}
}

// execute runs a task with its timeout and routes failures to the handler.
// Panics are recovered so the worker survives.
func (p *Pool) execute(task Task) {
	ctx := p.ctx
	var cancel context.CancelFunc
	if p.taskTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.taskTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	err := runGuarded(ctx, task)
	if err != nil {
		p.failed.Add(1)
		p.onFailure(task, err)
	} else {
		p.completed.Add(1)
	}

	if task.OnDone != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.onFailure(task, fmt.Errorf("completion callback panicked: %v", r))
				}
			}()
			task.OnDone(err)
		}()
	}
}

func runGuarded(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.Name, r)
		}
	}()
	return task.Run(ctx)
}

func logFailure(task Task, err error) {
	fields := logger.Fields{
		logger.FieldComponent: "pool",
		"task":                task.Name,
	}
	for k, v := range task.Args {
		fields[k] = v
	}
	logger.GetDefault().WithFields(fields).WithError(err).Error("Task failed")
}
