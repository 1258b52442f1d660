// ABOUTME: Bounded worker pool for blocking work the agent loop must not do itself
// ABOUTME: Results come back through a channel and callbacks run on the draining goroutine

package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

var (
	ErrPoolClosed   = errors.New("pool is closed")
	ErrPoolFull     = errors.New("pool is full")
	ErrTaskPanicked = errors.New("task panicked")
)

// Task is blocking work run off the agent loop.
type Task func(ctx context.Context) (any, error)

// Callback receives a task's outcome on the goroutine that calls Drain.
type Callback func(result any, err error)

// Metrics receives pool counters. *metrics.Collector implements it.
type Metrics interface {
	TaskStarted()
	TaskFinished(duration time.Duration, err error)
}

type noopMetrics struct{}

func (noopMetrics) TaskStarted()                      {}
func (noopMetrics) TaskFinished(time.Duration, error) {}

// Config configures the pool.
type Config struct {
	// MaxWorkers bounds concurrently running tasks.
	MaxWorkers int
	// QueueSize bounds tasks waiting for a worker.
	QueueSize int
	Logger    *slog.Logger
	Metrics   Metrics
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxWorkers: 4,
		QueueSize:  256,
	}
}

type completion struct {
	callback Callback
	result   any
	err      error
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Submitted int64
	Completed int64
	Failed    int64
	Rejected  int64
	Pending   int64
}

// Pool runs tasks on at most MaxWorkers goroutines at a time. A task's
// callback is not run by the worker; it is queued and run by Drain, so the
// agent loop sees results on its own goroutine.
type Pool struct {
	sem     *semaphore.Weighted
	results chan completion
	ready   chan struct{}
	limit   int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
	pending   atomic.Int64

	metrics Metrics
	logger  *slog.Logger
}

// New creates a pool.
func New(cfg Config) *Pool {
	def := DefaultConfig()
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = def.MaxWorkers
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var m Metrics = noopMetrics{}
	if cfg.Metrics != nil {
		m = cfg.Metrics
	}

	limit := int64(cfg.MaxWorkers + cfg.QueueSize)
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:     semaphore.NewWeighted(int64(cfg.MaxWorkers)),
		results: make(chan completion, limit),
		ready:   make(chan struct{}, 1),
		limit:   limit,
		ctx:     ctx,
		cancel:  cancel,
		metrics: m,
		logger:  logger.With("component", "pool"),
	}
}

// Submit schedules task without blocking. callback may be nil. Submit fails
// with ErrPoolFull when MaxWorkers+QueueSize results are outstanding.
func (p *Pool) Submit(task Task, callback Callback) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	if p.pending.Add(1) > p.limit {
		p.pending.Add(-1)
		p.rejected.Add(1)
		return ErrPoolFull
	}
	p.submitted.Add(1)

	p.wg.Add(1)
	go p.run(task, callback)
	return nil
}

func (p *Pool) run(task Task, callback Callback) {
	defer p.wg.Done()

	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		p.deliver(completion{callback: callback, err: fmt.Errorf("%w: %v", ErrPoolClosed, err)})
		return
	}
	p.metrics.TaskStarted()
	start := time.Now()
	result, err := p.execute(task)
	p.sem.Release(1)
	p.metrics.TaskFinished(time.Since(start), err)

	if err != nil {
		p.failed.Add(1)
	} else {
		p.completed.Add(1)
	}
	p.deliver(completion{callback: callback, result: result, err: err})
}

func (p *Pool) execute(task Task) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", "panic", r)
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	return task(p.ctx)
}

// deliver never blocks: pending is bounded by the channel capacity.
func (p *Pool) deliver(c completion) {
	p.results <- c
	select {
	case p.ready <- struct{}{}:
	default:
	}
}

// Ready is signalled after a task finishes. A goroutine that owns the pool
// can wait on it and then call Drain.
func (p *Pool) Ready() <-chan struct{} { return p.ready }

// Drain runs the callbacks of every finished task and returns how many ran.
func (p *Pool) Drain() int {
	n := 0
	for {
		select {
		case c := <-p.results:
			p.pending.Add(-1)
			if c.callback != nil {
				c.callback(c.result, c.err)
			}
			n++
		default:
			return n
		}
	}
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
		Pending:   p.pending.Load(),
	}
}

// Close stops accepting tasks, cancels running ones through their context
// and waits for every worker to finish. Undrained results are discarded.
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.logger.Debug("pool closed", "submitted", p.submitted.Load(), "failed", p.failed.Load())
}
