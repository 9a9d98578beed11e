// Package worker runs inference jobs on a bounded goroutine pool.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

var (
	ErrQueueFull  = errors.New("worker queue is full")
	ErrPoolClosed = errors.New("worker pool is shutting down")
)

// Task is one unit of work. The context is detached from any request and
// bounded by the pool timeout.
type Task struct {
	ID  string
	Run func(ctx context.Context)
}

type Pool struct {
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan Task
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
	active map[string]int
}

type Option func(*Pool)

func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.ch = make(chan Task, n)
		}
	}
}

// WithTaskTimeout bounds each task. Zero, the default, leaves tasks
// unbounded. A positive timeout cancels the task context mid-inference, so
// the job is recorded FAILED instead of running to completion.
func WithTaskTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func NewPool(logger *slog.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		logger:  logger,
		workers: 2,
		ch:      make(chan Task, 64),
		active:  make(map[string]int),
	}
	for _, o := range opts {
		o(p)
	}
	p.start()
	return p
}

func (p *Pool) start() {
	p.once.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go func(workerID int) {
				defer p.wg.Done()
				p.logger.Debug("worker started", "worker_id", workerID)

				for task := range p.ch {
					p.execute(workerID, task)
				}

				p.logger.Debug("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (p *Pool) execute(workerID int, task Task) {
	ctx := context.Background()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", "worker_id", workerID, "content_id", task.ID, "panic", r)
		}
	}()

	p.track(task.ID, 1)
	defer p.track(task.ID, -1)

	start := time.Now()
	task.Run(ctx)
	p.logger.Info("task finished", "worker_id", workerID, "content_id", task.ID, "duration", time.Since(start))
}

// Submit hands a task to the pool without blocking. A full queue is
// reported as ErrQueueFull so callers can shed load.
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.logger.Warn("cannot submit: pool is shutting down", "content_id", task.ID)
		return ErrPoolClosed
	}
	select {
	case p.ch <- task:
		p.logger.Info("queued task", "content_id", task.ID)
		return nil
	default:
		p.logger.Warn("queue full, rejecting task", "content_id", task.ID)
		return ErrQueueFull
	}
}

func (p *Pool) track(id string, delta int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active[id] += delta
	if p.active[id] <= 0 {
		delete(p.active, id)
	}
}

// Running returns the sorted IDs of tasks a worker is executing.
func (p *Pool) Running() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.active))
	for id := range p.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Pending reports how many tasks are waiting for a worker.
func (p *Pool) Pending() int {
	return len(p.ch)
}

// Shutdown stops accepting tasks and waits for queued ones to drain or
// for ctx to expire.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.ch)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); p.wg.Wait() }()

	select {
	case <-ctx.Done():
		p.logger.Warn("shutdown interrupted by context")
		return ctx.Err()
	case <-done:
		p.logger.Info("queue drained, shutdown complete")
		return nil
	}
}
