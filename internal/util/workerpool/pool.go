// Package workerpool runs submitted tasks on a fixed set of goroutines. The
// contention simulator uses it to fire many optimistic transactions at the
// same document at once.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task represents a unit of work to be executed
type Task struct {
	ID string
	Fn func(context.Context) error
}

// Result describes one finished task
type Result struct {
	TaskID   string
	Err      error
	Duration time.Duration
}

// Config holds worker pool configuration
type Config struct {
	Name       string
	MaxWorkers int
	QueueSize  int
	Logger     *zap.Logger
	// OnResult, when set, is called from the worker goroutine after every task.
	OnResult func(Result)
}

// Pool manages a bounded set of goroutines draining a task queue
type Pool struct {
	name     string
	workers  int
	queue    chan Task
	onResult func(Result)
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	active    atomic.Int32
}

// New creates a pool and starts its workers. Tasks receive a context derived
// from ctx, which is cancelled when the pool is stopped.
func New(ctx context.Context, cfg Config) *Pool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 10
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	poolCtx, cancel := context.WithCancel(ctx)
	p := &Pool{
		name:     cfg.Name,
		workers:  cfg.MaxWorkers,
		queue:    make(chan Task, cfg.QueueSize),
		onResult: cfg.OnResult,
		logger:   cfg.Logger,
		ctx:      poolCtx,
		cancel:   cancel,
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.logger.Debug("Worker pool started",
		zap.String("name", p.name),
		zap.Int("max_workers", p.workers),
		zap.Int("queue_size", cfg.QueueSize))

	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for task := range p.queue {
		p.execute(id, task)
	}
}

func (p *Pool) execute(workerID int, task Task) {
	p.active.Add(1)
	defer p.active.Add(-1)

	start := time.Now()
	err := p.safeExecute(task)
	res := Result{TaskID: task.ID, Err: err, Duration: time.Since(start)}

	if err != nil {
		p.failed.Add(1)
		p.logger.Debug("Task failed",
			zap.String("pool", p.name),
			zap.Int("worker_id", workerID),
			zap.String("task_id", task.ID),
			zap.Duration("duration", res.Duration),
			zap.Error(err))
	} else {
		p.completed.Add(1)
	}

	if p.onResult != nil {
		p.onResult(res)
	}
}

// safeExecute executes a task with panic recovery
func (p *Pool) safeExecute(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.ID, r)
			p.logger.Error("Task panic recovered",
				zap.String("pool", p.name),
				zap.String("task_id", task.ID),
				zap.Any("panic", r))
		}
	}()

	if err := p.ctx.Err(); err != nil {
		return err
	}
	return task.Fn(p.ctx)
}

// Submit queues a task, blocking while the queue is full. It fails once the
// pool is closed or ctx is done.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return fmt.Errorf("worker pool '%s' is closed", p.name)
	}

	select {
	case p.queue <- task:
		p.submitted.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return fmt.Errorf("worker pool '%s' is stopped: %w", p.name, p.ctx.Err())
	}
}

// Wait closes the pool to new tasks and blocks until every queued task has
// run, or until timeout elapses, in which case outstanding tasks see a
// cancelled context.
func (p *Pool) Wait(timeout time.Duration) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-time.After(timeout):
		p.cancel()
		<-done
		return fmt.Errorf("worker pool '%s' did not drain within %v", p.name, timeout)
	}
}

// Stats returns current worker pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Name:          p.name,
		MaxWorkers:    p.workers,
		ActiveWorkers: int(p.active.Load()),
		QueuedTasks:   len(p.queue),
		Submitted:     p.submitted.Load(),
		Completed:     p.completed.Load(),
		Failed:        p.failed.Load(),
	}
}

// Stats represents worker pool statistics
type Stats struct {
	Name          string
	MaxWorkers    int
	ActiveWorkers int
	QueuedTasks   int
	Submitted     uint64
	Completed     uint64
	Failed        uint64
}

// SuccessRate returns the task success rate as a percentage
func (s Stats) SuccessRate() float64 {
	finished := s.Completed + s.Failed
	if finished == 0 {
		return 100.0
	}
	return float64(s.Completed) / float64(finished) * 100.0
}
