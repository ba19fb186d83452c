package ingest

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Task is a unit of background work. ctx is cancelled when Shutdown gives up waiting.
type Task func(ctx context.Context)

// Pool runs tasks on a fixed number of workers fed by a bounded queue.
type Pool struct {
	workers int
	tasks   chan Task
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	wg        sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPool creates a pool. Workers start on the first call to Start.
func NewPool(workers, queueSize int, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers: max(workers, 1),
		tasks:   make(chan Task, max(queueSize, 0)),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers. Calling it more than once has no effect.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.work(i)
		}
	})
}

func (p *Pool) work(id int) {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(id, task)
	}
}

func (p *Pool) run(id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("ingest task panicked", zap.Int("worker", id), zap.Any("panic", r))
		}
	}()
	task(p.ctx)
}

// Enqueue adds a task without blocking. It fails with ErrQueueFull when the
// queue is at capacity and ErrShutdown once Shutdown has been called.
func (p *Pool) Enqueue(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrShutdown
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return fmt.Errorf("%w (capacity %d)", ErrQueueFull, cap(p.tasks))
	}
}

// Pending returns the number of queued tasks not yet picked up by a worker.
func (p *Pool) Pending() int {
	return len(p.tasks)
}

// Shutdown stops accepting tasks and waits for queued and running tasks to
// finish. If ctx ends first, running tasks are cancelled and Shutdown still
// waits for them to return before reporting ctx's error.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()

	// Queued tasks must run so their documents reach a terminal status.
	p.Start()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.logger.Warn("ingest shutdown deadline reached, cancelling running tasks")
		p.cancel()
		<-done
		return ctx.Err()
	}
}
