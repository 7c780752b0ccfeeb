package worker

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/dontdude/codestream/internal/domain"
)

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("worker pool stopped")

// Pool implements a fixed-size worker pool pattern.
// It bounds how many executions (and therefore sandboxes) run at once.
type Pool struct {
	// workerCount determines how many tasks run concurrently.
	workerCount int
	// tasksCh is the backlog of accepted tasks.
	tasksCh chan func()
	// wg tracks active workers to ensure graceful shutdown.
	wg sync.WaitGroup

	// mu guards closed so Submit never sends on a closed channel.
	mu     sync.RWMutex
	closed bool

	logger *slog.Logger
}

// NewPool initializes the worker pool with a fixed concurrency limit and a
// backlog of queueSize tasks.
func NewPool(concurrency, queueSize int, logger *slog.Logger) *Pool {
	return &Pool{
		workerCount: concurrency,
		tasksCh:     make(chan func(), queueSize),
		logger:      logger,
	}
}

// Start spawns the fixed number of worker goroutines.
// It returns immediately.
func (p *Pool) Start() {
	p.logger.Info("Starting worker pool", "concurrency", p.workerCount, "backlog", cap(p.tasksCh))

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop initiates a graceful shutdown.
// Accepted tasks still run; Stop blocks until all workers have exited.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasksCh)
	p.mu.Unlock()

	p.logger.Info("Stopping worker pool, waiting for tasks to drain...")
	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}

// Submit queues task without blocking. It fails with domain.ErrBusy when the
// backlog is full.
func (p *Pool) Submit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrStopped
	}

	select {
	case p.tasksCh <- task:
		return nil
	default:
		return domain.ErrBusy
	}
}

// worker is the core logic that runs inside a goroutine.
func (p *Pool) worker(id int) {
	defer p.wg.Done()
	p.logger.Debug("Worker started", "workerID", id)

	// Range over the channel reads tasks until the channel is closed.
	for task := range p.tasksCh {
		p.run(id, task)
	}

	p.logger.Debug("Worker stopped", "workerID", id)
}

func (p *Pool) run(id int, task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Task panicked", "workerID", id, "panic", r)
		}
	}()
	task()
}
