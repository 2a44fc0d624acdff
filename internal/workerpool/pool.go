// Package workerpool runs export jobs on a bounded set of goroutines so slow
// AnkiConnect or ffmpeg calls never stall the capture loop.
package workerpool

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/vnminer/agent/internal/logging"
)

var log = logging.L("workerpool")

var (
	// ErrStopped is returned by Submit after StopAccepting, Drain or Shutdown.
	ErrStopped = errors.New("worker pool stopped")
	// ErrQueueFull is returned by Submit when the queue has no free slot.
	ErrQueueFull = errors.New("worker pool queue full")
)

// Task is a unit of work. ctx is cancelled when the pool shuts down.
type Task func(ctx context.Context)

// Pool is a bounded goroutine pool with a fixed-size task queue.
type Pool struct {
	name     string
	queue    chan Task
	wg       sync.WaitGroup
	inFlight atomic.Int32

	mu        sync.RWMutex // guards accepting against close(queue)
	accepting bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	workers   sync.WaitGroup
}

// New creates a pool with workers goroutines and a queue of queueSize.
func New(name string, workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:      name,
		queue:     make(chan Task, queueSize),
		accepting: true,
		ctx:       ctx,
		cancel:    cancel,
	}
	p.workers.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}

	log.Debug("worker pool started", "pool", name, "workers", workers, "queueSize", queueSize)
	return p
}

// Context is cancelled once the pool has drained or shut down.
func (p *Pool) Context() context.Context {
	return p.ctx
}

// Submit enqueues a task without blocking.
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.accepting {
		return ErrStopped
	}

	// wg.Add before enqueue so Drain cannot miss the task.
	p.wg.Add(1)
	select {
	case p.queue <- task:
		return nil
	default:
		p.wg.Done()
		log.Warn("worker pool queue full, task rejected", "pool", p.name)
		return ErrQueueFull
	}
}

// InFlight returns the number of tasks currently executing.
func (p *Pool) InFlight() int {
	return int(p.inFlight.Load())
}

// StopAccepting makes every later Submit fail with ErrStopped.
func (p *Pool) StopAccepting() {
	p.mu.Lock()
	p.accepting = false
	p.mu.Unlock()
}

// Drain stops accepting, waits for queued and running tasks until ctx is
// done, then cancels the pool context and releases the workers.
func (p *Pool) Drain(ctx context.Context) {
	p.StopAccepting()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug("worker pool drained", "pool", p.name)
	case <-ctx.Done():
		log.Warn("worker pool drain timed out", "pool", p.name, "inFlight", p.InFlight())
	}

	p.cancel()
	p.closeOnce.Do(func() {
		close(p.queue)
	})
}

// Shutdown is StopAccepting followed by Drain.
func (p *Pool) Shutdown(ctx context.Context) {
	p.StopAccepting()
	p.Drain(ctx)
}

func (p *Pool) worker() {
	defer p.workers.Done()
	for task := range p.queue {
		p.runTask(task)
	}
}

// runTask executes a task with panic recovery. wg.Done matches the Add in
// Submit.
func (p *Pool) runTask(task Task) {
	defer p.wg.Done()
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", "pool", p.name, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task(p.ctx)
}
