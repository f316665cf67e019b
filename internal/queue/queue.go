// Package queue provides the bounded FIFO work pools the services run their
// long tasks on. Webhook handlers enqueue and return; a fixed set of worker
// goroutines drains the queue. Keys collapse duplicate work for the same
// entity while it is queued or running.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrFull is returned when the queue is at capacity. Callers answer 503 so
// GitHub redelivers the webhook later.
var ErrFull = errors.New("queue full")

// ErrDuplicate is returned when a task with the same key is already queued
// or running. Enqueue is idempotent for callers that treat this as success.
var ErrDuplicate = errors.New("task already enqueued")

type item[T any] struct {
	key     string
	payload T
}

// Pool runs tasks of type T on a fixed number of workers fed by a bounded
// FIFO queue.
type Pool[T any] struct {
	workers int
	handler func(ctx context.Context, task T)
	logger  *slog.Logger
	tasks   chan item[T]

	mu      sync.Mutex
	pending map[string]struct{}

	wg sync.WaitGroup
}

// New creates a pool. Workers and capacity must be positive; the handler is
// invoked once per task and must not panic.
func New[T any](workers, capacity int, handler func(ctx context.Context, task T), logger *slog.Logger) *Pool[T] {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool[T]{
		workers: workers,
		handler: handler,
		logger:  logger,
		tasks:   make(chan item[T], capacity),
		pending: make(map[string]struct{}),
	}
}

// Start launches the worker goroutines. They exit when the context is
// cancelled; queued tasks left behind are dropped.
func (p *Pool[T]) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx)
	}
}

// Enqueue adds a task. A non-empty key dedupes against tasks with the same
// key that are still queued or running (ErrDuplicate); a full queue returns
// ErrFull.
func (p *Pool[T]) Enqueue(key string, task T) error {
	if key != "" {
		p.mu.Lock()
		if _, ok := p.pending[key]; ok {
			p.mu.Unlock()
			return ErrDuplicate
		}
		p.pending[key] = struct{}{}
		p.mu.Unlock()
	}

	select {
	case p.tasks <- item[T]{key: key, payload: task}:
		return nil
	default:
		p.release(key)
		return ErrFull
	}
}

// Depth returns the number of queued (not yet running) tasks.
func (p *Pool[T]) Depth() int {
	return len(p.tasks)
}

// Wait blocks until all workers have exited. Call after cancelling the
// context passed to Start.
func (p *Pool[T]) Wait() {
	p.wg.Wait()
}

func (p *Pool[T]) work(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-p.tasks:
			p.handler(ctx, it.payload)
			p.release(it.key)
		}
	}
}

func (p *Pool[T]) release(key string) {
	if key == "" {
		return
	}
	p.mu.Lock()
	delete(p.pending, key)
	p.mu.Unlock()
}
