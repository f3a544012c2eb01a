// Package inprocess runs conversion jobs on a bounded pool of goroutines fed
// by a buffered channel of job ids.
package inprocess

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/kirillkom/tomd/internal/core/domain"
)

const (
	DefaultWorkers  = 4
	DefaultCapacity = 100
)

var ErrPoolClosed = errors.New("worker pool is closed")

type Handler func(ctx context.Context, jobID string) error

type Pool struct {
	jobs    chan string
	done    chan struct{}
	workers int
	logger  *slog.Logger

	startOnce sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewPool(workers, capacity int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		jobs:    make(chan string, capacity),
		done:    make(chan struct{}),
		workers: workers,
		logger:  logger,
	}
}

// Start launches the workers. Handlers run with a context detached from ctx
// cancellation so a conversion in flight is finished during shutdown.
func (p *Pool) Start(ctx context.Context, handler Handler) {
	p.startOnce.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.work(ctx, i, handler)
		}
	})
}

func (p *Pool) work(ctx context.Context, workerID int, handler Handler) {
	defer p.wg.Done()
	runCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case jobID := <-p.jobs:
			p.run(runCtx, workerID, jobID, handler)
		}
	}
}

func (p *Pool) run(ctx context.Context, workerID int, jobID string, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker_panic", "worker", workerID, "job_id", jobID, "panic", r)
		}
	}()
	if err := handler(ctx, jobID); err != nil {
		p.logger.Error("worker_handler_failed", "worker", workerID, "job_id", jobID, "error", err)
	}
}

// Enqueue blocks while the queue is full until ctx ends or the pool closes.
func (p *Pool) Enqueue(ctx context.Context, jobID string) error {
	select {
	case <-p.done:
		return domain.WrapError(domain.ErrTemporary, "enqueue job", ErrPoolClosed)
	default:
	}
	select {
	case p.jobs <- jobID:
		return nil
	case <-p.done:
		return domain.WrapError(domain.ErrTemporary, "enqueue job", ErrPoolClosed)
	case <-ctx.Done():
		return domain.WrapError(domain.ErrTemporary, "enqueue job", ctx.Err())
	}
}

// Depth reports the number of queued ids not yet picked up by a worker.
func (p *Pool) Depth() int {
	return len(p.jobs)
}

// Close stops accepting work and waits for running handlers. Ids still queued
// stay pending in the job store.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
}
