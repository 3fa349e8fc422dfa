package workerpool

import (
	"context"
	"errors"
	"sync"
	"transcribe-api/dto"

	"github.com/rs/zerolog"
)

var (
	ErrQueueFull = errors.New("job queue is full")
	ErrStopped   = errors.New("worker pool is stopped")
)

type Handler func(ctx context.Context, msg dto.JobMessage) error

// Pool runs job messages on a fixed number of goroutines fed by a bounded queue.
type Pool struct {
	handler    Handler
	numWorkers int
	jobs       chan dto.JobMessage

	mu      sync.RWMutex
	started bool
	stopped bool
	wg      sync.WaitGroup
}

func NewPool(numWorkers, queueSize int, handler Handler) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Pool{
		handler:    handler,
		numWorkers: numWorkers,
		jobs:       make(chan dto.JobMessage, queueSize),
	}
}

// Start launches the workers. ctx is handed to every handler call and must outlive
// the requests that dispatch work.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	for i := 1; i <= p.numWorkers; i++ {
		p.wg.Add(1)
		go func(workerId int) {
			defer p.wg.Done()
			for msg := range p.jobs {
				p.handle(ctx, workerId, msg)
			}
		}(i)
	}
	zerolog.Ctx(ctx).Info().Int("workers", p.numWorkers).Int("queue_size", cap(p.jobs)).Msg("worker pool started")
}

func (p *Pool) handle(ctx context.Context, workerId int, msg dto.JobMessage) {
	defer func() {
		if r := recover(); r != nil {
			zerolog.Ctx(ctx).Error().Interface("panic", r).Uint("job_id", msg.JobId).Int("worker_id", workerId).Msg("worker panicked")
		}
	}()
	if err := p.handler(ctx, msg); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Uint("job_id", msg.JobId).Int("worker_id", workerId).Msg("failed to handle job")
	}
}

// Dispatch enqueues msg without blocking.
func (p *Pool) Dispatch(_ context.Context, msg dto.JobMessage) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.jobs <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop rejects new work and waits for queued and in-flight jobs to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
}
