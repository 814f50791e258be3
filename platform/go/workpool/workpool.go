// Package workpool runs long workflows on a bounded set of worker slots.
package workpool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/zenGate-Global/tenant-pool/platform/go/metrics"
)

var (
	// ErrClosed is returned by Submit after Shutdown was called.
	ErrClosed = errors.New("workpool closed")
	// ErrDropped is passed to onDrop for a workflow that never started.
	ErrDropped = errors.New("workflow dropped before start")
)

// Pool bounds how many workflows run at once. Submit never blocks the caller:
// the workflow goroutine waits for a slot itself.
type Pool struct {
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a pool with size worker slots.
func New(size int, logger *zap.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit schedules fn. The context handed to fn is detached from the caller's request
// and is cancelled only when the pool is shut down. onDrop, when set, is called instead of
// fn if the pool shuts down before a slot frees up.
func (p *Pool) Submit(name string, fn func(ctx context.Context), onDrop func(err error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			p.logger.Error("workflow dropped before start", zap.String("workflow", name), zap.Error(err))
			if onDrop != nil {
				onDrop(fmt.Errorf("%w: %s: %w", ErrDropped, name, err))
			}
			return
		}
		metrics.WorkerAcquired()
		defer func() {
			metrics.WorkerReleased()
			p.sem.Release(1)
			if r := recover(); r != nil {
				p.logger.Error("workflow panicked", zap.String("workflow", name), zap.Any("panic", r))
			}
		}()
		fn(p.ctx)
	}()
	return nil
}

// Shutdown stops accepting work and waits for running workflows. If ctx expires first the
// shared context is cancelled so workflows can unwind, and ctx's error is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
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
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
