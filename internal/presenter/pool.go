package presenter

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/fruitsalade/fruitsalade/browser/internal/logging"
)

// ErrPoolClosed is returned by Go once Close has been called.
var ErrPoolClosed = errors.New("worker pool closed")

// Pool runs tasks on background goroutines, at most size at a time. Tasks
// are not ordered relative to each other.
type Pool struct {
	sem *semaphore.Weighted

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool creates a pool running up to size tasks concurrently.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// Go schedules task. It returns immediately; the task waits for a free slot
// on its own goroutine. Every accepted task runs, even when Close is called
// while it waits. After Close, Go rejects the task with ErrPoolClosed.
func (p *Pool) Go(task func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		logging.Debug("task rejected by closed pool")
		return ErrPoolClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		// Acquire only fails on a done context.
		if err := p.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		defer p.sem.Release(1)
		task()
	}()
	return nil
}

// Close rejects new tasks and waits for the accepted ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}
