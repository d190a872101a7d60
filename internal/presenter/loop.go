// Package presenter provides the two executors the loader runs on: a
// single-goroutine event loop that owns all presentation state, and a
// bounded worker pool for blocking listing calls.
package presenter

import (
	"bytes"
	"context"
	"errors"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/fruitsalade/fruitsalade/browser/internal/logging"
)

// ErrStopped is returned by Call once the loop has been stopped.
var ErrStopped = errors.New("presentation loop stopped")

// Loop runs posted callbacks one at a time, in the order they were posted,
// on a single goroutine.
//
// Post never blocks, so callbacks may post further callbacks and worker
// goroutines can hand results back without waiting for the loop.
type Loop struct {
	mu      sync.Mutex
	pending []func()
	stopped bool

	wake chan struct{}
	done chan struct{}
	gid  atomic.Uint64

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewLoop creates a loop. Call Start to begin running callbacks.
func NewLoop() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Start launches the loop goroutine. Extra calls are ignored.
func (l *Loop) Start() {
	l.startOnce.Do(func() {
		go l.run()
	})
}

// Post schedules fn to run on the loop. Callbacks posted after Stop are
// discarded.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		logging.Debug("callback posted to stopped loop discarded")
		return
	}
	l.pending = append(l.pending, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Call runs fn on the loop and waits for it to return. It must not be
// called from the loop itself.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return ErrStopped
	}
	l.pending = append(l.pending, func() {
		defer close(finished)
		fn()
	})
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		// Stop drains what was already posted.
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop runs the callbacks already posted, then ends the loop and waits for
// it to exit. It must not be called from the loop.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.stopped = true
		l.mu.Unlock()

		l.Start()
		select {
		case l.wake <- struct{}{}:
		default:
		}
		<-l.done
	})
}

// OnLoop reports whether the caller is running on the loop goroutine.
func (l *Loop) OnLoop() bool {
	id := l.gid.Load()
	return id != 0 && id == goroutineID()
}

func (l *Loop) run() {
	l.gid.Store(goroutineID())
	defer close(l.done)

	for {
		l.mu.Lock()
		batch := l.pending
		l.pending = nil
		stopped := l.stopped
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
		}

		if len(batch) > 0 {
			continue
		}
		if stopped {
			return
		}
		<-l.wake
	}
}

var goroutinePrefix = []byte("goroutine ")

// goroutineID parses the current goroutine's id from its stack header.
func goroutineID() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, goroutinePrefix)
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}
