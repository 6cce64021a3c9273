package transfer

import (
	"context"
	"sync"

	"github.com/pion/logging"
)

// Executor runs posted work one item at a time, in posting order. Every
// driver entry point runs on the driver's executor, so drivers hold no locks
// and are never re-entered.
type Executor interface {
	Post(fn func()) error
}

// LoopConfig configures a Loop.
type LoopConfig struct {
	// LoggerFactory for loop logging. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Loop is the production Executor: a single goroutine draining an unbounded
// queue. Posting never blocks, so timer and network goroutines cannot stall
// on a busy loop.
type Loop struct {
	log logging.LeveledLogger

	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

// NewLoop starts a loop goroutine.
func NewLoop(config LoopConfig) *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	if config.LoggerFactory != nil {
		l.log = config.LoggerFactory.NewLogger("transfer")
	}
	go l.run()
	return l
}

// Post queues fn.
func (l *Loop) Post(fn func()) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrExecutorClosed
	}
	l.queue = append(l.queue, fn)
	select {
	case l.wake <- struct{}{}:
	default:
	}
	l.mu.Unlock()
	return nil
}

// Do runs fn on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := l.Post(func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrExecutorClosed
	}
}

// Close stops the loop after the item in progress. Queued work is dropped.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	dropped := len(l.queue)
	l.queue = nil
	close(l.wake)
	l.mu.Unlock()

	<-l.done
	if dropped > 0 && l.log != nil {
		l.log.Debugf("loop closed with %d queued items", dropped)
	}
}

func (l *Loop) run() {
	defer close(l.done)
	for range l.wake {
		for {
			l.mu.Lock()
			if l.closed || len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			fn := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()
			fn()
		}
	}
}

// ManualExecutor queues work until the test drains it. It is safe to post
// from any goroutine.
type ManualExecutor struct {
	mu    sync.Mutex
	queue []func()
}

// NewManualExecutor returns an empty executor.
func NewManualExecutor() *ManualExecutor {
	return &ManualExecutor{}
}

// Post queues fn.
func (e *ManualExecutor) Post(fn func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue = append(e.queue, fn)
	return nil
}

// Drain runs queued work, including work posted while draining, until the
// queue is empty. It returns the number of items run.
func (e *ManualExecutor) Drain() int {
	n := 0
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return n
		}
		fn := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()
		fn()
		n++
	}
}

// Pending returns the number of queued items.
func (e *ManualExecutor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}
