// Package executor provides a keyed worker pool: every key hashes to one single-goroutine
// worker, so tasks sharing a key run one at a time in submission order while tasks with
// different keys may run in parallel.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

var (
	// ErrExecutorClosed is returned for tasks submitted after Close
	ErrExecutorClosed = errors.New("executor is closed")
)

// PanicError wraps a panic raised inside a task.
type PanicError struct {
	// Key is the routing key of the task that panicked
	Key string

	// Value is the value passed to panic()
	Value any

	// Stack is the stack trace at the time of the panic
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("task panic for key %s: %v", e.Key, e.Value)
}

// Stats reports task counters for an executor.
type Stats struct {
	Workers   int
	Submitted uint64
	Completed uint64
	Failed    uint64
	Panicked  uint64
	Pending   int
}

// Option configures a KeyedExecutor.
type Option func(*KeyedExecutor)

// WithWorkers sets the number of workers.
func WithWorkers(n int) Option {
	return func(e *KeyedExecutor) {
		if n > 0 {
			e.workerCount = n
		}
	}
}

// KeyedExecutor routes each task to worker xxhash(key) mod N.
type KeyedExecutor struct {
	workerCount int
	workers     []*worker

	mu     sync.RWMutex // guards closed against concurrent enqueue
	closed bool
	wg     sync.WaitGroup

	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	panicked  atomic.Uint64
}

// New creates and starts a KeyedExecutor. The default is one worker.
func New(opts ...Option) *KeyedExecutor {
	e := &KeyedExecutor{workerCount: 1}
	for _, opt := range opts {
		opt(e)
	}

	e.workers = make([]*worker, e.workerCount)
	for i := range e.workers {
		w := newWorker()
		e.workers[i] = w
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			w.run()
		}()
	}
	return e
}

// Workers returns the number of workers.
func (e *KeyedExecutor) Workers() int {
	return e.workerCount
}

// WorkerFor returns the worker index key is routed to.
func (e *KeyedExecutor) WorkerFor(key string) int {
	return int(xxhash.Sum64String(key) % uint64(e.workerCount))
}

// Submit runs task on the worker owning key.
func (e *KeyedExecutor) Submit(key string, task func() error) *Future[struct{}] {
	return Get(e, key, func() (struct{}, error) {
		return struct{}{}, task()
	})
}

// Get runs task on the worker owning key and resolves the future with its result.
// An error or panic inside task is delivered through the future; the worker survives.
func Get[T any](e *KeyedExecutor, key string, task func() (T, error)) *Future[T] {
	f := newFuture[T]()

	run := func() {
		defer func() {
			if r := recover(); r != nil {
				e.panicked.Add(1)
				var zero T
				f.complete(zero, &PanicError{Key: key, Value: r, Stack: string(debug.Stack())})
			}
		}()

		v, err := task()
		if err != nil {
			e.failed.Add(1)
		} else {
			e.completed.Add(1)
		}
		f.complete(v, err)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		var zero T
		f.complete(zero, ErrExecutorClosed)
		return f
	}

	e.submitted.Add(1)
	e.workers[e.WorkerFor(key)].enqueue(run)
	return f
}

// Close stops accepting tasks, lets queued tasks finish and waits for the workers
// until ctx is done.
func (e *KeyedExecutor) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	for _, w := range e.workers {
		w.stop()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the executor counters.
func (e *KeyedExecutor) Stats() Stats {
	pending := 0
	for _, w := range e.workers {
		pending += w.pending()
	}
	return Stats{
		Workers:   e.workerCount,
		Submitted: e.submitted.Load(),
		Completed: e.completed.Load(),
		Failed:    e.failed.Load(),
		Panicked:  e.panicked.Load(),
		Pending:   pending,
	}
}

// worker drains an unbounded FIFO queue on a single goroutine. The queue is unbounded
// so a task may enqueue onto any worker, including its own, without deadlocking.
type worker struct {
	mu      sync.Mutex
	queue   []func()
	signal  chan struct{}
	stopped bool
}

func newWorker() *worker {
	return &worker{signal: make(chan struct{}, 1)}
}

func (w *worker) enqueue(task func()) {
	w.mu.Lock()
	w.queue = append(w.queue, task)
	w.mu.Unlock()
	w.wake()
}

func (w *worker) stop() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.wake()
}

func (w *worker) wake() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *worker) pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

func (w *worker) run() {
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			stopped := w.stopped
			w.mu.Unlock()
			if stopped {
				return
			}
			<-w.signal
			continue
		}
		task := w.queue[0]
		w.queue[0] = nil
		w.queue = w.queue[1:]
		w.mu.Unlock()

		task()
	}
}
