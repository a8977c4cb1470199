// Package parallel provides the bounded worker pool used for partitioned work.
package parallel

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
)

// MaxWorkers caps a pool. Partitioned merges gain nothing past a few
// hundred goroutines.
const MaxWorkers = 1024

var (
	// ErrTooManyWorkers is returned when the worker count exceeds MaxWorkers.
	ErrTooManyWorkers = errors.New("worker count exceeds maximum")
	// ErrPoolClosed is returned when submitting to a closed pool.
	ErrPoolClosed = errors.New("worker pool closed")
)

// WorkerPool runs submitted tasks on a fixed set of goroutines. A panicking
// task is recovered and reported to the panic handler; the worker survives.
type WorkerPool struct {
	workers int
	tasks   chan func()
	onPanic func(any)

	wg     sync.WaitGroup
	once   sync.Once
	mu     sync.RWMutex // guards closed against a concurrent close of tasks
	closed bool
}

// Option configures a WorkerPool.
type Option func(*WorkerPool)

// WithPanicHandler is called with the recovered value when a task panics.
func WithPanicHandler(fn func(any)) Option {
	return func(wp *WorkerPool) { wp.onPanic = fn }
}

// NewWorkerPool starts a pool. A non-positive count means one worker.
func NewWorkerPool(workers int, opts ...Option) (*WorkerPool, error) {
	if workers <= 0 {
		workers = 1
	}
	if workers > MaxWorkers {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyWorkers, workers, MaxWorkers)
	}

	wp := &WorkerPool{
		workers: workers,
		tasks:   make(chan func(), workers),
	}
	for _, opt := range opts {
		opt(wp)
	}

	wp.wg.Add(workers)
	for range workers {
		go wp.run()
	}
	return wp, nil
}

func (wp *WorkerPool) run() {
	defer wp.wg.Done()
	for task := range wp.tasks {
		wp.invoke(task)
	}
}

func (wp *WorkerPool) invoke(task func()) {
	defer func() {
		if r := recover(); r != nil && wp.onPanic != nil {
			wp.onPanic(r)
		}
	}()
	task()
}

// Submit queues a task, blocking while the queue is full. It returns false
// once the pool is closed.
func (wp *WorkerPool) Submit(task func()) bool {
	return wp.SubmitContext(context.Background(), task) == nil
}

// SubmitContext is Submit with cancellation of the wait for a queue slot.
func (wp *WorkerPool) SubmitContext(ctx context.Context, task func()) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.closed {
		return ErrPoolClosed
	}
	select {
	case wp.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks and waits for queued ones to finish. The pool
// cannot be reused.
func (wp *WorkerPool) Close() {
	wp.once.Do(func() {
		wp.mu.Lock()
		wp.closed = true
		close(wp.tasks)
		wp.mu.Unlock()
	})
	wp.wg.Wait()
}

// Wait is Close; it reads better after a batch of submits.
func (wp *WorkerPool) Wait() {
	wp.Close()
}

// Partition maps key onto one of n partitions using FNV-1a. The mapping is
// stable across processes.
func Partition(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

// Partitions groups the indexes of keys by Partition. Each bucket keeps the
// order of keys, and empty buckets are dropped.
func Partitions(keys []string, n int) [][]int {
	if n < 1 {
		n = 1
	}
	buckets := make([][]int, n)
	for i, k := range keys {
		p := Partition(k, n)
		buckets[p] = append(buckets[p], i)
	}
	out := buckets[:0]
	for _, b := range buckets {
		if len(b) > 0 {
			out = append(out, b)
		}
	}
	return out
}
