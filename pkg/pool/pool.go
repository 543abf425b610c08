package pool

import (
	"io"
	"runtime"
	"sync"
	"sync/atomic"
)

// task is a single unit of work handed to a worker.
type task struct {
	run func()
	// remaining counts the tasks of the current batch that still need to finish.
	remaining *int64
}

// worker starts up a new worker, listening to tasks until the pool is torn down.
func worker(tasks <-chan task, done chan<- struct{}) {
	for t := range tasks {
		t.run()
		atomic.AddInt64(t.remaining, -1)
		done <- struct{}{}
	}
}

// Pool represents a pool of workers, used for parallelizing functions.
//
// Functions needing a *Pool will work with a nil receiver, doing the equivalent
// work on the current thread instead.
//
// By creating a pool, you avoid the overhead of spinning up goroutines for
// each new operation. A Pool runs one batch at a time.
type Pool struct {
	mu    sync.Mutex
	tasks chan task
	done  chan struct{}
	size  int
}

// NewPool creates a new pool, with a certain number of workers.
//
// If count <= 0, this will use the number of available CPUs instead.
func NewPool(count int) *Pool {
	if count <= 0 {
		count = runtime.NumCPU()
	}
	p := &Pool{
		tasks: make(chan task),
		done:  make(chan struct{}),
		size:  count,
	}
	for i := 0; i < count; i++ {
		go worker(p.tasks, p.done)
	}
	return p
}

// Size returns the number of workers, or 1 for a nil pool.
func (p *Pool) Size() int {
	if p == nil {
		return 1
	}
	return p.size
}

// TearDown cleanly tears down a pool, closing channels, etc.
func (p *Pool) TearDown() {
	if p == nil {
		return
	}
	close(p.tasks)
}

// Parallelize calls f count times, passing in indices from 0..count-1.
//
// The result will be a slice containing [f(0), f(1), ..., f(count - 1)].
func Parallelize[T any](p *Pool, count int, f func(int) T) []T {
	results := make([]T, count)
	if p == nil {
		for i := range results {
			results[i] = f(i)
		}
		return results
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	remaining := int64(count)
	sent := 0
	for sent < count {
		i := sent
		t := task{run: func() { results[i] = f(i) }, remaining: &remaining}
		// Interleave sending with draining completions, so that workers
		// blocked on done are freed up to receive more tasks.
		select {
		case p.tasks <- t:
			sent++
		case <-p.done:
		}
	}
	for atomic.LoadInt64(&remaining) > 0 {
		<-p.done
	}
	return results
}

// LockedReader wraps an io.Reader to be safe for concurrent reads.
//
// This type implements io.Reader, returning the same output.
//
// This means acquiring a lock whenever a read happens, so be aware of that
// for performance or concurrency reasons.
type LockedReader struct {
	reader io.Reader
	m      sync.Mutex
}

// NewLockedReader creates a LockedReader by wrapping an underlying value.
func NewLockedReader(r io.Reader) *LockedReader {
	return &LockedReader{reader: r}
}

// Read implements io.Reader for LockedReader.
//
// Naturally, when calling this function concurrently, what value ends up getting
// read is raced, but you won't end up reading the same value twice, or otherwise
// messing up the state of the reader.
func (r *LockedReader) Read(p []byte) (int, error) {
	r.m.Lock()
	defer r.m.Unlock()
	return r.reader.Read(p)
}
