// Package queue provides the FIFO used to hand messages from the device
// workers and the session engine to their writers.
package queue

import (
	"context"
	"sync"
)

// FIFO is an unbounded thread-safe queue. The zero value is ready to use.
type FIFO[T any] struct {
	mu     sync.Mutex
	once   sync.Once
	items  []T
	signal chan struct{}
}

func (q *FIFO[T]) init() {
	q.once.Do(func() {
		q.signal = make(chan struct{})
	})
}

// notify wakes every goroutine blocked in Pop. Callers hold mu.
func (q *FIFO[T]) notify() {
	close(q.signal)
	q.signal = make(chan struct{})
}

// Push appends v to the tail.
func (q *FIFO[T]) Push(v T) {
	q.init()
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, v)
	q.notify()
}

// PushFront puts v back at the head, ahead of everything still queued.
func (q *FIFO[T]) PushFront(v T) {
	q.init()
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, v)
	copy(q.items[1:], q.items[:len(q.items)-1])
	q.items[0] = v
	q.notify()
}

// TryPop removes the head without blocking.
func (q *FIFO[T]) TryPop() (T, bool) {
	q.init()
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *FIFO[T]) popLocked() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return v, true
}

// Pop blocks until an item is available or ctx is done.
func (q *FIFO[T]) Pop(ctx context.Context) (T, error) {
	q.init()
	for {
		q.mu.Lock()
		v, ok := q.popLocked()
		sig := q.signal
		q.mu.Unlock()

		if ok {
			return v, nil
		}

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-sig:
		}
	}
}

// Len returns the number of queued items.
func (q *FIFO[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
