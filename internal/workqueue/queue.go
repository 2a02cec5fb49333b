// Package workqueue is an unbounded FIFO drained by a single goroutine.
// Pushing never blocks, so producers can run inside callbacks of the consumer.
package workqueue

import (
	"context"
	"sync"
)

type Queue[T any] struct {
	items  []T
	lock   sync.Mutex
	wake   chan struct{}
	closed bool
	done   chan struct{}
}

func New[T any]() *Queue[T] {
	return &Queue[T]{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Push appends v. It reports false once the queue is closed.
func (q *Queue[T]) Push(v T) bool {
	q.lock.Lock()
	if q.closed {
		q.lock.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.lock.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

func (q *Queue[T]) pop() (T, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

// Run calls fn for each item in push order until ctx is done or the queue is closed
// and drained. Only one goroutine may call Run.
func (q *Queue[T]) Run(ctx context.Context, fn func(T)) {
	defer close(q.done)
	for {
		for {
			v, ok := q.pop()
			if !ok {
				break
			}
			fn(v)
		}

		q.lock.Lock()
		finished := q.closed && len(q.items) == 0
		q.lock.Unlock()
		if finished {
			return
		}

		select {
		case <-q.wake:
		case <-ctx.Done():
			return
		}
	}
}

// Close stops accepting items. Run returns after draining what was already pushed.
func (q *Queue[T]) Close() {
	q.lock.Lock()
	q.closed = true
	q.lock.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Done is closed when Run returns.
func (q *Queue[T]) Done() <-chan struct{} {
	return q.done
}

func (q *Queue[T]) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return len(q.items)
}
