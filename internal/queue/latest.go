package queue

import (
	"sync"
	"sync/atomic"
)

// Latest is the handoff between a producer goroutine and a periodic drain.
//
// With DropAccumulated set a Drain returns only the newest item and every older
// one counts as a drop; Push trims eagerly so the backlog stays at one item.
// Without it items are kept in arrival order; Capacity, when positive, bounds
// the backlog by discarding the oldest item.
type Latest[T any] struct {
	mu              sync.Mutex
	items           []T
	dropAccumulated bool
	capacity        int
	drops           atomic.Uint64
}

type Options struct {
	DropAccumulated bool
	Capacity        int
}

func NewLatest[T any](opts Options) *Latest[T] {
	return &Latest[T]{
		dropAccumulated: opts.DropAccumulated,
		capacity:        opts.Capacity,
	}
}

// Push never blocks beyond the queue lock.
func (q *Latest[T]) Push(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch {
	case q.dropAccumulated && len(q.items) > 0:
		q.drops.Add(uint64(len(q.items)))
		clear(q.items)
		q.items = append(q.items[:0], item)
	case q.capacity > 0 && len(q.items) >= q.capacity:
		q.drops.Add(1)
		var zero T
		q.items[0] = zero
		q.items = append(q.items[1:], item)
	default:
		q.items = append(q.items, item)
	}
}

// Drain swaps the pending items out for an empty queue and returns them.
// Callers process the result without holding the lock. The drop policy is
// applied here as well, so enabling it with a backlog still yields one item.
func (q *Latest[T]) Drain() []T {
	q.mu.Lock()
	items := q.items
	q.items = nil
	if q.dropAccumulated && len(items) > 1 {
		q.drops.Add(uint64(len(items) - 1))
		items = items[len(items)-1:]
	}
	q.mu.Unlock()
	return items
}

func (q *Latest[T]) SetDropAccumulated(enabled bool) {
	q.mu.Lock()
	q.dropAccumulated = enabled
	q.mu.Unlock()
}

func (q *Latest[T]) Drops() uint64 {
	return q.drops.Load()
}

func (q *Latest[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
