package queue

import "sync"

// Keyed keeps at most one pending value per key. A second write to a key before
// Drain updates the pending value in place, so a drain always sees the most
// recent value per key, in first-arrival order of the keys.
type Keyed[K comparable, V any] struct {
	mu      sync.Mutex
	pending map[K]*V
	order   []K
}

func NewKeyed[K comparable, V any]() *Keyed[K, V] {
	return &Keyed[K, V]{pending: make(map[K]*V)}
}

// Upsert looks up or creates the pending value for key and hands it to fn.
// It reports whether a value for key was already pending.
func (q *Keyed[K, V]) Upsert(key K, fn func(value *V, existed bool)) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	value, existed := q.pending[key]
	if !existed {
		value = new(V)
		q.pending[key] = value
		q.order = append(q.order, key)
	}
	fn(value, existed)
	return existed
}

// Drain swaps out the pending map and returns its values.
func (q *Keyed[K, V]) Drain() []V {
	q.mu.Lock()
	pending, order := q.pending, q.order
	if len(order) == 0 {
		q.mu.Unlock()
		return nil
	}
	q.pending = make(map[K]*V, len(pending))
	q.order = nil
	q.mu.Unlock()

	out := make([]V, 0, len(order))
	for _, key := range order {
		out = append(out, *pending[key])
	}
	return out
}

func (q *Keyed[K, V]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}
