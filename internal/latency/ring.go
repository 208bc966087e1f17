package latency

import "sync"

// Ring is a fixed-size circular buffer that overwrites its oldest item when full.
type Ring[T any] struct {
	buf  []T
	size int
	head int // next write position
	full bool
	mu   sync.RWMutex
}

// NewRing creates a ring holding at most size items. Non-positive sizes use 500.
func NewRing[T any](size int) *Ring[T] {
	if size <= 0 {
		size = 500
	}
	return &Ring[T]{
		buf:  make([]T, size),
		size: size,
	}
}

// Push appends v, evicting the oldest item when the ring is full.
func (r *Ring[T]) Push(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.head] = v
	r.head = (r.head + 1) % r.size
	if r.head == 0 {
		r.full = true
	}
}

// Items returns the contents oldest first.
func (r *Ring[T]) Items() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.full {
		return append([]T(nil), r.buf[:r.head]...)
	}
	out := make([]T, 0, r.size)
	out = append(out, r.buf[r.head:]...)
	return append(out, r.buf[:r.head]...)
}

// Len returns the number of items held.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.full {
		return r.size
	}
	return r.head
}

// Reset empties the ring.
func (r *Ring[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.buf)
	r.head = 0
	r.full = false
}

// Capacity returns the maximum number of items.
func (r *Ring[T]) Capacity() int {
	return r.size
}
