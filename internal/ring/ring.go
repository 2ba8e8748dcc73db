// Package ring provides a bounded, thread-safe FIFO buffer.
package ring

import "sync"

// Buffer is a thread-safe circular buffer. When full, Add evicts the oldest item.
type Buffer[T any] struct {
	items []T
	size  int
	head  int
	count int
	mu    sync.RWMutex
}

// New creates a buffer with the given capacity
func New[T any](size int) *Buffer[T] {
	if size <= 0 {
		size = 10
	}
	return &Buffer[T]{
		items: make([]T, size),
		size:  size,
	}
}

// Add appends an item, returning the evicted item when the buffer was full.
func (b *Buffer[T]) Add(item T) (evicted T, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == b.size {
		evicted, ok = b.items[b.head], true
	}
	b.items[b.head] = item
	b.head = (b.head + 1) % b.size
	if b.count < b.size {
		b.count++
	}
	return evicted, ok
}

// All returns all items in insertion order (oldest first)
func (b *Buffer[T]) All() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.count == 0 {
		return nil
	}

	result := make([]T, b.count)
	start := 0
	if b.count >= b.size {
		start = b.head
	}
	for i := 0; i < b.count; i++ {
		result[i] = b.items[(start+i)%b.size]
	}
	return result
}

// Last returns the last n items, oldest first
func (b *Buffer[T]) Last(n int) []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.count == 0 || n <= 0 {
		return nil
	}
	if n > b.count {
		n = b.count
	}

	result := make([]T, n)
	for i := 0; i < n; i++ {
		idx := (b.head - 1 - i + b.size) % b.size
		result[n-1-i] = b.items[idx]
	}
	return result
}

// Newest returns the most recently added item.
func (b *Buffer[T]) Newest() (item T, ok bool) {
	last := b.Last(1)
	if len(last) == 0 {
		return item, false
	}
	return last[0], true
}

// Clear removes all items
func (b *Buffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = make([]T, b.size)
	b.head = 0
	b.count = 0
}

// Len returns the number of buffered items
func (b *Buffer[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Cap returns the capacity
func (b *Buffer[T]) Cap() int {
	return b.size
}
