// Package buffer provides the in-memory queue between the connection's
// event bus and the recorder.
package buffer

import "sync"

// GrowableBuffer is a thread-safe FIFO ring that doubles its capacity when
// it reaches 70% full, up to a limit. Once full at the limit, Send drops the
// item instead of blocking the sender.
type GrowableBuffer[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	limit    int
	closed   bool

	ready chan struct{}

	// Stats
	totalReceived int64
	totalDrained  int64
	dropped       int64
	resizeCount   int
}

// NewGrowableBuffer creates a buffer with the given initial capacity that
// grows to at most limit items. limit < initialCapacity means no growth.
func NewGrowableBuffer[T any](initialCapacity, limit int) *GrowableBuffer[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	if limit < initialCapacity {
		limit = initialCapacity
	}
	return &GrowableBuffer[T]{
		buf:      make([]T, initialCapacity),
		capacity: initialCapacity,
		limit:    limit,
		ready:    make(chan struct{}, 1),
	}
}

// Send adds an item to the buffer. It returns false if the buffer is
// closed or full.
func (b *GrowableBuffer[T]) Send(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	threshold := (b.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if b.count+1 >= threshold && b.capacity < b.limit {
		b.grow()
	}
	if b.count == b.capacity {
		b.dropped++
		return false
	}

	b.buf[b.tail] = item
	b.tail = (b.tail + 1) % b.capacity
	b.count++
	b.totalReceived++

	select {
	case b.ready <- struct{}{}:
	default:
	}
	return true
}

// Ready is signalled after Send adds an item. A single signal may cover
// several items, so consumers drain until empty.
func (b *GrowableBuffer[T]) Ready() <-chan struct{} {
	return b.ready
}

// DrainTo removes up to max items (all when max <= 0) in FIFO order.
func (b *GrowableBuffer[T]) DrainTo(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}

	n := b.count
	if max > 0 && max < n {
		n = max
	}

	result := make([]T, n)
	var zero T
	for i := 0; i < n; i++ {
		result[i] = b.buf[b.head]
		b.buf[b.head] = zero // Clear reference for GC
		b.head = (b.head + 1) % b.capacity
	}
	b.count -= n
	b.totalDrained += int64(n)

	return result
}

// Close closes the buffer. After closing, Send returns false; items
// already queued can still be drained.
func (b *GrowableBuffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// Len returns the current number of items in the buffer.
func (b *GrowableBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Stats returns buffer statistics.
func (b *GrowableBuffer[T]) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Count:         b.count,
		Capacity:      b.capacity,
		TotalReceived: b.totalReceived,
		TotalDrained:  b.totalDrained,
		Dropped:       b.dropped,
		ResizeCount:   b.resizeCount,
	}
}

// Stats contains buffer statistics.
type Stats struct {
	Count         int
	Capacity      int
	TotalReceived int64
	TotalDrained  int64
	Dropped       int64
	ResizeCount   int
}

// grow doubles the capacity, capped at the limit. Must be called with lock held.
func (b *GrowableBuffer[T]) grow() {
	newCapacity := b.capacity * 2
	if newCapacity > b.limit {
		newCapacity = b.limit
	}
	newBuf := make([]T, newCapacity)

	if b.count > 0 {
		if b.head < b.tail {
			copy(newBuf, b.buf[b.head:b.tail])
		} else {
			// Wrapped: [head...end) + [0...tail)
			n := copy(newBuf, b.buf[b.head:])
			copy(newBuf[n:], b.buf[:b.tail])
		}
	}

	b.buf = newBuf
	b.head = 0
	b.tail = b.count
	b.capacity = newCapacity
	b.resizeCount++
}
