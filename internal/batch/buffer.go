package batch

import "sync"

// sized is implemented by every bufferable item.
type sized interface {
	EstimateSize() int64
}

// buffer is an ordered holding area for items awaiting a flush. add and
// drainAll share one mutex: an add racing a drain lands either in the
// drained batch or in the next one, never in both and never in neither.
type buffer[T sized] struct {
	mu    sync.Mutex
	items []T
	bytes int64
	limit int // hard cap on buffered items, 0 means unbounded
}

func newBuffer[T sized](limit int) *buffer[T] {
	return &buffer[T]{limit: limit}
}

// add appends item and returns the buffer's count and byte size after the add.
func (b *buffer[T]) add(item T) (int, int64, error) {
	size := item.EstimateSize()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limit > 0 && len(b.items) >= b.limit {
		return len(b.items), b.bytes, ErrCapacityExceeded
	}
	b.items = append(b.items, item)
	b.bytes += size
	return len(b.items), b.bytes, nil
}

// count returns the number of buffered items.
func (b *buffer[T]) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// byteSize returns the running payload estimate of buffered items.
func (b *buffer[T]) byteSize() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bytes
}

// drainAll removes and returns every buffered item in FIFO order.
func (b *buffer[T]) drainAll() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	items := b.items
	b.items = nil
	b.bytes = 0
	return items
}
