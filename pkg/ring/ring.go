package ring

// Buffer is a fixed-capacity circular buffer. Once full, appending
// overwrites the oldest entry. The backing array is allocated once at
// construction and never grows, so steady-state appends do not allocate.
//
// Buffer is not safe for concurrent use; callers must serialize access.
type Buffer[T any] struct {
	data  []T
	head  int // next write position
	count int
}

// New creates a Buffer with the given capacity. Capacity must be positive.
func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer[T]{
		data: make([]T, capacity),
	}
}

// Push appends a value, overwriting the oldest entry when full.
func (b *Buffer[T]) Push(v T) {
	b.data[b.head] = v
	b.head = (b.head + 1) % len(b.data)
	if b.count < len(b.data) {
		b.count++
	}
}

// Len returns the number of stored entries.
func (b *Buffer[T]) Len() int {
	return b.count
}

// Cap returns the fixed capacity.
func (b *Buffer[T]) Cap() int {
	return len(b.data)
}

// At returns the i-th entry, oldest first. i must be in [0, Len()).
func (b *Buffer[T]) At(i int) T {
	start := (b.head + len(b.data) - b.count) % len(b.data)
	return b.data[(start+i)%len(b.data)]
}

// Last returns the most recent entry and true, or the zero value and
// false when the buffer is empty.
func (b *Buffer[T]) Last() (T, bool) {
	if b.count == 0 {
		var zero T
		return zero, false
	}
	idx := (b.head + len(b.data) - 1) % len(b.data)
	return b.data[idx], true
}

// Recent iterates over the most recent n entries, oldest first, calling
// fn with each. If n exceeds Len(), all entries are visited.
func (b *Buffer[T]) Recent(n int, fn func(v T)) {
	if n > b.count {
		n = b.count
	}
	start := b.count - n
	for i := start; i < b.count; i++ {
		fn(b.At(i))
	}
}

// Snapshot copies entries into dst, oldest first. It reuses dst if it has
// sufficient capacity, otherwise allocates new. Returns the destination slice.
func (b *Buffer[T]) Snapshot(dst []T) []T {
	if cap(dst) >= b.count {
		dst = dst[:b.count]
	} else {
		dst = make([]T, b.count)
	}
	for i := 0; i < b.count; i++ {
		dst[i] = b.At(i)
	}
	return dst
}

// Reset discards all entries. The backing array is retained.
func (b *Buffer[T]) Reset() {
	b.head = 0
	b.count = 0
}
