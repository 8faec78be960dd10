package barrier

// RingBuffer is a fixed-capacity FIFO queue.
type RingBuffer[T any] struct {
	buf  []T
	head int
	size int
}

// NewRingBuffer creates an empty ring buffer holding at most capacity items.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &RingBuffer[T]{buf: make([]T, capacity)}
}

// Push appends v. It returns false if the buffer is full.
func (r *RingBuffer[T]) Push(v T) bool {
	if r.Full() {
		return false
	}
	r.buf[(r.head+r.size)%len(r.buf)] = v
	r.size++
	return true
}

// Pop removes and returns the oldest item.
func (r *RingBuffer[T]) Pop() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	v := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.size--
	return v, true
}

// Len returns the number of queued items.
func (r *RingBuffer[T]) Len() int { return r.size }

// Full reports whether Push would fail.
func (r *RingBuffer[T]) Full() bool { return r.size == len(r.buf) }
