// Package ringbuf implements a bounded circular byte store with
// overwrite-oldest semantics, used to stage live PCM bytes between a capture
// pipeline and a consumer that drains in bulk.
//
// The policy is lossy and latest-wins: when a write does not fit, the oldest
// bytes are dropped to make room and the overflow is signalled, never raised
// as an error. No operation blocks.
//
// A Buffer performs no locking. It is a single-writer, single-drainer
// structure; callers sharing one across goroutines must synchronise
// externally.
package ringbuf

// Buffer is a fixed-capacity circular byte store. The zero value is not
// usable; create one with New.
type Buffer struct {
	data     []byte
	capacity int
	writePos int // next write position
	size     int // bytes currently held
}

// New creates a Buffer holding at most capacity bytes. capacity must be
// positive.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		panic("ringbuf: capacity must be positive")
	}
	return &Buffer{
		data:     make([]byte, capacity),
		capacity: capacity,
	}
}

// Write appends p to the buffer. If p does not fit, the oldest bytes are
// dropped first so that afterwards the buffer holds exactly the most recently
// written bytes, up to capacity. Returns true iff any byte was dropped by
// this call.
//
// When len(p) >= capacity the buffer ends up holding exactly the last
// capacity bytes of p, and overflow is reported.
func (b *Buffer) Write(p []byte) bool {
	n := len(p)
	if n == 0 {
		return false
	}

	// Incoming data at or above capacity: only the tail survives.
	if n >= b.capacity {
		copy(b.data, p[n-b.capacity:])
		b.writePos = 0
		b.size = b.capacity
		return true
	}

	overflowed := b.size+n > b.capacity

	space := b.capacity - b.writePos
	if n <= space {
		copy(b.data[b.writePos:], p)
		b.writePos += n
		if b.writePos == b.capacity {
			b.writePos = 0
		}
	} else {
		copy(b.data[b.writePos:], p[:space])
		copy(b.data, p[space:])
		b.writePos = n - space
	}

	b.size += n
	if b.size > b.capacity {
		b.size = b.capacity
	}
	return overflowed
}

// TakeBytes returns every byte currently held, in write order, and resets the
// buffer to empty. The returned slice is a copy owned by the caller; an empty
// buffer yields nil.
func (b *Buffer) TakeBytes() []byte {
	if b.size == 0 {
		return nil
	}

	out := make([]byte, b.size)
	if b.size < b.capacity {
		// Not yet wrapped: data starts at index 0.
		copy(out, b.data[:b.size])
	} else {
		// Full: the oldest byte sits at writePos.
		first := b.capacity - b.writePos
		copy(out[:first], b.data[b.writePos:])
		copy(out[first:], b.data[:b.writePos])
	}

	b.writePos = 0
	b.size = 0
	return out
}

// Len returns the number of bytes currently held.
func (b *Buffer) Len() int { return b.size }

// Cap returns the fixed capacity in bytes.
func (b *Buffer) Cap() int { return b.capacity }
