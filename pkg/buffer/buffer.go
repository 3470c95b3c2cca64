// Package buffer implements the capacity-bounded byte buffer used for
// writable slot contents and method outputs.
//
// A Buffer owns its backing storage. Capacity is fixed at allocation (unless
// grown explicitly with EnsureCapacity) and the logical length moves within
// it. Writers never extend past capacity; oversized writes are rejected
// instead of reallocating, which keeps the recommended-capacity contract
// between the executor and native methods honest.
package buffer

// Buffer is a fixed-capacity byte buffer with a movable logical length.
//
// The zero value is an empty buffer with zero capacity.
type Buffer struct {
	data []byte
	n    uint32
}

// New returns an empty Buffer with the given capacity.
func New(capacity uint32) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

// FromBytes returns a Buffer whose length and capacity equal len(b).
// The contents are copied.
func FromBytes(b []byte) *Buffer {
	data := make([]byte, len(b))
	copy(data, b)
	return &Buffer{data: data, n: uint32(len(b))}
}

// Len returns the logical length.
func (b *Buffer) Len() uint32 {
	return b.n
}

// Cap returns the capacity.
func (b *Buffer) Cap() uint32 {
	return uint32(len(b.data))
}

// Bytes returns the logical contents as a view into the backing storage.
// The view stays valid until the buffer is written to or grown.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.n]
}

// SetLen moves the logical length. Returns false when n exceeds capacity.
func (b *Buffer) SetLen(n uint32) bool {
	if n > uint32(len(b.data)) {
		return false
	}
	b.n = n
	return true
}

// CopyFrom replaces the contents with src. Returns false when src exceeds
// capacity, leaving the buffer unchanged.
func (b *Buffer) CopyFrom(src []byte) bool {
	if len(src) > len(b.data) {
		return false
	}
	copy(b.data, src)
	b.n = uint32(len(src))
	return true
}

// EnsureCapacity grows the backing storage to at least capacity, preserving
// contents. It never shrinks.
func (b *Buffer) EnsureCapacity(capacity uint32) {
	if capacity <= uint32(len(b.data)) {
		return
	}
	data := make([]byte, capacity)
	copy(data, b.data[:b.n])
	b.data = data
}

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	data := make([]byte, len(b.data))
	copy(data, b.data)
	return &Buffer{data: data, n: b.n}
}
