// Package fifo implements a ring buffer of fixed-size records over a
// caller-owned byte array.
package fifo

import (
	"github.com/robotalks/canlink.go/pkg/status"
)

// Fifo is a bounded queue of records of ElemSize bytes.
// It is not synchronized; the owner provides the critical section.
type Fifo struct {
	buf      []byte
	elemSize int
	capacity int
	head     int // byte offset of the oldest record
	next     int // byte offset of the next free slot
	count    int
}

// New creates a Fifo over buf. Capacity is len(buf)/elemSize; trailing bytes
// that do not fit a full record are unused. buf is zeroed.
func New(buf []byte, elemSize int) (*Fifo, error) {
	if elemSize <= 0 || len(buf) < elemSize {
		return nil, status.Codef(status.InvalidArgs, "fifo: buffer of %d bytes cannot hold records of %d bytes", len(buf), elemSize)
	}
	capacity := len(buf) / elemSize
	buf = buf[:capacity*elemSize]
	clear(buf)
	return &Fifo{buf: buf, elemSize: elemSize, capacity: capacity}, nil
}

// ElemSize returns the record size.
func (f *Fifo) ElemSize() int {
	return f.elemSize
}

// Cap returns the capacity in records.
func (f *Fifo) Cap() int {
	return f.capacity
}

// Size returns the number of queued records.
func (f *Fifo) Size() int {
	return f.count
}

// Push appends one record.
func (f *Fifo) Push(elem []byte) error {
	return f.PushN(elem, 1)
}

// PushN appends n records stored contiguously in src.
// Nothing is written unless all n records fit.
func (f *Fifo) PushN(src []byte, n int) error {
	if n <= 0 || len(src) != n*f.elemSize {
		return status.Codef(status.InvalidArgs, "fifo: push of %d bytes as %d records of %d bytes", len(src), n, f.elemSize)
	}
	if f.count+n > f.capacity {
		return status.Codef(status.ResourceExhausted, "fifo: %d of %d slots used, cannot push %d", f.count, f.capacity, n)
	}
	nonwrap := len(f.buf) - f.next
	if nonwrap > len(src) {
		nonwrap = len(src)
	}
	copy(f.buf[f.next:], src[:nonwrap])
	if wrap := len(src) - nonwrap; wrap > 0 {
		copy(f.buf, src[nonwrap:])
		f.next = wrap
	} else if f.next += nonwrap; f.next >= len(f.buf) {
		f.next = 0
	}
	f.count += n
	return nil
}

// Peek copies the oldest record into dst without removing it.
func (f *Fifo) Peek(dst []byte) error {
	if f.count == 0 {
		return status.Codef(status.ResourceExhausted, "fifo: empty")
	}
	if len(dst) != f.elemSize {
		return status.Codef(status.InvalidArgs, "fifo: peek into %d bytes, record is %d", len(dst), f.elemSize)
	}
	copy(dst, f.buf[f.head:f.head+f.elemSize])
	return nil
}

// Pop removes the oldest record, copying it into dst.
// A nil dst discards the record.
func (f *Fifo) Pop(dst []byte) error {
	return f.PopN(dst, 1)
}

// PopN removes the n oldest records, copying them contiguously into dst.
// A nil dst discards them. Popped slots are zeroed.
func (f *Fifo) PopN(dst []byte, n int) error {
	if n <= 0 || (dst != nil && len(dst) != n*f.elemSize) {
		return status.Codef(status.InvalidArgs, "fifo: pop of %d records of %d bytes into %d bytes", n, f.elemSize, len(dst))
	}
	if f.count < n {
		return status.Codef(status.ResourceExhausted, "fifo: %d records queued, cannot pop %d", f.count, n)
	}
	total := n * f.elemSize
	nonwrap := len(f.buf) - f.head
	if nonwrap > total {
		nonwrap = total
	}
	if dst != nil {
		copy(dst, f.buf[f.head:f.head+nonwrap])
	}
	clear(f.buf[f.head : f.head+nonwrap])
	if wrap := total - nonwrap; wrap > 0 {
		if dst != nil {
			copy(dst[nonwrap:], f.buf[:wrap])
		}
		clear(f.buf[:wrap])
		f.head = wrap
	} else if f.head += nonwrap; f.head >= len(f.buf) {
		f.head = 0
	}
	f.count -= n
	return nil
}
