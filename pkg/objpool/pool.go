// Package objpool provides a fixed-capacity allocator for same-type records.
//
// Records live in one contiguous array allocated at construction time. They
// are handed out through generation-tagged handles instead of raw pointers, so
// freeing a handle that was already freed, or that belongs to a previous
// occupant of the slot, is detected and rejected.
package objpool

import (
	"github.com/robotalks/canlink.go/pkg/status"
)

// Handle references a record in a Pool. The zero Handle is never valid.
type Handle struct {
	index uint16
	gen   uint16
}

// IsValid reports whether the handle was ever issued.
func (h Handle) IsValid() bool {
	return h.gen != 0
}

// Index returns the slot index of the handle.
func (h Handle) Index() int {
	return int(h.index)
}

type node[T any] struct {
	val  T
	gen  uint16
	free bool
	next int
}

// Pool is a bounded object pool. It is not synchronized; the owner provides
// the critical section.
type Pool[T any] struct {
	nodes    []node[T]
	freeHead int
	used     int
	init     func(*T)
}

// New creates a Pool with capacity records. init, if not nil, is applied to
// each record when the pool is created and every time a record is freed.
func New[T any](capacity int, init func(*T)) *Pool[T] {
	if capacity <= 0 || capacity > 0xffff {
		panic("objpool: capacity out of range")
	}
	p := &Pool[T]{nodes: make([]node[T], capacity), init: init}
	for i := range p.nodes {
		n := &p.nodes[i]
		n.gen = 1
		n.free = true
		n.next = i + 1
		if init != nil {
			init(&n.val)
		}
	}
	p.nodes[capacity-1].next = -1
	return p
}

// Cap returns the capacity.
func (p *Pool[T]) Cap() int {
	return len(p.nodes)
}

// Size returns the number of records in use.
func (p *Pool[T]) Size() int {
	return p.used
}

// Get allocates a record. ok is false when the pool is exhausted.
func (p *Pool[T]) Get() (h Handle, val *T, ok bool) {
	if p.freeHead < 0 {
		return Handle{}, nil, false
	}
	idx := p.freeHead
	n := &p.nodes[idx]
	p.freeHead = n.next
	n.free = false
	n.next = -1
	p.used++
	return Handle{index: uint16(idx), gen: n.gen}, &n.val, true
}

// At resolves a handle to its record.
func (p *Pool[T]) At(h Handle) (*T, error) {
	n, err := p.lookup(h)
	if err != nil {
		return nil, err
	}
	return &n.val, nil
}

// Free releases the record referenced by h.
func (p *Pool[T]) Free(h Handle) error {
	n, err := p.lookup(h)
	if err != nil {
		return err
	}
	var zero T
	n.val = zero
	if p.init != nil {
		p.init(&n.val)
	}
	n.free = true
	if n.gen++; n.gen == 0 {
		n.gen = 1
	}
	n.next = p.freeHead
	p.freeHead = int(h.index)
	p.used--
	return nil
}

func (p *Pool[T]) lookup(h Handle) (*node[T], error) {
	if !h.IsValid() || int(h.index) >= len(p.nodes) {
		return nil, status.Codef(status.InvalidArgs, "objpool: handle %d/%d not owned by pool", h.index, h.gen)
	}
	n := &p.nodes[h.index]
	if n.free || n.gen != h.gen {
		return nil, status.Codef(status.InvalidArgs, "objpool: stale handle %d/%d", h.index, h.gen)
	}
	return n, nil
}
