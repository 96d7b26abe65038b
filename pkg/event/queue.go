// Package event implements the priority event queue that decouples
// interrupt-context and background producers from the single-threaded main
// loop.
//
// The queue is the one process-wide shared resource. It is constructed once
// and passed explicitly to every producer and to the main loop.
package event

import (
	"sync"

	"github.com/robotalks/canlink.go/pkg/status"
)

// ID identifies an event kind.
type ID uint16

// Event is a queued event.
type Event struct {
	ID   ID
	Data uint16
}

// Priority of an event. Lower values are processed first.
type Priority uint8

// Priorities.
const (
	PriorityHighest Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
	PriorityLowest

	NumPriorities = int(PriorityLowest) + 1
)

// MaxEvents is the capacity of the queue.
const MaxEvents = 20

type entry struct {
	prio  Priority
	seq   uint32
	event Event
}

func (e *entry) less(o *entry) bool {
	if e.prio != o.prio {
		return e.prio < o.prio
	}
	// Wrapping-safe insertion order.
	return int32(e.seq-o.seq) < 0
}

// Queue is a bounded min-heap keyed by (priority, insertion order).
type Queue struct {
	lock   sync.Mutex
	heap   [MaxEvents]entry
	size   int
	seq    uint32
	notify func()
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{}
}

// SetNotify installs fn to be called after every successful Raise. It is
// called outside the critical section and must not block.
func (q *Queue) SetNotify(fn func()) {
	q.lock.Lock()
	q.notify = fn
	q.lock.Unlock()
}

// Raise enqueues an event. It never blocks on a full queue; it fails with
// status.ErrResourceExhausted instead.
func (q *Queue) Raise(prio Priority, id ID, data uint16) error {
	if int(prio) >= NumPriorities {
		return status.Codef(status.InvalidArgs, "event: priority %d out of range", prio)
	}
	q.lock.Lock()
	if q.size == MaxEvents {
		q.lock.Unlock()
		return status.Codef(status.ResourceExhausted, "event: queue full, dropping event %d", id)
	}
	q.heap[q.size] = entry{prio: prio, seq: q.seq, event: Event{ID: id, Data: data}}
	q.seq++
	q.up(q.size)
	q.size++
	notify := q.notify
	q.lock.Unlock()

	if notify != nil {
		notify()
	}
	return nil
}

// RaiseDefault raises an event with PriorityNormal.
func (q *Queue) RaiseDefault(id ID, data uint16) error {
	return q.Raise(PriorityNormal, id, data)
}

// Process dequeues the next event. It never waits; ok is false when the queue
// is empty.
func (q *Queue) Process() (e Event, ok bool) {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.size == 0 {
		return Event{}, false
	}
	e = q.heap[0].event
	q.size--
	q.heap[0] = q.heap[q.size]
	q.heap[q.size] = entry{}
	q.down(0)
	return e, true
}

// Size returns the number of queued events.
func (q *Queue) Size() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.size
}

func (q *Queue) up(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !q.heap[i].less(&q.heap[parent]) {
			return
		}
		q.heap[i], q.heap[parent] = q.heap[parent], q.heap[i]
		i = parent
	}
}

func (q *Queue) down(i int) {
	for {
		min := i
		if l := 2*i + 1; l < q.size && q.heap[l].less(&q.heap[min]) {
			min = l
		}
		if r := 2*i + 2; r < q.size && q.heap[r].less(&q.heap[min]) {
			min = r
		}
		if min == i {
			return
		}
		q.heap[i], q.heap[min] = q.heap[min], q.heap[i]
		i = min
	}
}
