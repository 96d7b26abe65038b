// Package softtimer provides a fixed number of software timers.
//
// Callbacks run on the timer's own goroutine, the hosted equivalent of the
// timer interrupt. They must be short and must not block.
package softtimer

import (
	"sync"
	"time"

	"github.com/robotalks/canlink.go/pkg/status"
)

// MaxTimers is the number of timer slots.
const MaxTimers = 16

// ID identifies a started timer. The zero ID is invalid.
type ID uint32

// InvalidID is never returned by Start.
const InvalidID ID = 0

// Callback is invoked when a timer fires.
type Callback func(id ID)

type slot struct {
	gen      uint16
	inuse    bool
	deadline time.Time
	timer    *time.Timer
	cb       Callback
}

// Timers is a set of software timers.
type Timers struct {
	lock  sync.Mutex
	slots [MaxTimers]slot
}

// New creates a set of timers.
func New() *Timers {
	return &Timers{}
}

func makeID(index int, gen uint16) ID {
	return ID(uint32(gen)<<8 | uint32(index+1))
}

func (id ID) split() (index int, gen uint16) {
	return int(id&0xff) - 1, uint16(id >> 8)
}

// Start schedules cb after d.
func (t *Timers) Start(d time.Duration, cb Callback) (ID, error) {
	if cb == nil {
		return InvalidID, status.Codef(status.InvalidArgs, "softtimer: nil callback")
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	for i := range t.slots {
		s := &t.slots[i]
		if s.inuse {
			continue
		}
		if s.gen++; s.gen == 0 {
			s.gen = 1
		}
		id := makeID(i, s.gen)
		s.inuse = true
		s.cb = cb
		s.deadline = time.Now().Add(d)
		s.timer = time.AfterFunc(d, func() { t.fire(id) })
		return id, nil
	}
	return InvalidID, status.Codef(status.ResourceExhausted, "softtimer: out of timers")
}

func (t *Timers) fire(id ID) {
	t.lock.Lock()
	s := t.lookup(id)
	if s == nil {
		t.lock.Unlock()
		return
	}
	cb := s.cb
	t.release(s)
	t.lock.Unlock()
	cb(id)
}

// Cancel stops the timer. It returns false if the timer already fired, was
// cancelled, or never existed.
func (t *Timers) Cancel(id ID) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	s := t.lookup(id)
	if s == nil {
		return false
	}
	s.timer.Stop()
	t.release(s)
	return true
}

// Remaining returns the time left before the timer fires, or 0 if it is not
// running.
func (t *Timers) Remaining(id ID) time.Duration {
	t.lock.Lock()
	defer t.lock.Unlock()
	s := t.lookup(id)
	if s == nil {
		return 0
	}
	if d := time.Until(s.deadline); d > 0 {
		return d
	}
	return 0
}

// InUse reports whether any timer is running.
func (t *Timers) InUse() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	for i := range t.slots {
		if t.slots[i].inuse {
			return true
		}
	}
	return false
}

// Close stops all timers without firing them.
func (t *Timers) Close() {
	t.lock.Lock()
	defer t.lock.Unlock()
	for i := range t.slots {
		if s := &t.slots[i]; s.inuse {
			s.timer.Stop()
			t.release(s)
		}
	}
}

func (t *Timers) lookup(id ID) *slot {
	index, gen := id.split()
	if index < 0 || index >= MaxTimers {
		return nil
	}
	s := &t.slots[index]
	if !s.inuse || s.gen != gen {
		return nil
	}
	return s
}

func (t *Timers) release(s *slot) {
	s.inuse = false
	s.cb = nil
	s.timer = nil
}
