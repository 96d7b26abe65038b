package host

import (
	"sync"
	"time"

	"github.com/robotalks/canlink.go/pkg/can/hw"
	"github.com/robotalks/canlink.go/pkg/status"
)

// Virtual socket tuning.
const (
	virtualQueueLen    = 64
	virtualReadTimeout = 50 * time.Millisecond
)

// VirtualBus is an in-process CAN interface with vcan semantics: a written
// frame reaches every other socket, and the writer itself only when
// receive-own-messages is enabled. Filters match the way CAN_RAW_FILTER does.
type VirtualBus struct {
	lock    sync.Mutex
	sockets map[*virtualSocket]struct{}
}

// NewVirtualBus creates an empty virtual interface.
func NewVirtualBus() *VirtualBus {
	return &VirtualBus{sockets: make(map[*virtualSocket]struct{})}
}

// Open binds a new socket to the bus.
func (b *VirtualBus) Open() (Socket, error) {
	s := &virtualSocket{
		bus:    b,
		rxCh:   make(chan hw.Frame, virtualQueueLen),
		doneCh: make(chan struct{}),
	}
	b.lock.Lock()
	b.sockets[s] = struct{}{}
	b.lock.Unlock()
	return s, nil
}

// Opener returns an Opener for the bus.
func (b *VirtualBus) Opener() Opener {
	return b.Open
}

func (b *VirtualBus) send(from *virtualSocket, f *hw.Frame) {
	b.lock.Lock()
	defer b.lock.Unlock()
	for s := range b.sockets {
		if s == from && !s.recvOwn() {
			continue
		}
		s.deliver(f)
	}
}

type virtualSocket struct {
	bus *VirtualBus

	lock    sync.Mutex
	ownMsgs bool
	filters []hw.Filter
	dropped int

	rxCh   chan hw.Frame
	doneCh chan struct{}
	once   sync.Once
}

func (s *virtualSocket) recvOwn() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.ownMsgs
}

func (s *virtualSocket) accepts(f *hw.Frame) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	if len(s.filters) == 0 {
		return true
	}
	for _, filter := range s.filters {
		if f.Matches(filter) {
			return true
		}
	}
	return false
}

func (s *virtualSocket) deliver(f *hw.Frame) {
	if !s.accepts(f) {
		return
	}
	select {
	case s.rxCh <- *f:
	default:
		s.lock.Lock()
		s.dropped++
		s.lock.Unlock()
	}
}

func (s *virtualSocket) Read(f *hw.Frame) error {
	select {
	case <-s.doneCh:
		return status.Codef(status.Unreachable, "vcan: socket closed")
	case *f = <-s.rxCh:
		return nil
	case <-time.After(virtualReadTimeout):
		return status.ErrTimeout
	}
}

func (s *virtualSocket) Write(f *hw.Frame) error {
	select {
	case <-s.doneCh:
		return status.Codef(status.Unreachable, "vcan: socket closed")
	default:
	}
	if err := f.Validate(); err != nil {
		return err
	}
	s.bus.send(s, f)
	return nil
}

func (s *virtualSocket) SetLoopback(on bool) error {
	s.lock.Lock()
	s.ownMsgs = on
	s.lock.Unlock()
	return nil
}

func (s *virtualSocket) SetFilters(filters []hw.Filter) error {
	s.lock.Lock()
	s.filters = append([]hw.Filter(nil), filters...)
	s.lock.Unlock()
	return nil
}

func (s *virtualSocket) Close() error {
	s.once.Do(func() {
		s.bus.lock.Lock()
		delete(s.bus.sockets, s)
		s.bus.lock.Unlock()
		close(s.doneCh)
	})
	return nil
}
