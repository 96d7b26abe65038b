package mcu

import (
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/canlink.go/pkg/can/hw"
	"github.com/robotalks/canlink.go/pkg/status"
)

// frameBits approximates the on-wire length of a frame.
const frameBits = 128

// SimBus connects simulated peripherals in normal mode. A frame transmitted
// by one peripheral is received by every other one.
type SimBus struct {
	lock  sync.Mutex
	nodes []*Sim
}

// NewSimBus creates an empty bus.
func NewSimBus() *SimBus {
	return &SimBus{}
}

func (b *SimBus) attach(s *Sim) {
	b.lock.Lock()
	b.nodes = append(b.nodes, s)
	b.lock.Unlock()
}

func (b *SimBus) detach(s *Sim) {
	b.lock.Lock()
	defer b.lock.Unlock()
	for n, node := range b.nodes {
		if node == s {
			b.nodes = append(b.nodes[:n], b.nodes[n+1:]...)
			return
		}
	}
}

func (b *SimBus) broadcast(from *Sim, f *hw.Frame) {
	b.lock.Lock()
	nodes := append([]*Sim(nil), b.nodes...)
	b.lock.Unlock()
	for _, node := range nodes {
		if node != from {
			node.deliver(f)
		}
	}
}

type mailbox struct {
	busy  bool
	frame hw.Frame
}

// Sim is an in-memory Peripheral. Transmission completes on a background
// goroutine after one frame time at the configured bitrate.
type Sim struct {
	bus *SimBus

	lock       sync.Mutex
	timing     Timing
	mode       Mode
	configured bool
	banks      [NumFilterBanks]FilterBank
	activeBank uint16
	mailboxes  [NumMailboxes]mailbox
	fifos      [NumRxFIFOs][]hw.Frame
	enabled    IRQ
	pending    IRQ
	flags      Flags
	overruns   int
	raise      func()

	wakeCh chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSim creates a simulated peripheral attached to bus, which may be nil
// for a node with nothing else on the bus.
func NewSim(bus *SimBus) *Sim {
	s := &Sim{
		bus:    bus,
		wakeCh: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	if bus != nil {
		bus.attach(s)
	}
	go s.run()
	return s
}

// Close stops the transmitter and detaches from the bus.
func (s *Sim) Close() error {
	select {
	case <-s.stopCh:
		return nil
	default:
	}
	close(s.stopCh)
	<-s.doneCh
	if s.bus != nil {
		s.bus.detach(s)
	}
	return nil
}

// Configure implements Peripheral.
func (s *Sim) Configure(t Timing, mode Mode) error {
	if t.Prescaler == 0 || t.BS1 == 0 || t.BS2 == 0 {
		return status.Codef(status.InvalidArgs, "mcu sim: invalid timing %s", t)
	}
	s.lock.Lock()
	s.timing, s.mode, s.configured = t, mode, true
	s.lock.Unlock()
	return nil
}

// SetFilter implements Peripheral.
func (s *Sim) SetFilter(bank int, fb FilterBank) {
	s.lock.Lock()
	s.banks[bank] = fb
	s.activeBank |= 1 << uint(bank)
	s.lock.Unlock()
}

// EnableIRQ implements Peripheral.
func (s *Sim) EnableIRQ(irq IRQ) {
	s.lock.Lock()
	s.enabled = irq
	raise := s.raiseLocked()
	s.lock.Unlock()
	raise()
}

// AttachIRQ implements Peripheral.
func (s *Sim) AttachIRQ(raise func()) {
	s.lock.Lock()
	s.raise = raise
	s.lock.Unlock()
}

// PendingIRQ implements Peripheral.
func (s *Sim) PendingIRQ() IRQ {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.pendingLocked()
}

// ClearIRQ implements Peripheral.
func (s *Sim) ClearIRQ(irq IRQ) {
	s.lock.Lock()
	s.pending &^= irq
	s.lock.Unlock()
}

// RequestTransmit implements Peripheral.
func (s *Sim) RequestTransmit(f *hw.Frame) (int, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if !s.configured {
		return 0, false
	}
	for n := range s.mailboxes {
		if !s.mailboxes[n].busy {
			s.mailboxes[n] = mailbox{busy: true, frame: *f}
			select {
			case s.wakeCh <- struct{}{}:
			default:
			}
			return n, true
		}
	}
	return 0, false
}

// ReadFIFO implements Peripheral.
func (s *Sim) ReadFIFO(fifo int, f *hw.Frame) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	if fifo < 0 || fifo >= NumRxFIFOs || len(s.fifos[fifo]) == 0 {
		return false
	}
	*f = s.fifos[fifo][0]
	s.fifos[fifo] = s.fifos[fifo][1:]
	return true
}

// Flags implements Peripheral.
func (s *Sim) Flags() Flags {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.flags
}

// Reset implements Peripheral.
func (s *Sim) Reset() {
	s.lock.Lock()
	s.timing, s.mode, s.configured = Timing{}, ModeNormal, false
	s.banks = [NumFilterBanks]FilterBank{}
	s.activeBank = 0
	s.mailboxes = [NumMailboxes]mailbox{}
	s.fifos = [NumRxFIFOs][]hw.Frame{}
	s.enabled, s.pending, s.flags = 0, 0, 0
	s.overruns = 0
	s.lock.Unlock()
}

// Overruns is the number of frames dropped because an RX FIFO was full.
func (s *Sim) Overruns() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.overruns
}

// SetErrorWarning sets or clears the error warning flag.
func (s *Sim) SetErrorWarning(on bool) {
	s.lock.Lock()
	if on {
		s.flags |= FlagErrorWarning
	} else {
		s.flags &^= FlagErrorWarning
	}
	s.lock.Unlock()
}

// InjectBusOff puts the controller into bus-off. Pending transmissions are
// held until Recover.
func (s *Sim) InjectBusOff() {
	s.lock.Lock()
	s.flags |= FlagBusOff | FlagErrorPassive
	s.pending |= IRQBusOff
	raise := s.raiseLocked()
	s.lock.Unlock()
	glog.V(2).Info("mcu sim: bus-off")
	raise()
}

// Recover leaves bus-off and resumes transmission.
func (s *Sim) Recover() {
	s.lock.Lock()
	s.flags &^= FlagBusOff | FlagErrorPassive | FlagErrorWarning
	s.lock.Unlock()
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func (s *Sim) pendingLocked() IRQ {
	irq := s.pending
	if len(s.fifos[0]) > 0 {
		irq |= IRQFIFO0Pending
	}
	if len(s.fifos[1]) > 0 {
		irq |= IRQFIFO1Pending
	}
	return irq & s.enabled
}

// raiseLocked returns the function to call after unlocking to signal the
// interrupt, or a no-op.
func (s *Sim) raiseLocked() func() {
	if s.raise == nil || s.pendingLocked() == 0 {
		return func() {}
	}
	return s.raise
}

func (s *Sim) deliver(f *hw.Frame) {
	s.lock.Lock()
	if !s.configured {
		s.lock.Unlock()
		return
	}
	ir := IdentifierRegister(f)
	fifo := -1
	for n := range s.banks {
		if s.activeBank&(1<<uint(n)) != 0 && s.banks[n].Accepts(ir) {
			fifo = s.banks[n].FIFO
			break
		}
	}
	switch {
	case fifo < 0:
	case len(s.fifos[fifo]) >= RxFIFODepth:
		s.overruns++
	default:
		s.fifos[fifo] = append(s.fifos[fifo], *f)
	}
	raise := s.raiseLocked()
	s.lock.Unlock()
	raise()
}

// next picks the busy mailbox with the lowest identifier, the way the
// controller arbitrates its own mailboxes.
func (s *Sim) next() (int, time.Duration, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.flags&FlagBusOff != 0 {
		return 0, 0, false
	}
	best := -1
	for n := range s.mailboxes {
		if !s.mailboxes[n].busy {
			continue
		}
		if best < 0 || IdentifierRegister(&s.mailboxes[n].frame) < IdentifierRegister(&s.mailboxes[best].frame) {
			best = n
		}
	}
	if best < 0 {
		return 0, 0, false
	}
	bps := s.timing.Bitrate(PCLK)
	if bps == 0 {
		return best, 0, true
	}
	return best, time.Duration(frameBits) * time.Second / time.Duration(bps), true
}

func (s *Sim) run() {
	defer close(s.doneCh)
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.wakeCh:
		}
		for {
			n, delay, ok := s.next()
			if !ok {
				break
			}
			select {
			case <-s.stopCh:
				return
			case <-time.After(delay):
			}
			s.complete(n)
		}
	}
}

func (s *Sim) complete(n int) {
	s.lock.Lock()
	if !s.mailboxes[n].busy || s.flags&FlagBusOff != 0 {
		s.lock.Unlock()
		return
	}
	f := s.mailboxes[n].frame
	s.mailboxes[n].busy = false
	loopback := s.mode == ModeSilentLoopback
	s.pending |= IRQTxMailboxEmpty
	s.lock.Unlock()

	if loopback {
		s.deliver(&f)
	} else if s.bus != nil {
		s.bus.broadcast(s, &f)
	}
	s.lock.Lock()
	raise := s.raiseLocked()
	s.lock.Unlock()
	raise()
}
