package can

import (
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/canlink.go/pkg/can/hw"
	"github.com/robotalks/canlink.go/pkg/event"
	"github.com/robotalks/canlink.go/pkg/fifo"
	"github.com/robotalks/canlink.go/pkg/softtimer"
	"github.com/robotalks/canlink.go/pkg/status"
)

// Session limits and defaults.
const (
	TxFIFOSize         = 16
	RxFIFOSize         = 16
	DefaultBusOffGrace = time.Second
)

// Settings configures a Session.
type Settings struct {
	DeviceID DeviceID
	Bitrate  uint16
	Loopback bool
	TxPin    uint8
	RxPin    uint8

	RxEvent    event.ID
	TxEvent    event.ID
	FaultEvent event.ID

	// AckTimeout defaults to DefaultAckTimeout.
	AckTimeout time.Duration
	// BusOffGrace is how long the bus may stay off before FaultEvent is
	// raised. Defaults to DefaultBusOffGrace.
	BusOffGrace time.Duration
	// Layout defaults to DefaultLayout.
	Layout Layout
}

// Session is one CAN interface: a transport plus the FIFOs, receive
// handlers and ACK ledger built on it.
type Session struct {
	hw     hw.Transport
	queue  *event.Queue
	timers *softtimer.Timers

	settings Settings
	ledger   *AckLedger
	rxTable  rxTable

	txLock    sync.Mutex
	txBuf     [TxFIFOSize * recordSize]byte
	tx        *fifo.Fifo
	txBusy    bool // a flushTx is handing records to the transport
	txRecheck bool // flushTx was called while busy

	rxLock    sync.Mutex
	rxBuf     [RxFIFOSize * recordSize]byte
	rx        *fifo.Fifo
	rxDropped int

	stateLock   sync.Mutex
	initialized bool
	busTimer    softtimer.ID
}

// NewSession creates a session on transport. Events are raised on queue and
// the ledger and bus supervision use timers.
func NewSession(transport hw.Transport, queue *event.Queue, timers *softtimer.Timers) *Session {
	return &Session{hw: transport, queue: queue, timers: timers}
}

// Init initializes the transport and the session state. A transport failure
// also raises FaultEvent. Receive handlers from a previous Init are removed.
func (s *Session) Init(settings Settings) error {
	if settings.Layout == (Layout{}) {
		settings.Layout = DefaultLayout
	}
	if err := settings.Layout.Validate(); err != nil {
		return err
	}
	if settings.DeviceID > settings.Layout.MaxDeviceID() {
		return status.Codef(status.InvalidArgs, "can: device id %d > %d", settings.DeviceID, settings.Layout.MaxDeviceID())
	}
	if settings.AckTimeout <= 0 {
		settings.AckTimeout = DefaultAckTimeout
	}
	if settings.BusOffGrace <= 0 {
		settings.BusOffGrace = DefaultBusOffGrace
	}

	s.Close()

	var err error
	if s.tx, err = fifo.New(s.txBuf[:], recordSize); err != nil {
		return err
	}
	if s.rx, err = fifo.New(s.rxBuf[:], recordSize); err != nil {
		return err
	}
	s.txBusy, s.txRecheck = false, false
	s.settings = settings
	s.ledger = NewAckLedger(s.timers, settings.AckTimeout)
	s.rxTable.reset()

	err = s.hw.Init(hw.Settings{
		Bitrate:  settings.Bitrate,
		Loopback: settings.Loopback,
		TxPin:    settings.TxPin,
		RxPin:    settings.RxPin,
	})
	if err != nil {
		glog.Errorf("can: hardware init failed: %v", err)
		s.raise(event.PriorityHighest, settings.FaultEvent, 0)
		return err
	}
	s.hw.RegisterCallback(hw.EventTxReady, s.onTxReady)
	s.hw.RegisterCallback(hw.EventMsgRx, s.onMsgRx)
	s.hw.RegisterCallback(hw.EventBusError, s.onBusError)

	s.stateLock.Lock()
	s.initialized = true
	s.stateLock.Unlock()
	glog.Infof("can: device %d up at %d kbps", settings.DeviceID, settings.Bitrate)
	return nil
}

// Close releases the transport. Pending ACK requests still expire.
func (s *Session) Close() error {
	s.stateLock.Lock()
	wasUp := s.initialized
	s.initialized = false
	if s.busTimer != softtimer.InvalidID {
		s.timers.Cancel(s.busTimer)
		s.busTimer = softtimer.InvalidID
	}
	s.stateLock.Unlock()
	if !wasUp {
		return nil
	}
	return s.hw.Close()
}

// DeviceID returns the configured device id.
func (s *Session) DeviceID() DeviceID {
	return s.settings.DeviceID
}

// Ledger returns the session's ACK ledger.
func (s *Session) Ledger() *AckLedger {
	return s.ledger
}

// RxDropped is the number of received messages dropped on a full RX FIFO.
func (s *Session) RxDropped() int {
	s.rxLock.Lock()
	defer s.rxLock.Unlock()
	return s.rxDropped
}

func (s *Session) isUp() bool {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	return s.initialized
}

// AddFilter accepts messages with msgID from any source. Without filters
// every message is accepted.
func (s *Session) AddFilter(msgID MsgID) error {
	if !s.isUp() {
		return status.ErrUninitialized
	}
	layout := s.settings.Layout
	if msgID > layout.MaxMsgID() {
		return status.Codef(status.InvalidArgs, "can: msg id %d > %d", msgID, layout.MaxMsgID())
	}
	mask, filter := layout.MsgIDFilter(msgID)
	return s.hw.AddFilter(mask, filter, layout.Extended())
}

// RegisterRxHandler installs h for data messages with msgID, replacing a
// previous handler for the same id.
func (s *Session) RegisterRxHandler(msgID MsgID, h RxHandler) error {
	if !s.isUp() {
		return status.ErrUninitialized
	}
	if msgID > s.settings.Layout.MaxMsgID() || h == nil {
		return status.Codef(status.InvalidArgs, "can: invalid rx handler for %d", msgID)
	}
	return s.rxTable.register(msgID, h)
}

// RegisterDefaultRxHandler installs h for data messages without their own
// handler.
func (s *Session) RegisterDefaultRxHandler(h RxHandler) error {
	if !s.isUp() {
		return status.ErrUninitialized
	}
	s.rxTable.setDefault(h)
	return nil
}

// Transmit queues msg for transmission, optionally with an ACK request. The
// source is always this device.
func (s *Session) Transmit(msg *Message, ack *AckRequest) error {
	_, err := s.transmit(msg, ack)
	return err
}

// TransmitWithAck queues a critical message and returns the handle of its
// ACK request, which can be passed to ExpireAck.
func (s *Session) TransmitWithAck(msg *Message, ack AckRequest) (AckHandle, error) {
	return s.transmit(msg, &ack)
}

// ExpireAck force-expires a pending ACK request.
func (s *Session) ExpireAck(h AckHandle) error {
	if !s.isUp() {
		return status.ErrUninitialized
	}
	return s.ledger.Expire(h)
}

func (s *Session) transmit(msg *Message, ack *AckRequest) (AckHandle, error) {
	if !s.isUp() {
		return AckHandle{}, status.ErrUninitialized
	}
	layout := s.settings.Layout
	switch {
	case msg.MsgID > layout.MaxMsgID():
		return AckHandle{}, status.Codef(status.InvalidArgs, "can: msg id %d > %d", msg.MsgID, layout.MaxMsgID())
	case msg.DLC > hw.MaxDLC:
		return AckHandle{}, status.Codef(status.InvalidArgs, "can: dlc %d > %d", msg.DLC, hw.MaxDLC)
	case msg.Type > MsgTypeAck:
		return AckHandle{}, status.Codef(status.InvalidArgs, "can: invalid type %d", msg.Type)
	case ack != nil && (!msg.MsgID.IsCritical() || msg.Type != MsgTypeData):
		return AckHandle{}, status.Codef(status.InvalidArgs, "can: ack requested for non-critical %s %d", msg.Type, msg.MsgID)
	case ack != nil && !layout.HasDevices(ack.ExpectedBitset):
		return AckHandle{}, status.Codef(status.InvalidArgs, "can: expected devices %#x beyond device %d", ack.ExpectedBitset, layout.MaxDeviceID())
	}
	msg.Source = s.settings.DeviceID

	var handle AckHandle
	if ack != nil {
		h, err := s.ledger.AddRequest(msg.MsgID, *ack)
		if err != nil {
			return AckHandle{}, err
		}
		handle = h
	}

	var rec [recordSize]byte
	msg.marshalRecord(rec[:])
	s.txLock.Lock()
	err := s.tx.Push(rec[:])
	s.txLock.Unlock()
	if err != nil {
		if ack != nil {
			s.ledger.discard(handle)
		}
		return AckHandle{}, err
	}
	s.raise(event.PriorityHigh, s.settings.TxEvent, 0)
	return handle, nil
}

// ProcessEvent handles the session's RX and TX events and reports whether
// e was one of them.
func (s *Session) ProcessEvent(e event.Event) bool {
	if !s.isUp() {
		return false
	}
	switch e.ID {
	case s.settings.TxEvent:
		s.flushTx()
	case s.settings.RxEvent:
		s.drainRx()
	default:
		return false
	}
	return true
}

func (s *Session) raise(prio event.Priority, id event.ID, data uint16) {
	if err := s.queue.Raise(prio, id, data); err != nil {
		glog.Warningf("can: raise event %d: %v", id, err)
	}
}

// flushTx hands queued messages to the transport until it has no room.
//
// Transmit is called without txLock, so TxReady callers only wait on the
// FIFO bookkeeping. One caller owns the flush at a time; a call arriving
// meanwhile makes the owner look at the FIFO once more.
func (s *Session) flushTx() {
	s.txLock.Lock()
	if s.txBusy {
		s.txRecheck = true
		s.txLock.Unlock()
		return
	}
	s.txBusy = true
	var (
		rec [recordSize]byte
		msg Message
	)
	for {
		s.txRecheck = false
		if s.tx.Peek(rec[:]) != nil {
			s.txBusy = false
			s.txLock.Unlock()
			return
		}
		s.txLock.Unlock()

		msg.unmarshalRecord(rec[:])
		raw, err := s.settings.Layout.Pack(msg.ID())
		if err == nil {
			err = s.hw.Transmit(raw, s.settings.Layout.Extended(), msg.Payload())
		}
		full := status.CodeOf(err) == status.ResourceExhausted
		switch {
		case full:
		case err != nil:
			glog.Errorf("can: drop %s: %v", msg, err)
		default:
			glog.V(2).Infof("can: tx %s", msg)
		}

		s.txLock.Lock()
		if full {
			if s.txRecheck {
				// TxReady came in while transmitting.
				continue
			}
			// The transport reports TxReady when it has room again.
			s.txBusy = false
			s.txLock.Unlock()
			return
		}
		s.tx.Pop(nil)
	}
}

func (s *Session) drainRx() {
	var (
		rec [recordSize]byte
		msg Message
	)
	for {
		s.rxLock.Lock()
		err := s.rx.Pop(rec[:])
		s.rxLock.Unlock()
		if err != nil {
			return
		}
		msg.unmarshalRecord(rec[:])
		s.dispatch(&msg)
	}
}

func (s *Session) dispatch(msg *Message) {
	glog.V(2).Infof("can: rx %s", msg)
	if msg.Type == MsgTypeAck {
		st := AckOK
		if msg.DLC > 0 {
			st = AckStatus(msg.Data[0])
		}
		if err := s.ledger.HandleMsg(msg.MsgID, msg.Source, st); err != nil {
			glog.V(2).Infof("can: %v", err)
		}
		return
	}

	reply := AckOK
	if h := s.rxTable.lookup(msg.MsgID); h != nil {
		if err := h(msg, &reply); err != nil {
			glog.V(2).Infof("can: rx handler %d: %v", msg.MsgID, err)
			return
		}
	}
	if !msg.MsgID.IsCritical() {
		return
	}
	ack := Message{Type: MsgTypeAck, MsgID: msg.MsgID, DLC: 1}
	ack.Data[0] = byte(reply)
	if err := s.Transmit(&ack, nil); err != nil {
		glog.Warningf("can: ack %d: %v", msg.MsgID, err)
	}
}

func (s *Session) onTxReady() {
	s.flushTx()
}

func (s *Session) onMsgRx() {
	var (
		f     hw.Frame
		rec   [recordSize]byte
		count uint16
	)
	for s.hw.Receive(&f) {
		id, ok := s.settings.Layout.UnpackFrame(&f)
		if !ok {
			continue
		}
		msg := Message{Source: id.Source, Type: id.Type, MsgID: id.MsgID, DLC: f.Len, Data: f.Data}
		msg.marshalRecord(rec[:])
		s.rxLock.Lock()
		if err := s.rx.Push(rec[:]); err != nil {
			s.rxDropped++
		} else {
			count++
		}
		s.rxLock.Unlock()
	}
	if count > 0 {
		s.raise(event.PriorityHigh, s.settings.RxEvent, count)
	}
}

func (s *Session) onBusError() {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	if !s.initialized || s.timers.Remaining(s.busTimer) > 0 {
		return
	}
	id, err := s.timers.Start(s.settings.BusOffGrace, s.onBusOffGraceExpired)
	if err != nil {
		return
	}
	s.busTimer = id
}

func (s *Session) onBusOffGraceExpired(softtimer.ID) {
	if !s.isUp() {
		return
	}
	if s.hw.BusStatus() == hw.BusStatusOff {
		glog.Errorf("can: bus off for %s, raising fault", s.settings.BusOffGrace)
		s.raise(event.PriorityHighest, s.settings.FaultEvent, 0)
	}
}
