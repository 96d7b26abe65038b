package can

import (
	"math/bits"
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/canlink.go/pkg/objpool"
	"github.com/robotalks/canlink.go/pkg/softtimer"
	"github.com/robotalks/canlink.go/pkg/status"
)

// AckStatus is carried in byte 0 of an ACK payload and reported to
// AckCallbacks.
type AckStatus uint8

// ACK statuses.
const (
	AckOK AckStatus = iota
	AckTimeout
	AckInvalid
	AckUnknown
)

func (s AckStatus) String() string {
	switch s {
	case AckOK:
		return "ok"
	case AckTimeout:
		return "timeout"
	case AckInvalid:
		return "invalid"
	case AckUnknown:
		return "unknown"
	}
	return "bad-status"
}

// Ledger limits.
const (
	MaxAckRequests    = 10
	DefaultAckTimeout = 25 * time.Millisecond
)

// AckCallback is invoked for each ACK accepted for a request and once more
// if the request times out. device is meaningless on timeout. Returning an
// error for an OK ACK rejects it: the device is not recorded as responded.
type AckCallback func(msgID MsgID, device DeviceID, status AckStatus, remaining uint16) error

// AckRequest asks for acknowledgement of a transmitted critical message.
type AckRequest struct {
	Callback AckCallback
	// ExpectedBitset has bit n set for every device n expected to ACK.
	ExpectedBitset uint32
	// Timeout overrides the ledger timeout when not zero.
	Timeout time.Duration
}

// ExpectedDevices builds an expected-device bitset.
func ExpectedDevices(ids ...DeviceID) uint32 {
	var set uint32
	for _, id := range ids {
		set |= 1 << id
	}
	return set
}

// AckHandle references a pending request.
type AckHandle struct {
	h objpool.Handle
}

// IsValid reports whether the handle was ever issued.
func (h AckHandle) IsValid() bool {
	return h.h.IsValid()
}

type ackRecord struct {
	msgID     MsgID
	callback  AckCallback
	expected  uint32
	responded uint32
	deadline  time.Time
	timer     softtimer.ID
}

func (r *ackRecord) remaining() uint16 {
	return uint16(bits.OnesCount32(r.expected &^ r.responded))
}

// AckLedger tracks pending ACK requests.
//
// The active index is kept sorted by (message id, deadline), so a lookup
// binary-searches the first record of a message id and the first suitable
// record after it is the one closest to expiry.
//
// Callbacks run without the ledger lock but one at a time. A callback may
// add requests; it must not call HandleMsg or Expire.
type AckLedger struct {
	timers  *softtimer.Timers
	timeout time.Duration

	dispatch sync.Mutex

	lock   sync.Mutex
	pool   *objpool.Pool[ackRecord]
	active []objpool.Handle
}

// NewAckLedger creates a ledger whose requests expire after timeout,
// DefaultAckTimeout if zero.
func NewAckLedger(timers *softtimer.Timers, timeout time.Duration) *AckLedger {
	if timeout <= 0 {
		timeout = DefaultAckTimeout
	}
	return &AckLedger{
		timers:  timers,
		timeout: timeout,
		pool:    objpool.New[ackRecord](MaxAckRequests, nil),
		active:  make([]objpool.Handle, 0, MaxAckRequests),
	}
}

// Size returns the number of pending requests.
func (l *AckLedger) Size() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return len(l.active)
}

// AddRequest registers a pending request for msgID and starts its timer.
func (l *AckLedger) AddRequest(msgID MsgID, req AckRequest) (AckHandle, error) {
	if req.ExpectedBitset == 0 {
		return AckHandle{}, status.Codef(status.InvalidArgs, "ack: no expected devices")
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = l.timeout
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	h, rec, ok := l.pool.Get()
	if !ok {
		return AckHandle{}, status.Codef(status.ResourceExhausted, "ack: %d requests pending", MaxAckRequests)
	}
	*rec = ackRecord{
		msgID:    msgID,
		callback: req.Callback,
		expected: req.ExpectedBitset,
		deadline: time.Now().Add(timeout),
	}
	timer, err := l.timers.Start(timeout, func(softtimer.ID) {
		l.expire(AckHandle{h: h})
	})
	if err != nil {
		l.pool.Free(h)
		return AckHandle{}, err
	}
	rec.timer = timer
	l.insertLocked(h, rec)
	return AckHandle{h: h}, nil
}

// HandleMsg applies an ACK from device for msgID to the pending request
// closest to expiry that expects device and has not heard from it yet.
// A non-OK status ends the request with that status.
func (l *AckLedger) HandleMsg(msgID MsgID, device DeviceID, st AckStatus) error {
	if device >= 32 {
		return status.Codef(status.InvalidArgs, "ack: device %d out of range", device)
	}
	bit := uint32(1) << device

	l.dispatch.Lock()
	defer l.dispatch.Unlock()

	l.lock.Lock()
	h, rec := l.findLocked(msgID, bit)
	if rec == nil {
		l.lock.Unlock()
		return status.Codef(status.Unknown, "ack: no request for %d awaiting device %d", msgID, device)
	}
	cb := rec.callback
	if st != AckOK {
		remaining := rec.remaining()
		l.releaseLocked(h, rec)
		l.lock.Unlock()
		glog.V(2).Infof("ack: msg %d device %d reported %s", msgID, device, st)
		if cb != nil {
			cb(msgID, device, st, remaining)
		}
		return nil
	}
	remaining := uint16(bits.OnesCount32(rec.expected &^ (rec.responded | bit)))
	l.lock.Unlock()

	if cb != nil {
		if err := cb(msgID, device, AckOK, remaining); err != nil {
			glog.V(2).Infof("ack: msg %d device %d rejected: %v", msgID, device, err)
			return nil
		}
	}

	l.lock.Lock()
	defer l.lock.Unlock()
	// Only this path and expiry, both under dispatch, remove records.
	if rec, err := l.pool.At(h); err == nil {
		rec.responded |= bit
		if rec.remaining() == 0 {
			l.releaseLocked(h, rec)
		}
	}
	return nil
}

// Expire ends a pending request now, reporting AckTimeout. Expiring a
// request that already ended fails with InvalidArgs.
func (l *AckLedger) Expire(h AckHandle) error {
	return l.expire(h)
}

func (l *AckLedger) expire(h AckHandle) error {
	l.dispatch.Lock()
	defer l.dispatch.Unlock()

	l.lock.Lock()
	rec, err := l.pool.At(h.h)
	if err != nil {
		l.lock.Unlock()
		return err
	}
	msgID, cb, remaining := rec.msgID, rec.callback, rec.remaining()
	l.releaseLocked(h.h, rec)
	l.lock.Unlock()

	glog.V(2).Infof("ack: msg %d timed out, %d remaining", msgID, remaining)
	if cb != nil {
		cb(msgID, 0, AckTimeout, remaining)
	}
	return nil
}

// discard removes a request without invoking its callback.
func (l *AckLedger) discard(h AckHandle) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if rec, err := l.pool.At(h.h); err == nil {
		l.releaseLocked(h.h, rec)
	}
}

func (l *AckLedger) less(a, b *ackRecord) bool {
	if a.msgID != b.msgID {
		return a.msgID < b.msgID
	}
	return a.deadline.Before(b.deadline)
}

func (l *AckLedger) at(h objpool.Handle) *ackRecord {
	rec, err := l.pool.At(h)
	if err != nil {
		// The active index only holds live handles.
		panic(err)
	}
	return rec
}

func (l *AckLedger) insertLocked(h objpool.Handle, rec *ackRecord) {
	n := sort.Search(len(l.active), func(i int) bool {
		return l.less(rec, l.at(l.active[i]))
	})
	l.active = append(l.active, objpool.Handle{})
	copy(l.active[n+1:], l.active[n:])
	l.active[n] = h
}

func (l *AckLedger) findLocked(msgID MsgID, bit uint32) (objpool.Handle, *ackRecord) {
	n := sort.Search(len(l.active), func(i int) bool {
		return l.at(l.active[i]).msgID >= msgID
	})
	for ; n < len(l.active); n++ {
		rec := l.at(l.active[n])
		if rec.msgID != msgID {
			break
		}
		if rec.expected&bit != 0 && rec.responded&bit == 0 {
			return l.active[n], rec
		}
	}
	return objpool.Handle{}, nil
}

func (l *AckLedger) releaseLocked(h objpool.Handle, rec *ackRecord) {
	l.timers.Cancel(rec.timer)
	for n, ah := range l.active {
		if ah == h {
			l.active = append(l.active[:n], l.active[n+1:]...)
			break
		}
	}
	l.pool.Free(h)
}
