package host

import (
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/canlink.go/pkg/can/hw"
	"github.com/robotalks/canlink.go/pkg/fifo"
	"github.com/robotalks/canlink.go/pkg/status"
)

// Limits of the host transport.
const (
	TxFIFOSize = 8
	MaxFilters = 14

	frameBits = 128
)

// FrameDelay is the simulated wire time of one frame at bitrate kbps.
func FrameDelay(bitrate uint16) time.Duration {
	if bitrate == 0 {
		return 0
	}
	return (time.Duration(frameBits) * time.Millisecond / time.Duration(bitrate)).Round(time.Microsecond)
}

// Transport is the host hw.Transport.
type Transport struct {
	open Opener

	lock     sync.Mutex
	cond     *sync.Cond
	sock     Socket
	handlers [hw.NumEvents]hw.Callback
	filters  []hw.Filter
	txBuf    [TxFIFOSize * hw.FrameSize]byte
	tx       *fifo.Fifo
	delay    time.Duration
	running  bool

	rxLock  sync.Mutex
	rxFrame hw.Frame
	rxValid bool

	wg sync.WaitGroup
}

// New creates a transport that opens its socket with open on Init.
func New(open Opener) *Transport {
	t := &Transport{open: open}
	t.cond = sync.NewCond(&t.lock)
	return t
}

// Init implements hw.Transport. It opens the socket and starts the RX and
// TX goroutines.
func (t *Transport) Init(settings hw.Settings) error {
	if settings.Bitrate == 0 {
		return status.Codef(status.InvalidArgs, "host: zero bitrate")
	}
	t.Close()

	sock, err := t.open()
	if err != nil {
		return status.Codef(status.Unreachable, "host: open socket: %v", err)
	}
	if err := sock.SetLoopback(settings.Loopback); err != nil {
		sock.Close()
		return status.Codef(status.Internal, "host: loopback: %v", err)
	}
	tx, err := fifo.New(t.txBuf[:], hw.FrameSize)
	if err != nil {
		sock.Close()
		return err
	}

	delay := FrameDelay(settings.Bitrate)
	t.lock.Lock()
	t.sock, t.tx = sock, tx
	t.delay = delay
	t.filters = nil
	t.handlers = [hw.NumEvents]hw.Callback{}
	t.running = true
	t.lock.Unlock()

	t.wg.Add(2)
	go t.rxLoop(sock, delay)
	go t.txLoop(sock)
	glog.V(2).Infof("host: init %d kbps loopback=%v", settings.Bitrate, settings.Loopback)
	return nil
}

// RegisterCallback implements hw.Transport.
func (t *Transport) RegisterCallback(ev hw.Event, cb hw.Callback) error {
	if int(ev) >= hw.NumEvents {
		return status.Codef(status.InvalidArgs, "host: invalid event %d", ev)
	}
	t.lock.Lock()
	t.handlers[ev] = cb
	t.lock.Unlock()
	return nil
}

// AddFilter implements hw.Transport.
func (t *Transport) AddFilter(mask, filter uint32, extended bool) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if !t.running {
		return status.ErrUninitialized
	}
	if len(t.filters) >= MaxFilters {
		return status.Codef(status.ResourceExhausted, "host: out of filters")
	}
	filters := append(t.filters, hw.Filter{Mask: mask, ID: filter, Extended: extended})
	if err := t.sock.SetFilters(filters); err != nil {
		return status.Codef(status.Internal, "host: set filters: %v", err)
	}
	t.filters = filters
	return nil
}

// BusStatus implements hw.Transport. A host socket has no error state of
// its own.
func (t *Transport) BusStatus() hw.BusStatus {
	return hw.BusStatusOK
}

// Transmit implements hw.Transport.
func (t *Transport) Transmit(id uint32, extended bool, data []byte) error {
	f, err := hw.NewFrame(id, extended, data)
	if err != nil {
		return err
	}
	var rec [hw.FrameSize]byte
	if err := f.MarshalTo(rec[:]); err != nil {
		return err
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	if !t.running {
		return status.ErrUninitialized
	}
	if err := t.tx.Push(rec[:]); err != nil {
		return err
	}
	t.cond.Signal()
	return nil
}

// Receive implements hw.Transport. It returns the frame being delivered by
// the current MsgRx callback, once.
func (t *Transport) Receive(f *hw.Frame) bool {
	t.rxLock.Lock()
	defer t.rxLock.Unlock()
	if !t.rxValid {
		return false
	}
	*f, t.rxValid = t.rxFrame, false
	return true
}

// Close implements hw.Transport. Frames still queued for transmission are
// dropped.
func (t *Transport) Close() error {
	t.lock.Lock()
	if !t.running {
		t.lock.Unlock()
		return nil
	}
	t.running = false
	sock := t.sock
	t.cond.Broadcast()
	t.lock.Unlock()

	err := sock.Close()
	t.wg.Wait()
	return err
}

func (t *Transport) callback(ev hw.Event) hw.Callback {
	t.lock.Lock()
	defer t.lock.Unlock()
	if !t.running {
		return nil
	}
	return t.handlers[ev]
}

func (t *Transport) isRunning() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.running
}

func (t *Transport) rxLoop(sock Socket, delay time.Duration) {
	defer t.wg.Done()
	var f hw.Frame
	for t.isRunning() {
		if err := sock.Read(&f); err != nil {
			if errors.Is(err, status.ErrTimeout) {
				continue
			}
			if t.isRunning() {
				glog.Errorf("host: read: %v", err)
			}
			return
		}
		glog.V(2).Infof("host: rx %s", f)
		t.rxLock.Lock()
		t.rxFrame, t.rxValid = f, true
		t.rxLock.Unlock()
		if cb := t.callback(hw.EventMsgRx); cb != nil {
			cb()
		}
		t.rxLock.Lock()
		t.rxValid = false
		t.rxLock.Unlock()
		time.Sleep(delay)
	}
}

func (t *Transport) txLoop(sock Socket) {
	defer t.wg.Done()
	var rec [hw.FrameSize]byte
	for {
		t.lock.Lock()
		for t.running && t.tx.Size() == 0 {
			t.cond.Wait()
		}
		if !t.running {
			t.lock.Unlock()
			return
		}
		t.tx.Pop(rec[:])
		delay := t.delay
		t.lock.Unlock()

		var f hw.Frame
		if err := f.UnmarshalBinary(rec[:]); err != nil {
			glog.Errorf("host: corrupt tx record: %v", err)
			continue
		}
		if err := sock.Write(&f); err != nil {
			glog.Warningf("host: write %s: %v", f, err)
		} else {
			glog.V(2).Infof("host: tx %s", f)
		}
		time.Sleep(delay)
		if cb := t.callback(hw.EventTxReady); cb != nil {
			cb()
		}
	}
}
