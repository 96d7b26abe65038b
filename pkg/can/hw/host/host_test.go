package host

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/canlink.go/pkg/can/hw"
	"github.com/robotalks/canlink.go/pkg/status"
)

type recorder struct {
	lock   sync.Mutex
	frames []hw.Frame
	txDone int
}

func (r *recorder) attach(t *testing.T, tr *Transport) {
	require.NoError(t, tr.RegisterCallback(hw.EventMsgRx, func() {
		var f hw.Frame
		for tr.Receive(&f) {
			r.lock.Lock()
			r.frames = append(r.frames, f)
			r.lock.Unlock()
		}
	}))
	require.NoError(t, tr.RegisterCallback(hw.EventTxReady, func() {
		r.lock.Lock()
		r.txDone++
		r.lock.Unlock()
	}))
}

func (r *recorder) received() []hw.Frame {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]hw.Frame(nil), r.frames...)
}

func (r *recorder) transmitted() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.txDone
}

func newTransport(t *testing.T, bus *VirtualBus, settings hw.Settings) *Transport {
	tr := New(bus.Opener())
	require.NoError(t, tr.Init(settings))
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestFrameDelay(t *testing.T) {
	require.Equal(t, 256*time.Microsecond, FrameDelay(500))
	require.Equal(t, 128*time.Microsecond, FrameDelay(1000))
	require.Equal(t, 1024*time.Microsecond, FrameDelay(125))
	require.Equal(t, time.Duration(0), FrameDelay(0))
}

func TestLoopbackRoundTrip(t *testing.T) {
	tr := newTransport(t, NewVirtualBus(), hw.Settings{Bitrate: 500, Loopback: true})
	var r recorder
	r.attach(t, tr)

	require.NoError(t, tr.Transmit(0x1ABCDE, true, []byte{1, 2, 3, 4, 5, 6, 7, 8}))
	require.NoError(t, tr.Transmit(0x7, false, nil))
	require.Eventually(t, func() bool { return len(r.received()) == 2 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return r.transmitted() == 2 }, time.Second, time.Millisecond)

	frames := r.received()
	require.Equal(t, hw.Frame{ID: 0x1ABCDE, Extended: true, Len: 8, Data: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}}, frames[0])
	require.Equal(t, hw.Frame{ID: 0x7}, frames[1])
	require.Equal(t, hw.BusStatusOK, tr.BusStatus())
}

func TestNoLoopbackAndFilters(t *testing.T) {
	bus := NewVirtualBus()
	a := newTransport(t, bus, hw.Settings{Bitrate: 1000})
	b := newTransport(t, bus, hw.Settings{Bitrate: 1000})
	var ra, rb recorder
	ra.attach(t, a)
	rb.attach(t, b)

	require.NoError(t, b.AddFilter(0x7FF, 0x20, false))
	require.NoError(t, a.Transmit(0x21, false, []byte{1}))
	require.NoError(t, a.Transmit(0x20, true, []byte{2}))
	require.NoError(t, a.Transmit(0x20, false, []byte{3}))

	require.Eventually(t, func() bool { return len(rb.received()) == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return ra.transmitted() == 3 }, time.Second, time.Millisecond)
	require.Equal(t, []byte{3}, rb.received()[0].Payload())
	require.Empty(t, ra.received())
}

func TestFilterLimit(t *testing.T) {
	tr := newTransport(t, NewVirtualBus(), hw.Settings{Bitrate: 500})
	for i := 0; i < MaxFilters; i++ {
		require.NoError(t, tr.AddFilter(0x7FF, uint32(i), false))
	}
	err := tr.AddFilter(0x7FF, 0x100, false)
	require.True(t, errors.Is(err, status.ErrResourceExhausted))
}

func TestTxFIFOFull(t *testing.T) {
	// 1 kbps paces one frame every 128ms, so the FIFO fills up.
	tr := newTransport(t, NewVirtualBus(), hw.Settings{Bitrate: 1})
	var (
		n   int
		err error
	)
	for ; n < 2*TxFIFOSize; n++ {
		if err = tr.Transmit(uint32(n), false, nil); err != nil {
			break
		}
	}
	require.True(t, errors.Is(err, status.ErrResourceExhausted))
	require.GreaterOrEqual(t, n, TxFIFOSize)
	require.LessOrEqual(t, n, TxFIFOSize+1)
}

func TestUninitialized(t *testing.T) {
	tr := New(NewVirtualBus().Opener())
	require.True(t, errors.Is(tr.Transmit(1, false, nil), status.ErrUninitialized))
	require.True(t, errors.Is(tr.AddFilter(0, 0, false), status.ErrUninitialized))
	require.NoError(t, tr.Close())

	require.True(t, errors.Is(tr.Init(hw.Settings{}), status.ErrInvalidArgs))
	require.True(t, errors.Is(tr.Transmit(0x800, false, nil), status.ErrInvalidArgs))
}

func TestRxPacing(t *testing.T) {
	const frames = 5
	bus := NewVirtualBus()
	tr := newTransport(t, bus, hw.Settings{Bitrate: 10})
	var (
		lock  sync.Mutex
		times []time.Time
	)
	require.NoError(t, tr.RegisterCallback(hw.EventMsgRx, func() {
		var f hw.Frame
		for tr.Receive(&f) {
			lock.Lock()
			times = append(times, time.Now())
			lock.Unlock()
		}
	}))

	// Write straight to the bus so only the receiving side paces.
	sock, err := bus.Open()
	require.NoError(t, err)
	defer sock.Close()
	for i := 0; i < frames; i++ {
		require.NoError(t, sock.Write(&hw.Frame{ID: uint32(i)}))
	}
	require.Eventually(t, func() bool {
		lock.Lock()
		defer lock.Unlock()
		return len(times) == frames
	}, time.Second, time.Millisecond)

	lock.Lock()
	defer lock.Unlock()
	require.GreaterOrEqual(t, times[frames-1].Sub(times[0]), (frames-1)*FrameDelay(10))
}
