package can

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/canlink.go/pkg/softtimer"
	"github.com/robotalks/canlink.go/pkg/status"
)

type ackCall struct {
	tag       string
	msgID     MsgID
	device    DeviceID
	status    AckStatus
	remaining uint16
}

type ackRecorder struct {
	lock  sync.Mutex
	calls []ackCall
	// reject, if set, rejects OK ACKs from this device.
	reject *DeviceID
}

func (r *ackRecorder) callback(tag string) AckCallback {
	return func(msgID MsgID, device DeviceID, st AckStatus, remaining uint16) error {
		r.lock.Lock()
		defer r.lock.Unlock()
		if st == AckOK && r.reject != nil && *r.reject == device {
			return status.Codef(status.InvalidArgs, "rejected")
		}
		r.calls = append(r.calls, ackCall{tag, msgID, device, st, remaining})
		return nil
	}
}

func (r *ackRecorder) get() []ackCall {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]ackCall(nil), r.calls...)
}

func newLedger(t *testing.T, timeout time.Duration) *AckLedger {
	timers := softtimer.New()
	t.Cleanup(timers.Close)
	return NewAckLedger(timers, timeout)
}

func TestAckResolution(t *testing.T) {
	l := newLedger(t, time.Second)
	var r ackRecorder
	_, err := l.AddRequest(5, AckRequest{Callback: r.callback("x"), ExpectedBitset: ExpectedDevices(1, 2)})
	require.NoError(t, err)

	require.NoError(t, l.HandleMsg(5, 1, AckOK))
	require.Equal(t, 1, l.Size())
	require.NoError(t, l.HandleMsg(5, 2, AckOK))
	require.Equal(t, 0, l.Size())
	require.Equal(t, []ackCall{
		{"x", 5, 1, AckOK, 1},
		{"x", 5, 2, AckOK, 0},
	}, r.get())

	err = l.HandleMsg(5, 1, AckOK)
	require.True(t, errors.Is(err, status.ErrUnknown))
}

func TestAckUnexpectedAndDuplicate(t *testing.T) {
	l := newLedger(t, time.Second)
	_, err := l.AddRequest(5, AckRequest{ExpectedBitset: ExpectedDevices(1, 2)})
	require.NoError(t, err)

	require.True(t, errors.Is(l.HandleMsg(5, 3, AckOK), status.ErrUnknown))
	require.True(t, errors.Is(l.HandleMsg(6, 1, AckOK), status.ErrUnknown))
	require.NoError(t, l.HandleMsg(5, 1, AckOK))
	require.True(t, errors.Is(l.HandleMsg(5, 1, AckOK), status.ErrUnknown))
	require.Equal(t, 1, l.Size())
}

func TestAckTimeout(t *testing.T) {
	l := newLedger(t, 10*time.Millisecond)
	var r ackRecorder
	_, err := l.AddRequest(3, AckRequest{Callback: r.callback("x"), ExpectedBitset: ExpectedDevices(1, 4)})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(r.get()) == 1 }, time.Second, time.Millisecond)
	require.Equal(t, ackCall{"x", 3, 0, AckTimeout, 2}, r.get()[0])
	require.Equal(t, 0, l.Size())
	require.True(t, errors.Is(l.HandleMsg(3, 1, AckOK), status.ErrUnknown))
}

func TestAckSoonestFirst(t *testing.T) {
	l := newLedger(t, time.Second)
	var r ackRecorder
	_, err := l.AddRequest(5, AckRequest{Callback: r.callback("late"), ExpectedBitset: ExpectedDevices(1), Timeout: time.Second})
	require.NoError(t, err)
	_, err = l.AddRequest(5, AckRequest{Callback: r.callback("soon"), ExpectedBitset: ExpectedDevices(1), Timeout: 500 * time.Millisecond})
	require.NoError(t, err)
	_, err = l.AddRequest(4, AckRequest{Callback: r.callback("other"), ExpectedBitset: ExpectedDevices(1), Timeout: 100 * time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, l.HandleMsg(5, 1, AckOK))
	require.Equal(t, []ackCall{{"soon", 5, 1, AckOK, 0}}, r.get())
	require.Equal(t, 2, l.Size())

	require.NoError(t, l.HandleMsg(5, 1, AckOK))
	require.Equal(t, "late", r.get()[1].tag)
}

func TestAckForceExpire(t *testing.T) {
	l := newLedger(t, time.Second)
	var r ackRecorder
	h, err := l.AddRequest(2, AckRequest{Callback: r.callback("x"), ExpectedBitset: ExpectedDevices(1, 2, 3)})
	require.NoError(t, err)
	require.NoError(t, l.HandleMsg(2, 2, AckOK))

	require.NoError(t, l.Expire(h))
	require.True(t, errors.Is(l.Expire(h), status.ErrInvalidArgs))
	require.Equal(t, []ackCall{
		{"x", 2, 2, AckOK, 2},
		{"x", 2, 0, AckTimeout, 2},
	}, r.get())
	require.Equal(t, 0, l.Size())
}

func TestAckStatusAndRejection(t *testing.T) {
	l := newLedger(t, time.Second)
	rejected := DeviceID(1)
	r := ackRecorder{reject: &rejected}
	_, err := l.AddRequest(7, AckRequest{Callback: r.callback("x"), ExpectedBitset: ExpectedDevices(1, 2)})
	require.NoError(t, err)

	// A rejected ACK leaves the device outstanding.
	require.NoError(t, l.HandleMsg(7, 1, AckOK))
	require.Empty(t, r.get())
	require.Equal(t, 1, l.Size())

	require.NoError(t, l.HandleMsg(7, 2, AckInvalid))
	require.Equal(t, []ackCall{{"x", 7, 2, AckInvalid, 2}}, r.get())
	require.Equal(t, 0, l.Size())
}

func TestAckExhaustion(t *testing.T) {
	l := newLedger(t, time.Second)
	for i := 0; i < MaxAckRequests; i++ {
		_, err := l.AddRequest(MsgID(i), AckRequest{ExpectedBitset: 1})
		require.NoError(t, err)
	}
	_, err := l.AddRequest(1, AckRequest{ExpectedBitset: 1})
	require.True(t, errors.Is(err, status.ErrResourceExhausted))
	_, err = newLedger(t, 0).AddRequest(1, AckRequest{})
	require.True(t, errors.Is(err, status.ErrInvalidArgs))
}
