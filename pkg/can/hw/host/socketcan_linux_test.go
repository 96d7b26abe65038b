//go:build linux

package host

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/robotalks/canlink.go/pkg/can/hw"
)

func TestLoopbackOpts(t *testing.T) {
	for _, on := range []bool{false, true} {
		own := 0
		if on {
			own = 1
		}
		require.Equal(t, []sockopt{
			{unix.CAN_RAW_LOOPBACK, 1},
			{unix.CAN_RAW_RECV_OWN_MSGS, own},
		}, loopbackOpts(on), "loopback=%v", on)
	}
}

// TestSocketCANPeer needs a vcan0 interface:
//
//	ip link add vcan0 type vcan && ip link set vcan0 up
func TestSocketCANPeer(t *testing.T) {
	sock, err := openRaw("vcan0")
	if err != nil {
		t.Skipf("vcan0: %v", err)
	}
	sock.Close()
	open := func(loopback bool) *Transport {
		tr := New(SocketCAN("vcan0"))
		require.NoError(t, tr.Init(hw.Settings{Bitrate: 1000, Loopback: loopback}))
		t.Cleanup(func() { tr.Close() })
		return tr
	}
	sender, peer := open(false), open(false)
	var rs, rp recorder
	rs.attach(t, sender)
	rp.attach(t, peer)
	require.NoError(t, sender.AddFilter(0x7FF, 0x155, false))
	require.NoError(t, peer.AddFilter(0x7FF, 0x155, false))

	require.NoError(t, sender.Transmit(0x155, false, []byte{0x55}))
	require.Eventually(t, func() bool { return len(rp.received()) == 1 }, time.Second, time.Millisecond)
	require.Equal(t, []byte{0x55}, rp.received()[0].Payload())
	require.Eventually(t, func() bool { return rs.transmitted() == 1 }, time.Second, time.Millisecond)
	require.Empty(t, rs.received())
}
