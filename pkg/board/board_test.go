package board

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/canlink.go/pkg/can"
	"github.com/robotalks/canlink.go/pkg/config"
)

func virtualConfig(deviceID int) *config.Config {
	conf := *config.Default()
	conf.Interface = config.VirtualInterface
	conf.DeviceID = deviceID
	conf.Loopback = true
	conf.MQTTURL = ""
	conf.UARTPort = ""
	conf.Filters = nil
	return &conf
}

func TestLoopbackAck(t *testing.T) {
	b, err := New(virtualConfig(1))
	require.NoError(t, err)
	defer b.Close()

	var received atomic.Int32
	require.NoError(t, b.Session.RegisterRxHandler(3, func(msg *can.Message, reply *can.AckStatus) error {
		received.Add(1)
		*reply = can.AckOK
		return nil
	}))

	acked := make(chan can.AckStatus, 1)
	msg, err := can.NewMessage(3, []byte{0x11})
	require.NoError(t, err)
	_, err = b.Session.TransmitWithAck(&msg, can.AckRequest{
		ExpectedBitset: can.ExpectedDevices(1),
		Timeout:        time.Second,
		Callback: func(id can.MsgID, dev can.DeviceID, st can.AckStatus, remaining uint16) error {
			acked <- st
			return nil
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Loop().Run(ctx)

	select {
	case st := <-acked:
		require.Equal(t, can.AckOK, st)
	case <-time.After(2 * time.Second):
		t.Fatal("no ack")
	}
	require.Equal(t, int32(1), received.Load())
	require.Zero(t, b.Faults())
}

func TestInvalidConfig(t *testing.T) {
	conf := virtualConfig(1)
	conf.Filters = []int{1000}
	_, err := New(conf)
	require.Error(t, err)
}
