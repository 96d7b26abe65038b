package can

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/canlink.go/pkg/can/hw"
	"github.com/robotalks/canlink.go/pkg/status"
)

func TestDefaultLayout(t *testing.T) {
	l := DefaultLayout
	require.NoError(t, l.Validate())
	require.False(t, l.Extended())
	require.Equal(t, MsgID(63), l.MaxMsgID())
	require.Equal(t, DeviceID(15), l.MaxDeviceID())

	raw, err := l.Pack(ID{Source: 3, Type: MsgTypeAck, MsgID: 5})
	require.NoError(t, err)
	require.Equal(t, uint32(5<<5|1<<4|3), raw)
	require.Equal(t, ID{Source: 3, Type: MsgTypeAck, MsgID: 5}, l.Unpack(raw))

	mask, filter := l.MsgIDFilter(5)
	require.Equal(t, uint32(0x7E0), mask)
	require.True(t, (&hw.Frame{ID: raw}).Matches(hw.Filter{Mask: mask, ID: filter}))

	_, err = l.Pack(ID{MsgID: 64})
	require.True(t, errors.Is(err, status.ErrInvalidArgs))
	_, err = l.Pack(ID{Source: 16})
	require.True(t, errors.Is(err, status.ErrInvalidArgs))

	require.True(t, l.HasDevices(ExpectedDevices(0, 15)))
	require.False(t, l.HasDevices(1<<16))
}

func TestExtendedLayout(t *testing.T) {
	l := Layout{SourceBits: 5, TypeBits: 1, MsgIDBits: 11}
	require.NoError(t, l.Validate())
	require.True(t, l.Extended())
	require.Equal(t, MsgID(2047), l.MaxMsgID())

	raw, err := l.Pack(ID{Source: 31, MsgID: 2047})
	require.NoError(t, err)
	id, ok := l.UnpackFrame(&hw.Frame{ID: raw, Extended: true})
	require.True(t, ok)
	require.Equal(t, ID{Source: 31, MsgID: 2047}, id)

	_, ok = l.UnpackFrame(&hw.Frame{ID: raw})
	require.False(t, ok)
	_, ok = DefaultLayout.UnpackFrame(&hw.Frame{ID: 0x7FF, Extended: true})
	require.False(t, ok)
}

func TestLayoutValidate(t *testing.T) {
	for _, l := range []Layout{
		{SourceBits: 4, TypeBits: 0, MsgIDBits: 6},
		{SourceBits: 6, TypeBits: 1, MsgIDBits: 6},
		{SourceBits: 4, TypeBits: 1, MsgIDBits: 3},
		{SourceBits: 5, TypeBits: 1, MsgIDBits: 24},
	} {
		require.True(t, errors.Is(l.Validate(), status.ErrInvalidArgs), "%+v", l)
	}
}

func TestMessageRecord(t *testing.T) {
	msg, err := NewMessage(9, []byte{1, 2, 3})
	require.NoError(t, err)
	msg.Source = 2
	var rec [recordSize]byte
	msg.marshalRecord(rec[:])

	var got Message
	got.unmarshalRecord(rec[:])
	require.Equal(t, msg, got)
	require.True(t, got.MsgID.IsCritical())
	require.False(t, MsgID(NumCriticalMsgIDs).IsCritical())

	_, err = NewMessage(1, make([]byte, 9))
	require.True(t, errors.Is(err, status.ErrInvalidArgs))
}
