package hw

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/robotalks/canlink.go/pkg/status"
)

// Identifier limits.
const (
	MaxStdID = 0x7FF
	MaxExtID = 0x1FFFFFFF
	MaxDLC   = 8
)

// SocketCAN can_id flags.
const (
	FlagEFF = 0x80000000
	FlagRTR = 0x40000000
	FlagERR = 0x20000000
)

// FrameSize is the size of an encoded Frame, matching struct can_frame.
const FrameSize = 16

// Frame is a classical CAN frame as seen by a transport.
type Frame struct {
	ID       uint32
	Extended bool
	Len      uint8
	Data     [8]byte
}

// NewFrame builds a frame and validates it.
func NewFrame(id uint32, extended bool, data []byte) (Frame, error) {
	f := Frame{ID: id, Extended: extended}
	if len(data) > MaxDLC {
		return f, status.Codef(status.InvalidArgs, "hw: data length %d > %d", len(data), MaxDLC)
	}
	f.Len = uint8(len(data))
	copy(f.Data[:], data)
	return f, f.Validate()
}

// Validate checks the identifier range and length.
func (f *Frame) Validate() error {
	if f.Len > MaxDLC {
		return status.Codef(status.InvalidArgs, "hw: data length %d > %d", f.Len, MaxDLC)
	}
	switch {
	case f.Extended && f.ID > MaxExtID:
		return status.Codef(status.InvalidArgs, "hw: extended id 0x%X out of range", f.ID)
	case !f.Extended && f.ID > MaxStdID:
		return status.Codef(status.InvalidArgs, "hw: standard id 0x%X out of range", f.ID)
	}
	return nil
}

// Payload returns the valid data bytes.
func (f *Frame) Payload() []byte {
	return f.Data[:f.Len]
}

// Matches reports whether f passes an acceptance filter.
func (f *Frame) Matches(filter Filter) bool {
	if f.Extended != filter.Extended {
		return false
	}
	return f.ID&filter.Mask == filter.ID&filter.Mask
}

// String renders the frame like candump: "123 [2] DE AD".
func (f Frame) String() string {
	var sb strings.Builder
	if f.Extended {
		fmt.Fprintf(&sb, "%08X", f.ID)
	} else {
		fmt.Fprintf(&sb, "%03X", f.ID)
	}
	fmt.Fprintf(&sb, " [%d]", f.Len)
	for _, b := range f.Payload() {
		fmt.Fprintf(&sb, " %02X", b)
	}
	return sb.String()
}

// MarshalTo encodes the frame into buf using the SocketCAN can_frame layout:
//
//	0..3  can_id (little-endian, EFF flag for extended ids)
//	4     can_dlc
//	5..7  padding
//	8..15 data
func (f *Frame) MarshalTo(buf []byte) error {
	if len(buf) < FrameSize {
		return status.Codef(status.InvalidArgs, "hw: need %d bytes, got %d", FrameSize, len(buf))
	}
	if err := f.Validate(); err != nil {
		return err
	}
	id := f.ID
	if f.Extended {
		id |= FlagEFF
	}
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = f.Len
	buf[5], buf[6], buf[7] = 0, 0, 0
	copy(buf[8:16], f.Data[:])
	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (f Frame) MarshalBinary() ([]byte, error) {
	buf := make([]byte, FrameSize)
	if err := f.MarshalTo(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) < FrameSize {
		return status.Codef(status.InvalidArgs, "hw: need %d bytes, got %d", FrameSize, len(data))
	}
	id := binary.LittleEndian.Uint32(data[0:4])
	f.Extended = id&FlagEFF != 0
	if f.Extended {
		f.ID = id & MaxExtID
	} else {
		f.ID = id & MaxStdID
	}
	f.Len = data[4]
	copy(f.Data[:], data[8:16])
	return f.Validate()
}
