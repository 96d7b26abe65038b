// Package can implements reliable messaging over a CAN transport.
//
// A Session owns TX and RX FIFOs, a table of receive handlers and an
// AckLedger. Hardware callbacks only move frames between the transport and
// the FIFOs and raise events; all dispatch happens when the main loop hands
// those events to Session.ProcessEvent.
package can

import (
	"github.com/robotalks/canlink.go/pkg/can/hw"
	"github.com/robotalks/canlink.go/pkg/status"
)

// MsgID is the logical message identifier.
type MsgID uint16

// DeviceID identifies a node on the bus.
type DeviceID uint8

// MsgType distinguishes data messages from acknowledgements.
type MsgType uint8

// Message types.
const (
	MsgTypeData MsgType = iota
	MsgTypeAck
)

func (t MsgType) String() string {
	switch t {
	case MsgTypeData:
		return "data"
	case MsgTypeAck:
		return "ack"
	}
	return "invalid"
}

// NumCriticalMsgIDs bounds the critical message ids. Only critical messages
// may request acknowledgement and only they are acknowledged by receivers.
const NumCriticalMsgIDs = 16

// IsCritical reports whether id is a critical message id.
func (id MsgID) IsCritical() bool {
	return id < NumCriticalMsgIDs
}

// ID is the unpacked bus identifier.
type ID struct {
	Source DeviceID
	Type   MsgType
	MsgID  MsgID
}

// Layout is the bit layout of ID within the bus identifier, from the least
// significant bit: source device, type, message id. Message ids occupy the
// most significant bits so lower ids win arbitration.
type Layout struct {
	SourceBits uint8 `yaml:"source_bits"`
	TypeBits   uint8 `yaml:"type_bits"`
	MsgIDBits  uint8 `yaml:"msg_id_bits"`
}

// DefaultLayout fits a standard 11-bit identifier.
var DefaultLayout = Layout{SourceBits: 4, TypeBits: 1, MsgIDBits: 6}

// Validate checks the layout fits an identifier and a device bitset.
func (l Layout) Validate() error {
	switch {
	case l.TypeBits != 1:
		return status.Codef(status.InvalidArgs, "can: layout needs 1 type bit, got %d", l.TypeBits)
	case l.SourceBits == 0 || l.SourceBits > 5:
		return status.Codef(status.InvalidArgs, "can: layout source bits %d not in 1..5", l.SourceBits)
	case l.MsgIDBits < 4 || l.MsgIDBits > 16:
		return status.Codef(status.InvalidArgs, "can: layout msg id bits %d not in 4..16", l.MsgIDBits)
	case l.totalBits() > 29:
		return status.Codef(status.InvalidArgs, "can: layout needs %d bits", l.totalBits())
	}
	return nil
}

func (l Layout) totalBits() uint8 {
	return l.SourceBits + l.TypeBits + l.MsgIDBits
}

// Extended reports whether the layout needs 29-bit identifiers.
func (l Layout) Extended() bool {
	return l.totalBits() > 11
}

// MaxMsgID is the largest message id.
func (l Layout) MaxMsgID() MsgID {
	return MsgID(1<<l.MsgIDBits - 1)
}

// MaxDeviceID is the largest device id.
func (l Layout) MaxDeviceID() DeviceID {
	return DeviceID(1<<l.SourceBits - 1)
}

// HasDevices reports whether every bit set in a device bitset names a device
// id of the layout.
func (l Layout) HasDevices(set uint32) bool {
	shift := uint(l.MaxDeviceID()) + 1
	return set>>shift == 0
}

func (l Layout) msgIDShift() uint8 {
	return l.SourceBits + l.TypeBits
}

// MsgIDFilter returns the mask and identifier that match id regardless of
// source and type.
func (l Layout) MsgIDFilter(id MsgID) (mask, filter uint32) {
	shift := l.msgIDShift()
	return uint32(l.MaxMsgID()) << shift, uint32(id) << shift
}

// Pack encodes id.
func (l Layout) Pack(id ID) (uint32, error) {
	switch {
	case id.MsgID > l.MaxMsgID():
		return 0, status.Codef(status.InvalidArgs, "can: msg id %d > %d", id.MsgID, l.MaxMsgID())
	case id.Source > l.MaxDeviceID():
		return 0, status.Codef(status.InvalidArgs, "can: device id %d > %d", id.Source, l.MaxDeviceID())
	case id.Type > MsgTypeAck:
		return 0, status.Codef(status.InvalidArgs, "can: invalid type %d", id.Type)
	}
	return uint32(id.Source) |
		uint32(id.Type)<<l.SourceBits |
		uint32(id.MsgID)<<l.msgIDShift(), nil
}

// Unpack decodes a bus identifier.
func (l Layout) Unpack(raw uint32) ID {
	return ID{
		Source: DeviceID(raw & uint32(l.MaxDeviceID())),
		Type:   MsgType(raw >> l.SourceBits & 1),
		MsgID:  MsgID(raw >> l.msgIDShift() & uint32(l.MaxMsgID())),
	}
}

// UnpackFrame decodes the identifier of f. Frames whose identifier kind or
// range does not fit the layout are rejected.
func (l Layout) UnpackFrame(f *hw.Frame) (ID, bool) {
	if f.Extended != l.Extended() || f.ID>>l.totalBits() != 0 {
		return ID{}, false
	}
	return l.Unpack(f.ID), true
}
