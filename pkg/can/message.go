package can

import (
	"encoding/binary"
	"fmt"

	"github.com/robotalks/canlink.go/pkg/can/hw"
	"github.com/robotalks/canlink.go/pkg/status"
)

// Message is a CAN message with its identifier unpacked.
type Message struct {
	Source DeviceID
	Type   MsgType
	MsgID  MsgID
	DLC    uint8
	Data   [hw.MaxDLC]byte
}

// NewMessage builds a data message.
func NewMessage(id MsgID, data []byte) (Message, error) {
	msg := Message{MsgID: id}
	return msg, msg.SetPayload(data)
}

// Payload returns the valid data bytes.
func (m *Message) Payload() []byte {
	return m.Data[:m.DLC]
}

// SetPayload copies data and sets the DLC.
func (m *Message) SetPayload(data []byte) error {
	if len(data) > hw.MaxDLC {
		return status.Codef(status.InvalidArgs, "can: payload %d bytes > %d", len(data), hw.MaxDLC)
	}
	m.Data = [hw.MaxDLC]byte{}
	copy(m.Data[:], data)
	m.DLC = uint8(len(data))
	return nil
}

// ID returns the identifier fields.
func (m *Message) ID() ID {
	return ID{Source: m.Source, Type: m.Type, MsgID: m.MsgID}
}

func (m Message) String() string {
	return fmt.Sprintf("%s %d from %d [% X]", m.Type, m.MsgID, m.Source, m.Payload())
}

// recordSize is the size of a Message in the session FIFOs.
const recordSize = 16

// Record layout:
//
//	0..1  msg id (little-endian)
//	2     source
//	3     type
//	4     dlc
//	5..7  zero
//	8..15 data
func (m *Message) marshalRecord(b []byte) {
	binary.LittleEndian.PutUint16(b[0:2], uint16(m.MsgID))
	b[2] = byte(m.Source)
	b[3] = byte(m.Type)
	b[4] = m.DLC
	b[5], b[6], b[7] = 0, 0, 0
	copy(b[8:16], m.Data[:])
}

func (m *Message) unmarshalRecord(b []byte) {
	m.MsgID = MsgID(binary.LittleEndian.Uint16(b[0:2]))
	m.Source = DeviceID(b[2])
	m.Type = MsgType(b[3])
	m.DLC = b[4]
	copy(m.Data[:], b[8:16])
}
