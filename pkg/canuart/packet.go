// Package canuart bridges CAN frames over a serial line.
//
// Every frame travels as a fixed 17 byte packet:
//
//	header u32 LE | id u32 LE | data [8]byte | '\n'
//
// The header packs, from bit 0: a 24-bit marker ("CTX" for frames to put on
// the bus, "CRX" for frames taken off it), extended, rtr, a reserved bit,
// parity and a 4-bit dlc.
package canuart

import (
	"encoding/binary"
	"math/bits"

	"github.com/robotalks/canlink.go/pkg/can/hw"
	"github.com/robotalks/canlink.go/pkg/status"
)

// Marker tags the direction of a packet.
type Marker uint32

// Packet markers.
const (
	MarkerTx Marker = 0x435458 // CTX
	MarkerRx Marker = 0x435258 // CRX
)

func (m Marker) String() string {
	switch m {
	case MarkerTx:
		return "CTX"
	case MarkerRx:
		return "CRX"
	}
	return "invalid"
}

// PacketSize is the encoded size of a packet.
const PacketSize = 17

const (
	markerMask  = 1<<24 - 1
	bitExtended = 1 << 24
	bitRTR      = 1 << 25
	bitParity   = 1 << 27
	dlcShift    = 28
	newline     = '\n'
)

// parity is set when id and payload carry an odd number of one bits.
func parity(f *hw.Frame) bool {
	n := bits.OnesCount32(f.ID)
	for _, b := range f.Payload() {
		n += bits.OnesCount8(b)
	}
	return n&1 != 0
}

// Encode writes f as a packet into buf, which must hold PacketSize bytes.
func Encode(buf []byte, marker Marker, f *hw.Frame) error {
	if len(buf) < PacketSize {
		return status.Codef(status.InvalidArgs, "canuart: buffer %d < %d", len(buf), PacketSize)
	}
	if marker != MarkerTx && marker != MarkerRx {
		return status.Codef(status.InvalidArgs, "canuart: invalid marker %#x", uint32(marker))
	}
	if err := f.Validate(); err != nil {
		return err
	}
	header := uint32(marker) | uint32(f.Len)<<dlcShift
	if f.Extended {
		header |= bitExtended
	}
	if parity(f) {
		header |= bitParity
	}
	binary.LittleEndian.PutUint32(buf[0:], header)
	binary.LittleEndian.PutUint32(buf[4:], f.ID)
	copy(buf[8:16], f.Data[:])
	clear(buf[8+f.Len : 16])
	buf[16] = newline
	return nil
}

// AppendPacket appends the encoded packet to buf.
func AppendPacket(buf []byte, marker Marker, f *hw.Frame) ([]byte, error) {
	var pkt [PacketSize]byte
	if err := Encode(pkt[:], marker, f); err != nil {
		return buf, err
	}
	return append(buf, pkt[:]...), nil
}

// Decode parses one packet from the start of buf.
func Decode(buf []byte) (Marker, hw.Frame, error) {
	var f hw.Frame
	if len(buf) < PacketSize {
		return 0, f, status.Codef(status.InvalidArgs, "canuart: short packet %d", len(buf))
	}
	header := binary.LittleEndian.Uint32(buf)
	marker := Marker(header & markerMask)
	if marker != MarkerTx && marker != MarkerRx {
		return 0, f, status.Codef(status.InvalidArgs, "canuart: bad marker %#06x", uint32(marker))
	}
	if buf[16] != newline {
		return 0, f, status.Codef(status.InvalidArgs, "canuart: missing terminator")
	}
	if header&bitRTR != 0 {
		return 0, f, status.Codef(status.InvalidArgs, "canuart: remote frames unsupported")
	}
	f.Len = uint8(header >> dlcShift)
	if f.Len > hw.MaxDLC {
		return 0, f, status.Codef(status.InvalidArgs, "canuart: dlc %d > %d", f.Len, hw.MaxDLC)
	}
	f.Extended = header&bitExtended != 0
	f.ID = binary.LittleEndian.Uint32(buf[4:])
	copy(f.Data[:f.Len], buf[8:])
	if err := f.Validate(); err != nil {
		return 0, f, err
	}
	if parity(&f) != (header&bitParity != 0) {
		return 0, f, status.Codef(status.InvalidArgs, "canuart: parity mismatch")
	}
	return marker, f, nil
}

// Packet is a decoded packet.
type Packet struct {
	Marker Marker
	Frame  hw.Frame
}

// Decoder splits a byte stream into packets, resynchronizing on the next
// byte after anything that does not parse.
type Decoder struct {
	buf     []byte
	Dropped int
}

// Feed consumes data and returns the complete packets found.
func (d *Decoder) Feed(data []byte) []Packet {
	d.buf = append(d.buf, data...)
	var pkts []Packet
	start := 0
	for len(d.buf)-start >= PacketSize {
		marker, f, err := Decode(d.buf[start:])
		if err != nil {
			start++
			d.Dropped++
			continue
		}
		pkts = append(pkts, Packet{Marker: marker, Frame: f})
		start += PacketSize
	}
	d.buf = append(d.buf[:0], d.buf[start:]...)
	return pkts
}
