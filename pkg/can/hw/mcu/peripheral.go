package mcu

import (
	"github.com/robotalks/canlink.go/pkg/can/hw"
)

// Controller resources.
const (
	NumFilterBanks = 14
	NumMailboxes   = 3
	NumRxFIFOs     = 2
	RxFIFODepth    = 3
)

// Mode is the operating mode programmed at init.
type Mode uint8

// Operating modes.
const (
	ModeNormal Mode = iota
	// ModeSilentLoopback receives its own frames and drives nothing onto
	// the bus.
	ModeSilentLoopback
)

// IRQ is a set of interrupt sources.
type IRQ uint8

// Interrupt sources.
const (
	IRQTxMailboxEmpty IRQ = 1 << iota
	IRQFIFO0Pending
	IRQFIFO1Pending
	IRQBusOff

	IRQAll = IRQTxMailboxEmpty | IRQFIFO0Pending | IRQFIFO1Pending | IRQBusOff
)

// Flags are the error status flags.
type Flags uint8

// Error status flags.
const (
	FlagErrorWarning Flags = 1 << iota
	FlagErrorPassive
	FlagBusOff
)

// Identifier register bits.
const (
	regIDE = 1 << 2
	regRTR = 1 << 1
)

// FilterBank is one 32-bit identifier/mask filter bank.
type FilterBank struct {
	ID       uint32
	Mask     uint32
	Extended bool
	FIFO     int
}

// Registers encodes the bank as the FR1 (identifier) and FR2 (mask)
// registers in 32-bit scale. IDE is always part of the mask so standard and
// extended filters never cross-match.
func (b FilterBank) Registers() (fr1, fr2 uint32) {
	if b.Extended {
		return b.ID<<3 | regIDE, b.Mask<<3 | regIDE
	}
	return b.ID << 21, b.Mask<<21 | regIDE
}

// IdentifierRegister encodes the identifier of f as the mailbox TIR/RIR
// layout.
func IdentifierRegister(f *hw.Frame) uint32 {
	if f.Extended {
		return f.ID<<3 | regIDE
	}
	return f.ID << 21
}

// Accepts reports whether an identifier register value passes the bank.
func (b FilterBank) Accepts(ir uint32) bool {
	fr1, fr2 := b.Registers()
	return ir&fr2 == fr1&fr2
}

// Peripheral is the register interface of a bxCAN-like controller.
type Peripheral interface {
	// Configure enters initialization mode, programs timing and mode, and
	// leaves initialization mode.
	Configure(t Timing, mode Mode) error
	// SetFilter programs and activates a filter bank.
	SetFilter(bank int, fb FilterBank)
	// EnableIRQ sets the interrupt enable register.
	EnableIRQ(irq IRQ)
	// AttachIRQ connects the interrupt output. raise is called whenever an
	// enabled source becomes pending.
	AttachIRQ(raise func())
	// PendingIRQ returns the enabled, pending sources.
	PendingIRQ() IRQ
	// ClearIRQ acknowledges sources. Message-pending sources are level
	// triggered and stay pending while their FIFO is not empty.
	ClearIRQ(irq IRQ)
	// RequestTransmit loads f into an empty mailbox and requests
	// transmission. It returns false when no mailbox is empty.
	RequestTransmit(f *hw.Frame) (mailbox int, ok bool)
	// ReadFIFO copies the head of an RX FIFO into f and releases it.
	ReadFIFO(fifo int, f *hw.Frame) bool
	// Flags returns the error status flags.
	Flags() Flags
	// Reset returns the peripheral to its reset state.
	Reset()
}
