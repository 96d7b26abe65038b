// Package mcu implements the CAN transport on a bxCAN-style controller.
//
// The driver programs the Peripheral registers directly. All hardware events
// share one interrupt line; its service routine dispatches to at most one
// callback per event kind.
package mcu

import (
	"github.com/golang/glog"

	"github.com/robotalks/canlink.go/pkg/can/hw"
	"github.com/robotalks/canlink.go/pkg/interrupt"
	"github.com/robotalks/canlink.go/pkg/status"
)

// Driver is the MCU hw.Transport.
type Driver struct {
	periph Peripheral
	irq    *interrupt.Controller
	line   interrupt.Line
	wired  bool

	// guarded by irq.Critical
	handlers [hw.NumEvents]hw.Callback
	active   bool

	settings   hw.Settings
	timing     Timing
	numFilters int
}

// New creates a driver for periph, servicing its interrupt on irq.
func New(periph Peripheral, irq *interrupt.Controller) *Driver {
	return &Driver{periph: periph, irq: irq}
}

// Timing returns the bit timing computed by Init.
func (d *Driver) Timing() Timing {
	return d.timing
}

// Init implements hw.Transport.
func (d *Driver) Init(settings hw.Settings) error {
	timing, err := ComputeTiming(PCLK, settings.Bitrate)
	if err != nil {
		return err
	}
	if !d.wired {
		line, ok := d.irq.Register(d.isr)
		if !ok {
			return status.Codef(status.ResourceExhausted, "mcu: no interrupt line")
		}
		d.line, d.wired = line, true
		d.periph.AttachIRQ(func() { d.irq.Trigger(d.line) })
	}

	d.irq.Critical(func() {
		d.active = false
		d.handlers = [hw.NumEvents]hw.Callback{}
	})
	d.periph.Reset()
	mode := ModeNormal
	if settings.Loopback {
		mode = ModeSilentLoopback
	}
	if err := d.periph.Configure(timing, mode); err != nil {
		return err
	}
	d.settings, d.timing = settings, timing

	// Bank 0 accepts everything until the first filter replaces it.
	d.periph.SetFilter(0, FilterBank{})
	d.numFilters = 0

	d.irq.Critical(func() { d.active = true })
	d.periph.EnableIRQ(IRQAll)
	glog.V(2).Infof("mcu: init %d kbps (%s) loopback=%v", settings.Bitrate, timing, settings.Loopback)
	return nil
}

// RegisterCallback implements hw.Transport.
func (d *Driver) RegisterCallback(ev hw.Event, cb hw.Callback) error {
	if int(ev) >= hw.NumEvents {
		return status.Codef(status.InvalidArgs, "mcu: invalid event %d", ev)
	}
	d.irq.Critical(func() { d.handlers[ev] = cb })
	return nil
}

// AddFilter implements hw.Transport. Banks alternate between the two RX
// FIFOs.
func (d *Driver) AddFilter(mask, filter uint32, extended bool) error {
	if d.numFilters >= NumFilterBanks {
		return status.Codef(status.ResourceExhausted, "mcu: out of filter banks")
	}
	limit := uint32(hw.MaxStdID)
	if extended {
		limit = hw.MaxExtID
	}
	if mask > limit || filter > limit {
		return status.Codef(status.InvalidArgs, "mcu: filter 0x%X/0x%X out of range", filter, mask)
	}
	d.periph.SetFilter(d.numFilters, FilterBank{
		ID:       filter,
		Mask:     mask,
		Extended: extended,
		FIFO:     d.numFilters % NumRxFIFOs,
	})
	d.numFilters++
	return nil
}

// BusStatus implements hw.Transport.
func (d *Driver) BusStatus() hw.BusStatus {
	flags := d.periph.Flags()
	switch {
	case flags&FlagBusOff != 0:
		return hw.BusStatusOff
	case flags&(FlagErrorWarning|FlagErrorPassive) != 0:
		return hw.BusStatusWarning
	}
	return hw.BusStatusOK
}

// Transmit implements hw.Transport.
func (d *Driver) Transmit(id uint32, extended bool, data []byte) error {
	f, err := hw.NewFrame(id, extended, data)
	if err != nil {
		return err
	}
	if _, ok := d.periph.RequestTransmit(&f); !ok {
		return status.Codef(status.ResourceExhausted, "mcu: no empty mailbox")
	}
	return nil
}

// Receive implements hw.Transport. FIFO 0 is read first when both hold
// messages.
func (d *Driver) Receive(f *hw.Frame) bool {
	pending := d.periph.PendingIRQ()
	switch {
	case pending&IRQFIFO0Pending != 0:
		return d.periph.ReadFIFO(0, f)
	case pending&IRQFIFO1Pending != 0:
		return d.periph.ReadFIFO(1, f)
	}
	return false
}

// Close implements hw.Transport. The interrupt line stays registered and
// is reused by the next Init.
func (d *Driver) Close() error {
	d.irq.Critical(func() {
		d.active = false
		d.handlers = [hw.NumEvents]hw.Callback{}
	})
	d.periph.Reset()
	return nil
}

func (d *Driver) isr() {
	if !d.active {
		return
	}
	pending := d.periph.PendingIRQ()
	run := [hw.NumEvents]bool{
		hw.EventTxReady:  pending&IRQTxMailboxEmpty != 0,
		hw.EventMsgRx:    pending&(IRQFIFO0Pending|IRQFIFO1Pending) != 0,
		hw.EventBusError: pending&IRQBusOff != 0,
	}
	for ev, cb := range d.handlers {
		if run[ev] && cb != nil {
			cb()
		}
	}
	d.periph.ClearIRQ(IRQTxMailboxEmpty | IRQBusOff)
}
