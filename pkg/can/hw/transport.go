// Package hw defines the CAN hardware transport contract shared by the MCU
// and host backends.
//
// A transport moves raw frames between the bus and the session layer with no
// queueing of its own beyond what the hardware (or its simulation) provides.
// Both backends produce the same callback sequence for the same traffic, so
// code above this package does not know which one it runs on.
package hw

// Event is a hardware event kind a callback can be registered for.
type Event uint8

// Hardware events.
const (
	EventTxReady Event = iota
	EventMsgRx
	EventBusError

	NumEvents = int(EventBusError) + 1
)

// String implements fmt.Stringer.
func (e Event) String() string {
	switch e {
	case EventTxReady:
		return "tx-ready"
	case EventMsgRx:
		return "msg-rx"
	case EventBusError:
		return "bus-error"
	}
	return "unknown"
}

// BusStatus is the controller's error state.
type BusStatus uint8

// Bus states.
const (
	BusStatusOK BusStatus = iota
	BusStatusWarning
	BusStatusOff
)

// String implements fmt.Stringer.
func (s BusStatus) String() string {
	switch s {
	case BusStatusOK:
		return "ok"
	case BusStatusWarning:
		return "warning"
	case BusStatusOff:
		return "off"
	}
	return "unknown"
}

// Callback handles a hardware event. On the MCU backend it runs in interrupt
// context; on the host backend on the RX or TX goroutine. It must be short.
type Callback func()

// Settings configures a transport.
type Settings struct {
	// Bitrate in kbps, e.g. 125, 250, 500, 1000.
	Bitrate uint16
	// Loopback delivers transmitted frames back to this node.
	Loopback bool
	// TxPin and RxPin select the pins on the MCU backend. Ignored on host.
	TxPin, RxPin uint8
}

// Filter is an acceptance filter: a frame passes when
// frame.ID&Mask == ID&Mask and the identifier kinds agree.
type Filter struct {
	Mask     uint32
	ID       uint32
	Extended bool
}

// Transport is the CAN hardware contract.
type Transport interface {
	// Init configures the hardware. It must be called before anything else.
	Init(Settings) error
	// RegisterCallback installs the handler for an event, replacing any
	// previous one. A nil callback unregisters.
	RegisterCallback(Event, Callback) error
	// AddFilter installs an acceptance filter. With no filters all frames are
	// accepted. Fails with ResourceExhausted when the filter banks are used up.
	AddFilter(mask, filter uint32, extended bool) error
	// BusStatus reports the current error state.
	BusStatus() BusStatus
	// Transmit queues a frame. It never blocks and fails with
	// ResourceExhausted when there is no room.
	Transmit(id uint32, extended bool, data []byte) error
	// Receive drains one received frame into f, returning false when none
	// remain. It is only meaningful in response to EventMsgRx.
	Receive(f *Frame) bool
	// Close releases the hardware.
	Close() error
}
