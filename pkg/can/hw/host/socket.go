// Package host implements the CAN transport for hosted builds.
//
// A raw CAN socket is serviced by two goroutines. The RX goroutine delivers
// each received frame through the MsgRx callback, at most one per frame time.
// The TX goroutine drains a bounded TX FIFO at the configured bitrate and
// reports TxReady after each write.
package host

import (
	"github.com/robotalks/canlink.go/pkg/can/hw"
)

// Socket is a raw CAN socket.
type Socket interface {
	// Read blocks for the next frame. It returns an error matching
	// status.ErrTimeout when no frame arrived within the socket's read
	// timeout, so the caller can check for shutdown.
	Read(f *hw.Frame) error
	// Write sends a frame.
	Write(f *hw.Frame) error
	// SetLoopback controls whether frames sent on this socket are received
	// back by it. Other sockets on the interface receive them either way.
	SetLoopback(on bool) error
	// SetFilters replaces the receive filters. An empty list accepts all.
	SetFilters(filters []hw.Filter) error
	// Close releases the socket.
	Close() error
}

// Opener creates a socket bound to an interface.
type Opener func() (Socket, error)
