package canuart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"
	"go.bug.st/serial"

	"github.com/robotalks/canlink.go/pkg/can/hw"
	"github.com/robotalks/canlink.go/pkg/framework"
	"github.com/robotalks/canlink.go/pkg/status"
)

// OpenSerial opens a serial port in 8N1 mode.
func OpenSerial(port string, baud int) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(port, mode)
	if err != nil {
		return nil, fmt.Errorf("canuart: open %s: %w", port, err)
	}
	return p, nil
}

// Bridge forwards frames received by a transport to the serial line as CRX
// packets, and CTX packets from the serial line to the transport.
//
// The bridge takes over the transport's MsgRx callback, so it needs a
// transport of its own.
type Bridge struct {
	transport hw.Transport
	port      io.ReadWriteCloser

	writeLock sync.Mutex
	toUART    atomic.Uint64
	toCAN     atomic.Uint64
	dropped   atomic.Uint64
}

// NewBridge creates a bridge over an initialized transport. Frames received
// from then on are written to port.
func NewBridge(transport hw.Transport, port io.ReadWriteCloser) (*Bridge, error) {
	b := &Bridge{transport: transport, port: port}
	if err := transport.RegisterCallback(hw.EventMsgRx, b.onMsgRx); err != nil {
		return nil, err
	}
	return b, nil
}

// Name implements framework.Named.
func (b *Bridge) Name() string {
	return "canuart"
}

// Stats returns the number of frames forwarded each way and dropped.
func (b *Bridge) Stats() (toUART, toCAN, dropped uint64) {
	return b.toUART.Load(), b.toCAN.Load(), b.dropped.Load()
}

// Run forwards frames until ctx is done or the serial line fails. The port
// is closed on return.
func (b *Bridge) Run(ctx context.Context) error {
	return framework.RunWithContextCloser(ctx, b.port, b.readLoop)
}

func (b *Bridge) onMsgRx() {
	var f hw.Frame
	for b.transport.Receive(&f) {
		if err := b.Send(MarkerRx, &f); err != nil {
			b.dropped.Add(1)
			glog.Warningf("canuart: forward %v: %v", f, err)
			continue
		}
		b.toUART.Add(1)
	}
}

// Send writes one packet to the serial line.
func (b *Bridge) Send(marker Marker, f *hw.Frame) error {
	var pkt [PacketSize]byte
	if err := Encode(pkt[:], marker, f); err != nil {
		return err
	}
	b.writeLock.Lock()
	defer b.writeLock.Unlock()
	_, err := b.port.Write(pkt[:])
	return err
}

func (b *Bridge) readLoop() error {
	var dec Decoder
	buf := make([]byte, 128)
	for {
		n, err := b.port.Read(buf)
		for _, pkt := range dec.Feed(buf[:n]) {
			b.forward(&pkt)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (b *Bridge) forward(pkt *Packet) {
	if pkt.Marker != MarkerTx {
		glog.V(2).Infof("canuart: ignore %v %v", pkt.Marker, pkt.Frame)
		return
	}
	f := &pkt.Frame
	err := b.transport.Transmit(f.ID, f.Extended, f.Payload())
	switch {
	case err == nil:
		b.toCAN.Add(1)
	case status.CodeOf(err) == status.ResourceExhausted:
		b.dropped.Add(1)
		glog.Warningf("canuart: tx busy, drop %v", f)
	default:
		b.dropped.Add(1)
		glog.Errorf("canuart: transmit %v: %v", f, err)
	}
}
