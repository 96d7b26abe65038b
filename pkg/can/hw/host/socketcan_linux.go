//go:build linux

package host

import (
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/robotalks/canlink.go/pkg/can/hw"
	"github.com/robotalks/canlink.go/pkg/status"
)

// socketReadTimeout bounds a blocking read so Close is noticed.
const socketReadTimeout = 100 * time.Millisecond

type rawSocket struct {
	fd    int
	iface string
}

// SocketCAN returns an Opener for a Linux CAN_RAW socket on iface, e.g.
// "can0" or "vcan0".
func SocketCAN(iface string) Opener {
	return func() (Socket, error) {
		return openRaw(iface)
	}
}

func openRaw(iface string) (*rawSocket, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN): %w", err)
	}
	tv := unix.NsecToTimeval(socketReadTimeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("SO_RCVTIMEO: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", iface, err)
	}
	return &rawSocket{fd: fd, iface: iface}, nil
}

func (s *rawSocket) Read(f *hw.Frame) error {
	var buf [unix.CAN_MTU]byte
	n, err := unix.Read(s.fd, buf[:])
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return status.ErrTimeout
		}
		return err
	}
	if n != unix.CAN_MTU {
		return status.Codef(status.Internal, "%s: short frame %d bytes", s.iface, n)
	}
	id := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	if id&(hw.FlagRTR|hw.FlagERR) != 0 {
		// Remote and error frames are not part of the transport contract.
		return status.ErrTimeout
	}
	return f.UnmarshalBinary(buf[:])
}

func (s *rawSocket) Write(f *hw.Frame) error {
	var buf [unix.CAN_MTU]byte
	if err := f.MarshalTo(buf[:]); err != nil {
		return err
	}
	_, err := unix.Write(s.fd, buf[:])
	return err
}

type sockopt struct {
	name, value int
}

// loopbackOpts returns the CAN_RAW options for SetLoopback. Local loopback
// stays on since it is how other sockets on the host, and every socket on a
// vcan interface, see our frames; on only adds receiving our own.
func loopbackOpts(on bool) []sockopt {
	own := 0
	if on {
		own = 1
	}
	return []sockopt{
		{unix.CAN_RAW_LOOPBACK, 1},
		{unix.CAN_RAW_RECV_OWN_MSGS, own},
	}
}

func (s *rawSocket) SetLoopback(on bool) error {
	for _, opt := range loopbackOpts(on) {
		if err := unix.SetsockoptInt(s.fd, unix.SOL_CAN_RAW, opt.name, opt.value); err != nil {
			return err
		}
	}
	return nil
}

func (s *rawSocket) SetFilters(filters []hw.Filter) error {
	kf := make([]unix.CanFilter, 0, len(filters))
	for _, filter := range filters {
		kf = append(kf, kernelFilter(filter))
	}
	if len(kf) == 0 {
		kf = append(kf, unix.CanFilter{})
	}
	return unix.SetsockoptCanRawFilter(s.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, kf)
}

func (s *rawSocket) Close() error {
	return unix.Close(s.fd)
}

// kernelFilter converts a filter to struct can_filter. The EFF flag takes
// part in the match so standard and extended ids stay apart.
func kernelFilter(filter hw.Filter) unix.CanFilter {
	id, mask := filter.ID, filter.Mask|hw.FlagEFF
	if filter.Extended {
		id |= hw.FlagEFF
	}
	return unix.CanFilter{Id: id, Mask: mask}
}
