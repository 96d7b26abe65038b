//go:build !linux

package host

import (
	"github.com/robotalks/canlink.go/pkg/status"
)

// SocketCAN is only available on Linux.
func SocketCAN(iface string) Opener {
	return func() (Socket, error) {
		return nil, status.Codef(status.Unreachable, "socketcan %s: not supported on this platform", iface)
	}
}
