package httpx

import (
	"net"
	"strconv"

	"github.com/voxmesh/voxmesh/pkg/network/socket"
)

const maxPortRollAttempts = 42

type Listener struct {
	net.Listener
}

// NewListener binds a TCP listener on the address. With rollPorts set
// a busy port is retried upwards, so several clients on one machine
// keep their debug servers on neighboring ports.
func NewListener(address string, rollPorts bool) (*Listener, error) {
	ls, err := net.Listen("tcp4", address)
	if err != nil {
		if rollPorts && socket.IsPortBusyError(err) {
			host, port := splitHostPort(address)
			for i := port + 1; i < port+maxPortRollAttempts; i++ {
				if ls, err = net.Listen("tcp4", host+":"+strconv.Itoa(i)); err == nil {
					return &Listener{ls}, nil
				}
			}
		}
		return nil, err
	}
	return &Listener{ls}, nil
}

// GetPort reports the port the listener is bound to, 0 when unknown.
func (l Listener) GetPort() int {
	if l.Listener == nil {
		return 0
	}
	if addr, ok := l.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

func splitHostPort(address string) (string, int) {
	host, p, err := net.SplitHostPort(address)
	if err != nil {
		return address, 0
	}
	port, _ := strconv.Atoi(p)
	return host, port
}
