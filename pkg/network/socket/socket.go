// Package socket opens the UDP listeners used for pinning all ICE
// traffic onto one known port.
package socket

import (
	"errors"
	"net"
	"os"
	"runtime"
	"syscall"
)

const listenAttempts = 42
const udpBufferSize = 16 * 1024 * 1024

// ListenUDP creates a UDP listener on a given port.
// The proto param supports one of these values: udp, udp4, udp6.
func ListenUDP(proto string, port int) (*net.UDPConn, error) {
	l, err := net.ListenUDP(proto, &net.UDPAddr{Port: port})
	if err != nil {
		return nil, err
	}
	_ = l.SetReadBuffer(udpBufferSize)
	_ = l.SetWriteBuffer(udpBufferSize)
	return l, nil
}

// ListenUDPRoll creates a UDP listener on the next free port.
// See: ListenUDP.
func ListenUDPRoll(proto string, port int) (*net.UDPConn, error) {
	l, err := ListenUDP(proto, port)
	if err == nil {
		return l, nil
	}
	if !IsPortBusyError(err) {
		return nil, err
	}
	for i := port + 1; i < port+listenAttempts; i++ {
		if l, err = ListenUDP(proto, i); err == nil {
			return l, nil
		}
	}
	return nil, errors.New("no available ports")
}

// IsPortBusyError tests if the given error is one of
// the port busy errors.
func IsPortBusyError(err error) bool {
	if err == nil {
		return false
	}
	var eOsSyscall *os.SyscallError
	if !errors.As(err, &eOsSyscall) {
		return false
	}
	var errErrno syscall.Errno
	if !errors.As(eOsSyscall, &errErrno) {
		return false
	}
	if errErrno == syscall.EADDRINUSE {
		return true
	}
	const WSAEADDRINUSE = 10048
	if runtime.GOOS == "windows" && errErrno == WSAEADDRINUSE {
		return true
	}
	return false
}
