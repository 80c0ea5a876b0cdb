package httpx

import (
	"net"
	"strconv"
)

// buildAddress joins the host part of the requested address with the
// port the listener actually took, so rolled and random ports show up
// in the advertised address.
//
// As example, address host.com:8080 and a listener on port 8888 come
// out as host.com:8888.
func buildAddress(address string, l Listener) string {
	addr, _, err := net.SplitHostPort(address)
	if err != nil {
		addr = address
	}
	if addr == "" {
		addr = "localhost"
	}
	port := l.GetPort()
	if port > 0 && port != 80 && port != 443 {
		addr += ":" + strconv.Itoa(port)
	}
	return addr
}
