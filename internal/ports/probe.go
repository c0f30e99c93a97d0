package ports

import (
	"net"
	"strconv"
)

// HostProber binds and immediately closes a TCP listener on all interfaces.
type HostProber struct{}

// Free reports whether the port could be bound.
func (HostProber) Free(port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort("0.0.0.0", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}
