package port

import (
	"net"
	"strconv"
)

// Scanner checks whether specific ports are available on the host machine.
//
// It uses the operating system's network stack (net.Listen /
// net.ListenPacket) to determine if a port is free, rather than parsing
// /proc/net/* or relying on external commands like `lsof` or `ss` which may
// require elevated permissions.
type Scanner struct{}

// NewScanner creates a new Scanner instance.
func NewScanner() *Scanner {
	return &Scanner{}
}

// IsPortAvailable checks whether port can be bound on hostIP. An empty
// hostIP means every interface, which is where runtimes publish ports by
// default.
//
// Returns true if the port is free, false if it is already in use, invalid
// or the protocol is unknown.
func (s *Scanner) IsPortAvailable(hostIP string, port int, protocol string) bool {
	addr := net.JoinHostPort(hostIP, strconv.Itoa(port))

	switch protocol {
	case "tcp":
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return false
		}
		defer func() { _ = listener.Close() }()
		return true

	case "udp":
		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			return false
		}
		defer func() { _ = conn.Close() }()
		return true

	default:
		// Unknown protocol (sctp, ...): treat as unavailable.
		return false
	}
}
