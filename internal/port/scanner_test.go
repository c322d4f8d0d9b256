package port

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestIsPortAvailable_FreePort binds a port, releases it and checks that
// it is reported free.
func TestIsPortAvailable_FreePort(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())

	assert.True(t, NewScanner().IsPortAvailable("127.0.0.1", port, "tcp"))
}

// TestIsPortAvailable_UsedPort verifies that IsPortAvailable returns false
// when a port is already bound by another listener.
func TestIsPortAvailable_UsedPort(t *testing.T) {
	// ":0" lets the OS pick a free port, which avoids flaky fixed ports.
	listener, err := net.Listen("tcp", ":0")
	require.NoError(t, err, "failed to start test listener")
	defer func() { _ = listener.Close() }()

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	require.True(t, ok)

	assert.False(t, NewScanner().IsPortAvailable("", tcpAddr.Port, "tcp"),
		"port %d should be in use (we have a listener on it)", tcpAddr.Port)
}

func TestIsPortAvailable_UDP(t *testing.T) {
	conn, err := net.ListenPacket("udp", ":0")
	require.NoError(t, err, "failed to start test UDP listener")
	defer func() { _ = conn.Close() }()

	udpAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	require.True(t, ok)

	assert.False(t, NewScanner().IsPortAvailable("", udpAddr.Port, "udp"))
}

func TestIsPortAvailable_UnknownProtocol(t *testing.T) {
	assert.False(t, NewScanner().IsPortAvailable("", 50000, "sctp"))
}
