package ratelimit_test

import (
	"net"
	"testing"

	"github.com/architeacher/amqp-broker/internal/config"
	"github.com/architeacher/amqp-broker/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConn(t *testing.T) net.Conn {
	t.Helper()

	client, server := net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})

	return server
}

func TestAdmitterDisabledAlwaysAllows(t *testing.T) {
	t.Parallel()

	a, err := ratelimit.NewAdmitter(config.RateLimitingConfig{Enabled: false})
	require.NoError(t, err)

	conn := newTestConn(t)
	for i := 0; i < 10; i++ {
		assert.True(t, a.Allow(conn))
	}
}

func TestAdmitterEnforcesBurstLimit(t *testing.T) {
	t.Parallel()

	a, err := ratelimit.NewAdmitter(config.RateLimitingConfig{
		Enabled:           true,
		ConnectionsPerSec: 1,
		BurstSize:         1,
		MaxKeys:           100,
	})
	require.NoError(t, err)

	conn := newTestConn(t)

	assert.True(t, a.Allow(conn), "first connection within burst should be admitted")
	assert.False(t, a.Allow(conn), "second connection exceeding burst should be rejected")
}

// addrConn is a minimal net.Conn stand-in whose RemoteAddr is fixed at
// construction, letting tests exercise the per-host keying in Allow
// without net.Pipe's shared "pipe" address for both ends.
type addrConn struct {
	net.Conn
	addr net.Addr
}

func (c addrConn) RemoteAddr() net.Addr { return c.addr }

type tcpAddrString string

func (a tcpAddrString) Network() string { return "tcp" }
func (a tcpAddrString) String() string  { return string(a) }

func TestAdmitterTracksDistinctRemotesIndependently(t *testing.T) {
	t.Parallel()

	a, err := ratelimit.NewAdmitter(config.RateLimitingConfig{
		Enabled:           true,
		ConnectionsPerSec: 1,
		BurstSize:         1,
		MaxKeys:           100,
	})
	require.NoError(t, err)

	connA := addrConn{Conn: newTestConn(t), addr: tcpAddrString("10.0.0.1:5555")}
	connB := addrConn{Conn: newTestConn(t), addr: tcpAddrString("10.0.0.2:6666")}

	assert.True(t, a.Allow(connA))
	assert.False(t, a.Allow(connA), "second connection from the same host exceeds its burst")
	assert.True(t, a.Allow(connB), "a different host has its own untouched bucket")
}
