package notify

import (
	"net"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
)

func TestNotifySendsExpectedPacket(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	defer conn.Close()

	host, portStr, err := net.SplitHostPort(conn.LocalAddr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	n := New(hclog.NewNullLogger())
	n.Notify(host, port, "node1", "queue1", "job_ready")

	buf := make([]byte, 512)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	nBytes, _, err := conn.ReadFromUDP(buf)
	require.NoError(t, err)

	values, err := url.ParseQuery(string(buf[:nBytes]))
	require.NoError(t, err)
	require.Equal(t, "node1", values.Get("ns_node"))
	require.Equal(t, "queue1", values.Get("queue"))
	require.Equal(t, "job_ready", values.Get("reason"))
}

func TestNotifyIgnoresEmptyTarget(t *testing.T) {
	n := New(hclog.NewNullLogger())
	// Must not panic or block; an empty host is simply a no-op.
	n.Notify("", 0, "node1", "queue1", "job_ready")
}
