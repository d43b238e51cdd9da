// Package notify sends the fire-and-forget UDP notification packets of
// spec section 6.3: a URL-encoded line telling a parked waiter or a job's
// submitter/listener that something worth re-checking happened.
package notify

import (
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/hashicorp/go-hclog"
)

// UDPNotifier implements queue.Notifier over UDP. It is deliberately
// synchronous and connectionless per datagram; internal/server wraps it in
// an async worker pool so a slow or unreachable peer never blocks a
// queue's coarse lock.
type UDPNotifier struct {
	log     hclog.Logger
	timeout time.Duration
}

// New constructs a UDPNotifier. A nil logger is replaced with a no-op one.
func New(log hclog.Logger) *UDPNotifier {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &UDPNotifier{log: log.Named("notify"), timeout: 2 * time.Second}
}

// Notify sends `ns_node=...&queue=...&reason=...` to host:port. Errors are
// logged, not returned: per section 6.3 there is no acknowledgement, and a
// lost notification only delays a waiter until its own expiration retry.
func (n *UDPNotifier) Notify(host string, port int, nsNode, queueName, reason string) {
	if host == "" || port <= 0 {
		return
	}
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := net.DialTimeout("udp", addr, n.timeout)
	if err != nil {
		n.log.Warn("dial failed", "addr", addr, "error", err)
		return
	}
	defer conn.Close()

	values := url.Values{}
	values.Set("ns_node", nsNode)
	values.Set("queue", queueName)
	values.Set("reason", reason)

	if _, err := conn.Write([]byte(values.Encode())); err != nil {
		n.log.Warn("write failed", "addr", addr, "error", err)
	}
}
