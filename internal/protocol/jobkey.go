// Package protocol implements the wire codec for the NetSchedule line
// protocol: request parsing, response framing, and the job-key format of
// section 6.2. It depends on internal/queue's exported types only through
// the handlers in internal/server; this package itself never imports
// internal/queue, keeping the codec reusable by a client as well.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// JobKey is the `<prefix>_<id>_<port>_<host>` identifier handed out by a
// queue on SUBMIT/GET and parsed back on every per-job command (section
// 6.2). prefix identifies the server instance that owns the job.
type JobKey struct {
	Prefix string
	ID     uint32
	Port   int
	Host   string
}

// String renders the canonical wire form.
func (k JobKey) String() string {
	return fmt.Sprintf("%s_%d_%d_%s", k.Prefix, k.ID, k.Port, k.Host)
}

// ParseJobKey splits a wire-form job key back into its fields.
func ParseJobKey(s string) (JobKey, error) {
	parts := strings.SplitN(s, "_", 4)
	if len(parts) != 4 {
		return JobKey{}, fmt.Errorf("protocol: malformed job key %q", s)
	}
	id, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return JobKey{}, fmt.Errorf("protocol: malformed job id in key %q: %w", s, err)
	}
	port, err := strconv.Atoi(parts[2])
	if err != nil {
		return JobKey{}, fmt.Errorf("protocol: malformed port in key %q: %w", s, err)
	}
	return JobKey{Prefix: parts[0], ID: uint32(id), Port: port, Host: parts[3]}, nil
}

// BelongsTo reports whether the key names this server instance. A key
// whose prefix/port/host names a different server is a routing error
// (section 6.2: "a key whose host/port/prefix names a different server is
// rejected with a routing error").
func (k JobKey) BelongsTo(prefix string, port int, host string) bool {
	return k.Prefix == prefix && k.Port == port && k.Host == host
}
