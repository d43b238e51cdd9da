package main

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"time"
)

// client is a minimal line-protocol client: one request line out, one
// response (or an OK:END-terminated block) back. It deliberately doesn't
// reuse internal/protocol's Reader/Writer, which are shaped for the
// server's request-in/response-out framing rather than a client's.
type client struct {
	conn net.Conn
	r    *bufio.Reader
}

func dial(addr string, timeout time.Duration) (*client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("nsctl: dial %s: %w", addr, err)
	}
	return &client{conn: conn, r: bufio.NewReader(conn)}, nil
}

func (c *client) Close() error { return c.conn.Close() }

// send writes one request line and reads back its response. multiline
// must be true for commands the server answers with a WriteMultiline
// block (terminated by OK:END); every other command gets exactly one
// line back.
func (c *client) send(line string, multiline bool) ([]string, error) {
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		return nil, fmt.Errorf("nsctl: write: %w", err)
	}
	if !multiline {
		resp, err := c.r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("nsctl: read: %w", err)
		}
		return []string{strings.TrimRight(resp, "\r\n")}, nil
	}
	var lines []string
	for {
		resp, err := c.r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("nsctl: read: %w", err)
		}
		resp = strings.TrimRight(resp, "\r\n")
		if resp == "OK:END" {
			return lines, nil
		}
		lines = append(lines, resp)
	}
}

func buildLine(cmd string, args map[string]string) string {
	var b strings.Builder
	b.WriteString(cmd)
	for k, v := range args {
		if v == "" {
			continue
		}
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
	}
	return b.String()
}
