// Command nsctl is a thin line-protocol client for a netscheduled server:
// one subcommand per wire verb, each a mitchellh/cli.Command with
// posener/complete flag completion.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"
)

func main() {
	c := cliApp()
	exitCode, err := c.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}

// baseCommand holds the flags every subcommand shares: the server address
// and the queue to HELLO into before issuing the real command.
type baseCommand struct {
	addr  string
	queue string
}

func (b *baseCommand) connect() (*client, error) {
	c, err := dial(b.addr, 5*time.Second)
	if err != nil {
		return nil, err
	}
	if b.queue != "" {
		if _, err := c.send(buildLine("HELLO", map[string]string{"queue": b.queue}), false); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

func parseKV(args []string) map[string]string {
	out := map[string]string{}
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}
