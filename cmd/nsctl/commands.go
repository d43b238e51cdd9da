package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/cli"
	"github.com/posener/complete"
)

func cliApp() *cli.CLI {
	app := cli.NewCLI("nsctl", "0.1.0")
	app.Args = os.Args[1:]
	app.Commands = map[string]cli.CommandFactory{
		"submit": func() (cli.Command, error) { return &wireCommand{verb: "SUBMIT"}, nil },
		"get":    func() (cli.Command, error) { return &wireCommand{verb: "GET2"}, nil },
		"read":   func() (cli.Command, error) { return &wireCommand{verb: "READ2"}, nil },
		"put":    func() (cli.Command, error) { return &wireCommand{verb: "PUT2"}, nil },
		"return": func() (cli.Command, error) { return &wireCommand{verb: "RETURN2"}, nil },
		"cancel": func() (cli.Command, error) { return &wireCommand{verb: "CANCEL"}, nil },
		"status": func() (cli.Command, error) { return &wireCommand{verb: "STATUS2"}, nil },
		"qcreate": func() (cli.Command, error) { return &wireCommand{verb: "QCRE"}, nil },
		"qdelete": func() (cli.Command, error) { return &wireCommand{verb: "QDEL"}, nil },
		"stat":    func() (cli.Command, error) { return &wireCommand{verb: "STAT", multiline: true}, nil },
	}
	app.Autocomplete = true
	return app
}

// wireCommand sends one wire verb with the remaining CLI arguments
// forwarded verbatim as key=value request fields; this covers every
// request-line command without hand-duplicating each one's argument set.
type wireCommand struct {
	verb      string
	multiline bool
}

func (w *wireCommand) Help() string {
	return fmt.Sprintf("Usage: nsctl <command> -addr=<host:port> [-queue=<name>] key=value [key=value ...]\n\n  Sends one %s request line.",
		w.verb)
}

func (w *wireCommand) Synopsis() string {
	return fmt.Sprintf("Send a %s request", w.verb)
}

func (w *wireCommand) AutocompleteFlags() complete.Flags {
	return complete.Flags{
		"-addr":  complete.PredictAnything,
		"-queue": complete.PredictAnything,
	}
}

func (w *wireCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictAnything
}

func (w *wireCommand) Run(args []string) int {
	base := &baseCommand{}
	flags := flag.NewFlagSet(strings.ToLower(w.verb), flag.ContinueOnError)
	flags.StringVar(&base.addr, "addr", "127.0.0.1:9001", "netscheduled server address")
	flags.StringVar(&base.queue, "queue", "", "queue to select via HELLO before the request")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	c, err := base.connect()
	if err != nil {
		fmt.Println(err)
		return 1
	}
	defer c.Close()

	line := buildLine(w.verb, parseKV(flags.Args()))
	lines, err := c.send(line, w.multiline)
	if err != nil {
		fmt.Println(err)
		return 1
	}
	for _, l := range lines {
		fmt.Println(l)
	}
	if len(lines) > 0 && strings.HasPrefix(lines[0], "ERR:") {
		return 1
	}
	return 0
}
