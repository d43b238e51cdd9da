// Command netscheduled runs the NetSchedule server: it loads a
// configuration file, builds the queue Directory from its queue-class and
// static-queue declarations, and serves the line protocol until
// interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/netschedule/netschedule/internal/config"
	"github.com/netschedule/netschedule/internal/durability"
	"github.com/netschedule/netschedule/internal/notify"
	"github.com/netschedule/netschedule/internal/queue"
	"github.com/netschedule/netschedule/internal/server"
)

func main() {
	c := cli.NewCLI("netscheduled", version())
	c.Args = os.Args[1:]
	c.Commands = map[string]cli.CommandFactory{
		"run": func() (cli.Command, error) { return &runCommand{}, nil },
	}

	exitCode, err := c.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}

func version() string { return "0.1.0" }

type runCommand struct{}

func (c *runCommand) Help() string {
	return "Usage: netscheduled run -config=<path>\n\n  Starts the NetSchedule server."
}

func (c *runCommand) Synopsis() string { return "Start the NetSchedule server" }

func (c *runCommand) Run(args []string) int {
	var configPath string
	flags := flagSet()
	flags.StringVar(&configPath, "config", "", "path to the server HCL configuration file")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if configPath == "" {
		fmt.Fprintln(os.Stderr, "netscheduled: -config is required")
		return 1
	}

	log := hclog.New(&hclog.LoggerOptions{
		Name:  "netscheduled",
		Level: hclog.LevelFromString(envOr("NETSCHEDULE_LOG_LEVEL", "info")),
	})

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		return 1
	}

	store, err := durability.Open(cfg.DurabilityPath)
	if err != nil {
		log.Error("failed to open durability store", "error", err)
		return 1
	}
	defer store.Close()

	asyncNotifier := server.NewAsyncNotifier(notify.New(log), cfg.WorkerPoolSize, 4096, log)

	dir := queue.NewDirectory(queue.DirectoryOptions{
		Durability: store,
		Notifier:   asyncNotifier,
		Logger:     log,
	})
	for _, class := range cfg.Classes {
		policy, err := class.ToPolicy()
		if err != nil {
			log.Error("invalid queue class", "class", class.Name, "error", err)
			return 1
		}
		dir.RegisterClass(class.Name, policy)
	}
	for _, qc := range cfg.Queues {
		if _, err := dir.CreateStatic(qc.Name, qc.Class, qc.Description); err != nil {
			log.Error("failed to create static queue", "name", qc.Name, "error", err)
			return 1
		}
	}

	srv, err := server.New(cfg, dir, asyncNotifier, log)
	if err != nil {
		log.Error("failed to initialize server", "error", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := srv.Run(ctx); err != nil {
		log.Error("server exited with error", "error", err)
		return 1
	}
	return 0
}
