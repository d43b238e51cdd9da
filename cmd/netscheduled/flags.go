package main

import (
	"flag"
	"os"
)

func flagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("netscheduled", flag.ContinueOnError)
	return fs
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}
