// Package main runs esctl, a maintenance tool for counter aggregates.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	esctlcmd "github.com/gtriggiano/es-cqrs-utils/internal/cmd/esctl"
	"github.com/gtriggiano/es-cqrs-utils/internal/platform/config"
)

func main() {
	cfg, err := esctlcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.ExitCodef(config.ExitUsage, "esctl: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := esctlcmd.Run(ctx, cfg, os.Stdout); err != nil {
		stop()
		config.ExitCodef(esctlcmd.ExitCode(err), "esctl: %s", esctlcmd.Describe(err))
	}
}
