package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/app"
)

type serveCmd struct{}

func (*serveCmd) Name() string { return "serve" }
func (*serveCmd) Synopsis() string {
	return "consume ledger entry events and maintain the daily aggregates"
}
func (*serveCmd) Usage() string {
	return `serve

  Subscribes to the ledger-entry-created topic on the configured bus and
  consolidates every entry into its daily aggregate until SIGINT or SIGTERM.
`
}

func (*serveCmd) SetFlags(*flag.FlagSet) {}

func (*serveCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, log, err := setup()
	if err != nil {
		return fail(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "error", err)
		return subcommands.ExitFailure
	}

	runErr := a.Run(ctx)
	if err := a.Close(); err != nil {
		log.Warn("close failed", "error", err)
	}
	if runErr != nil {
		log.Error("consumer stopped with error", "error", runErr)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
