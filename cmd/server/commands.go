package main

import (
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/config"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/pkg/logger"
)

var commands = []subcommands.Command{
	&serveCmd{},
	&publishCmd{},
	&reportCmd{},
}

// setup loads the configuration and builds the logger every command shares.
func setup() (config.Config, *logger.Logger, error) {
	cfg, err := config.Load(*envFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.LogMode, cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, log, nil
}

func fail(err error) subcommands.ExitStatus {
	fmt.Fprintln(os.Stderr, err)
	return subcommands.ExitFailure
}
