package main

import (
	"os"

	"github.com/diaguru/diaguru/adapter/cli"
	"github.com/diaguru/diaguru/pkg/observability"
)

func main() {
	logger := observability.LoggerFromEnv()
	cli.SetLogger(logger)

	if err := cli.Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
