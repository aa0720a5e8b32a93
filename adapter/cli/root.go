// Package cli implements the diaguru command line interface.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"
)

var logger = slog.Default()

// SetLogger installs the process logger used by all commands.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

var rootCmd = &cobra.Command{
	Use:   "diaguru",
	Short: "diaGuru scheduling engine",
	Long: `diaGuru reconciles captured tasks against your external calendar:
it normalizes routines, searches for free slots, splits work into chunks,
and arbitrates conflicts through overlap and preemption policies.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
