package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/utpal16raj09/PerformaMeter/pkg/config"
	"github.com/utpal16raj09/PerformaMeter/pkg/logger"
)

var buildVersion = "dev"

// RootCmd is the root Cobra command that gets called from the main func.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "perfwatch",
		Short:        "perfwatch emits, tails and summarises performance telemetry.",
		SilenceUsage: true,
	}
	cmd.AddCommand(
		tailCmd(),
		reportCmd(),
		emitCmd(),
		versionCmd(),
	)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the perfwatch version.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "perfwatch "+buildVersion)
		},
	}
}

// commandLogger writes structured logs to stderr so stdout stays clean for data.
func commandLogger(cfg config.CollectorConfig) *slog.Logger {
	return logger.NewWithFormat(os.Stderr, "perfwatch", logger.ParseLevel(cfg.LogLevel), cfg.LogFormat)
}
