package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var verbose bool

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "scion",
	Short: "A self-hosted multi-vault file sync server for note collections",
	Long: `Scion replicates a set of files between editors on desktop and mobile
against a central server. Each vault is stored as a content-addressed,
history-preserving repository; conflicting edits are resolved with a
three-way text merge, and connected devices exchange CRDT updates over a
real-time fan-out channel.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
	},
}

// Execute adds all child commands to the root command and runs it under
// ctx. Called by main.main().
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
}
