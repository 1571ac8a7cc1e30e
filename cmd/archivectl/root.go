package main

import (
	"errors"

	"github.com/spf13/cobra"

	"media-archive/internal/logging"
	"media-archive/internal/startup"
)

// errFilesFailed is returned when a command finished but some files or
// assets failed. The summary has already been printed.
var errFilesFailed = errors.New("some files failed")

func newRootCmd(cfg *startup.Config) *cobra.Command {
	var (
		jsonOutput bool
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:           "archivectl",
		Short:         "Archivectl imports media into the archive and maintains it offline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.SetLevel(logging.ParseLevel(logLevel))
		},
	}

	cmd.Version = startup.Version
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newImportCmd(cfg, &jsonOutput),
		newReconcileCmd(cfg, &jsonOutput),
		newRebuildCmd(cfg, &jsonOutput),
		newSweepCmd(cfg, &jsonOutput),
		newBackfillCmd(cfg, &jsonOutput),
		newStatsCmd(cfg, &jsonOutput),
	)

	return cmd
}
