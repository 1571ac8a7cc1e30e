package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"media-archive/internal/startup"
)

func newStatsCmd(cfg *startup.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show index totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withArchive(cmd.Context(), cfg, func(a *archive) error {
				s, err := a.db.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(cmd.OutOrStdout(), s)
				}
				fmt.Fprintf(cmd.OutOrStdout(),
					"assets: %d (%d images, %d videos, %d documents)\nsize: %s\npending sidecars: %d\nsource paths: %d\nsessions: %d\n",
					s.TotalAssets, s.Images, s.Videos, s.Documents,
					humanize.IBytes(uint64(s.TotalBytes)), s.PendingSidecars, s.Observations, s.Sessions)
				return nil
			})
		},
	}
}
