package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"media-archive/internal/hasher"
	"media-archive/internal/startup"
)

func newReconcileCmd(cfg *startup.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile [digest]...",
		Short: "Reconcile sidecars with the index, for the given assets or all of them",
		RunE: func(cmd *cobra.Command, args []string) error {
			digests, err := parseDigests(args)
			if err != nil {
				return err
			}
			return withArchive(cmd.Context(), cfg, func(a *archive) error {
				rep, err := a.sidecars.ReconcileAll(cmd.Context(), digests)
				if err != nil {
					return err
				}
				if *jsonOutput {
					if err := writeJSON(cmd.OutOrStdout(), rep); err != nil {
						return err
					}
				} else {
					out := cmd.OutOrStdout()
					fmt.Fprintf(out, "%d assets: %d unchanged, %d pulled, %d pushed, %d restored, %d conflicts, %d failed\n",
						rep.Total, rep.Unchanged, rep.Pulled, rep.Pushed, rep.Restored, rep.Conflicts, rep.Failed)
					for _, f := range rep.Failures {
						fmt.Fprintf(out, "  %s: %s\n", f.Digest, f.Reason)
					}
				}
				if rep.Failed > 0 {
					return errFilesFailed
				}
				return nil
			})
		},
	}
}

func newRebuildCmd(cfg *startup.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Recreate the index from the originals and sidecars on disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withArchive(cmd.Context(), cfg, func(a *archive) error {
				rep, err := a.sidecars.RebuildIndexFromSidecars(cmd.Context())
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(cmd.OutOrStdout(), rep)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%d assets indexed in %s: %d with sidecar, %d missing, %d corrupt, %d skipped\n",
					rep.Assets, rep.Duration.Round(time.Millisecond), rep.WithSidecar, rep.MissingSidecar, rep.CorruptSidecar, rep.Skipped)
				for _, f := range rep.SkippedFailures {
					fmt.Fprintf(out, "  %s: %s\n", f.Digest, f.Reason)
				}
				return nil
			})
		},
	}
}

func newSweepCmd(cfg *startup.Config, jsonOutput *bool) *cobra.Command {
	var gc bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Adopt or remove store files the index does not know about",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withArchive(cmd.Context(), cfg, func(a *archive) error {
				rep, err := a.coord.SweepOrphans(cmd.Context(), gc)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(cmd.OutOrStdout(), rep)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%d originals: %d orphans (%d adopted, %d removed), %d temp files removed, %d failed\n",
					rep.Originals, rep.Orphans, rep.Adopted, rep.Removed, rep.TempRemoved, rep.Failed)
				writeDigestList(out, "missing originals", rep.MissingOriginals)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&gc, "gc", false, "remove orphans instead of adopting them")

	return cmd
}

func newBackfillCmd(cfg *startup.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "backfill",
		Short: "Regenerate missing derivative tiers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withArchive(cmd.Context(), cfg, func(a *archive) error {
				rep, err := a.coord.Backfill(cmd.Context())
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(cmd.OutOrStdout(), rep)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d scanned, %d candidates, %d regenerated, %d unchanged, %d failed\n",
					rep.Scanned, rep.Candidates, rep.Regenerated, rep.Unchanged, rep.Failed)
				return nil
			})
		},
	}
}

func writeDigestList(w io.Writer, title string, digests []hasher.Digest) {
	if len(digests) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", title)
	for _, d := range digests {
		fmt.Fprintf(w, "  %s\n", d)
	}
}
