package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"media-archive/internal/ingest"
	"media-archive/internal/startup"
)

func newImportCmd(cfg *startup.Config, jsonOutput *bool) *cobra.Command {
	var opts ingest.Options

	cmd := &cobra.Command{
		Use:   "import <path>...",
		Short: "Import files and directories into the archive",
		Args:  requireAtLeastArgs(1, "at least one path is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withArchive(cmd.Context(), cfg, func(a *archive) error {
				return runImport(cmd, a, args, opts, *jsonOutput)
			})
		},
	}

	cmd.Flags().BoolVar(&opts.DeleteSourceOnSuccess, "delete-source", false, "delete each source once it is safely archived")
	cmd.Flags().BoolVar(&opts.SkipIfDuplicate, "skip-duplicates", false, "do not record source paths of duplicates")

	return cmd
}

func runImport(cmd *cobra.Command, a *archive, paths []string, opts ingest.Options, jsonOutput bool) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	before, err := a.db.Stats(ctx)
	if err != nil {
		return err
	}

	s, err := a.coord.Submit(ctx, paths, opts)
	if err != nil {
		return err
	}

	// The session runs detached; an interrupt cancels it explicitly so
	// the summary still reflects what was committed.
	stop := context.AfterFunc(ctx, s.Cancel)
	defer stop()

	var p *progress
	if !jsonOutput {
		p = newProgress(cmd.ErrOrStderr())
	}
	for e := range s.Events(context.WithoutCancel(ctx)) {
		if p != nil {
			p.event(e, s.Snapshot().Discovered)
		}
	}
	if p != nil {
		p.clear()
	}
	if _, err := s.Wait(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	snap := s.Snapshot()
	if jsonOutput {
		if err := writeJSON(out, snap); err != nil {
			return err
		}
	} else {
		after, err := a.db.Stats(context.WithoutCancel(ctx))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "session %s %s: %s\n", snap.ID, snap.Status, formatSummary(snap.Result, after.TotalBytes-before.TotalBytes))
	}

	if snap.Failed > 0 {
		return errFilesFailed
	}
	return nil
}
