package main

import (
	"errors"

	"github.com/spf13/cobra"

	"media-archive/internal/hasher"
)

func requireAtLeastArgs(min int, message string) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) < min {
			return errors.New(message)
		}
		return nil
	}
}

// parseDigests validates digest arguments.
func parseDigests(args []string) ([]hasher.Digest, error) {
	out := make([]hasher.Digest, 0, len(args))
	for _, arg := range args {
		d, err := hasher.Parse(arg)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
