package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/sitescraper/internal/batch"
	"github.com/JakeFAU/sitescraper/internal/pipeline"
)

type lookupOptions struct {
	batchFile   string
	reset       bool
	skipMissing bool
}

func newLookupCmd() *cobra.Command {
	opts := &lookupOptions{}
	cmd := &cobra.Command{
		Use:   "lookup [key...]",
		Short: "Fetch one page per key and append what it finds",
		Long: `Looks up each key through the profile's URL template. Keys come from the
arguments or from --batch, a CSV/TSV/plain list whose key column is named in
the profile. Keys already in the output file are skipped, so an interrupted
run resumes where it stopped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLookup(cmd, args, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.batchFile, "batch", "b", "", "file with the keys to look up")
	cmd.Flags().BoolVar(&opts.reset, "reset", false, "discard previous output and start over")
	cmd.Flags().BoolVar(&opts.skipMissing, "skip-missing", false, "also skip keys recorded as having no information")
	return cmd
}

func runLookup(cmd *cobra.Command, args []string, opts *lookupOptions) error {
	ctx := cmd.Context()
	rt, err := runtimeFrom(ctx)
	if err != nil {
		return err
	}
	p, err := loadProfile(rt)
	if err != nil {
		return err
	}

	var fromFile []string
	if opts.batchFile != "" {
		if fromFile, err = batch.ReadFile(opts.batchFile, p.Lookup.KeyColumn); err != nil {
			return err
		}
	}
	keys := batch.Merge(args, fromFile)
	if len(keys) == 0 {
		return errors.New("no keys given: pass them as arguments or with --batch")
	}

	env, err := prepare(ctx, rt, p, runOptions{mode: modeLookup, reset: opts.reset, skipMissing: opts.skipMissing})
	if err != nil {
		return err
	}
	defer env.Close()

	runner, err := pipeline.NewLookupRunner(env.cc)
	if err != nil {
		return err
	}
	stats, runErr := env.execute(ctx, rt, modeLookup, runner, func(ctx context.Context) (pipeline.Stats, error) {
		return runner.Run(ctx, keys)
	})
	renderStats(cmd.OutOrStdout(), modeLookup, stats)
	if runErr != nil {
		return fmt.Errorf("lookup: %w", runErr)
	}
	return nil
}
