package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/sitescraper/internal/pipeline"
)

func newCrawlCmd() *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Walk the profile's catalog and append every item",
		Long: `Starts at the profile's catalog root, follows subcategory links up to the
configured depth and appends one row per item. Items already in the output
file are skipped before any detail page is fetched.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, reset)
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "discard previous output and start over")
	return cmd
}

func runCrawl(cmd *cobra.Command, reset bool) error {
	ctx := cmd.Context()
	rt, err := runtimeFrom(ctx)
	if err != nil {
		return err
	}
	p, err := loadProfile(rt)
	if err != nil {
		return err
	}
	classifier, err := p.NewClassifier()
	if err != nil {
		return err
	}

	env, err := prepare(ctx, rt, p, runOptions{mode: modeCatalog, reset: reset})
	if err != nil {
		return err
	}
	defer env.Close()

	runner, err := pipeline.NewCatalogRunner(env.cc, classifier)
	if err != nil {
		return err
	}
	stats, runErr := env.execute(ctx, rt, modeCatalog, runner, runner.Run)
	renderStats(cmd.OutOrStdout(), modeCatalog, stats)
	if runErr != nil {
		return fmt.Errorf("crawl: %w", runErr)
	}
	return nil
}

