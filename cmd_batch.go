package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func runBatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	agg, err := a.aggregator()
	if err != nil {
		return err
	}
	if cache := a.openCache(ctx); cache != nil {
		defer cache.Close()
		invalidateOnCommit(agg, cache, a.logger)
	}

	report, err := agg.RunWithRetry(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Consolidated %d observations into %d monthly groups: %d created, %d updated (run %s, %v)\n",
		report.Observations, report.Groups, report.Created, report.Updated, report.RunID, report.Duration)
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.store.Migrate(ctx)
}
