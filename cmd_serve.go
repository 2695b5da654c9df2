package main

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"carflow/api"
	"carflow/services"
	"carflow/storage"
)

func runServe(cmd *cobra.Command, args []string) error {
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

	var catalog storage.CatalogReader = a.store
	if cache := a.openCache(ctx); cache != nil {
		defer cache.Close()
		catalog = cache
		invalidateOnCommit(agg, cache, a.logger)
	}

	query := services.NewQueryService(catalog, a.store, a.store, a.logger)
	server := api.NewServer(query, a.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx, a.cfg.HTTPAddr)
	})
	if !serveNoScheduler {
		scheduler := services.NewScheduler(agg, a.cfg.BatchInterval, a.logger)
		g.Go(func() error {
			return scheduler.Run(gctx)
		})
	}
	return g.Wait()
}
