package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"carflow/models"
	"carflow/services"
	"carflow/storage"
)

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	query := services.NewQueryService(a.store, a.store, a.store, a.logger)
	filter := services.QueryFilter{
		BrandID:   historyBrand,
		ModelID:   historyModel,
		YearModel: historyYear,
		Region:    models.ParseRegion(historyRegion),
	}

	cmp, err := query.CompareWithNational(ctx, filter)
	if errors.Is(err, services.ErrNoData) {
		fmt.Fprintf(cmd.OutOrStdout(), "No consolidated data for model %d/%d (%s)\n", filter.ModelID, filter.YearModel, filter.Region)
		return nil
	}
	if err != nil {
		return err
	}

	title := fmt.Sprintf("Model %d · %d", filter.ModelID, filter.YearModel)
	services.NewInsightService(a.logger).Print(cmd.OutOrStdout(), title, cmp)
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	var since models.MonthRef
	if exportSince != "" {
		m, err := models.ParseMonthRef(exportSince)
		if err != nil {
			return err
		}
		since = m
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rows, err := a.store.ListMonthlyAverages(ctx, since)
	if err != nil {
		return err
	}

	var w storage.MonthlyAverageWriter
	w, err = storage.NewCSVWriter(exportOut)
	if err != nil {
		return err
	}
	if err := w.WriteMonthlyAverages(rows); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	a.logger.Info("[export] %d monthly averages written to %s", len(rows), exportOut)
	return nil
}
