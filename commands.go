package main

import (
	"github.com/spf13/cobra"
)

var (
	historyModel  int64
	historyYear   int
	historyBrand  int64
	historyRegion string

	exportOut   string
	exportSince string

	serveNoScheduler bool

	rootCmd = &cobra.Command{
		Use:           "carflow",
		Short:         "Monthly vehicle price consolidation",
		Long:          "carflow consolidates raw vehicle price observations into monthly regional averages and serves them.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	batchCmd = &cobra.Command{
		Use:   "batch",
		Short: "Run the monthly consolidation once",
		RunE:  runBatch, // cmd_batch.go
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the read API and run the consolidation on BATCH_INTERVAL",
		RunE:  runServe, // cmd_serve.go
	}

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Print the consolidated price of a model and year",
		RunE:  runHistory, // cmd_query.go
	}

	exportCmd = &cobra.Command{
		Use:   "export",
		Short: "Export consolidated monthly averages to CSV",
		RunE:  runExport, // cmd_query.go
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema (development only)",
		RunE:  runMigrate, // cmd_batch.go
	}
)

func init() {
	historyCmd.Flags().Int64Var(&historyModel, "model", 0, "model id")
	historyCmd.Flags().IntVar(&historyYear, "year", 0, "model year")
	historyCmd.Flags().Int64Var(&historyBrand, "brand", 0, "brand id (optional)")
	historyCmd.Flags().StringVar(&historyRegion, "region", "", "region label; empty or Nacional for the national average")
	_ = historyCmd.MarkFlagRequired("model")
	_ = historyCmd.MarkFlagRequired("year")

	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "output/monthly_averages.csv", "CSV output path")
	exportCmd.Flags().StringVar(&exportSince, "since", "", "first month to export (YYYY-MM)")

	serveCmd.Flags().BoolVar(&serveNoScheduler, "no-scheduler", false, "serve reads only, never run the consolidation")

	rootCmd.AddCommand(batchCmd, serveCmd, historyCmd, exportCmd, migrateCmd)
}
