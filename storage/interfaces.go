package storage

import (
	"context"

	"carflow/models"
)

// Store is the backing store shared by the aggregation engine and the query
// layer. Raw observations are read-only; monthly_averages is written only
// through BatchTx.
type Store interface {
	CatalogReader
	SummaryReader
	QueryLogWriter

	// BeginBatch opens the single transaction an aggregation run works in.
	BeginBatch(ctx context.Context) (BatchTx, error)
	Close() error
}

// BatchTx is one aggregation run's transaction. Nothing written through it
// is visible to readers before Commit; Rollback discards everything.
type BatchTx interface {
	// LockBatch blocks until no other aggregation run holds the batch lock.
	// The lock is released when the transaction ends.
	LockBatch(ctx context.Context) error

	// ScanObservations streams every raw observation, with its brand resolved
	// through the model, to fn. The rows come from one snapshot taken when
	// the scan starts, after LockBatch, so they include everything a
	// previous run committed. Iteration stops at the first error.
	ScanObservations(ctx context.Context, fn func(*models.RawObservation) error) error

	// UpsertMonthlyAverages inserts rows whose identity key is new and
	// overwrites average and count of rows whose key already exists, keeping
	// their storage identity. Rows committed by other transactions count as
	// existing. ID and CreatedAt are filled in on rows.
	UpsertMonthlyAverages(ctx context.Context, rows []*models.MonthlyAverage) (UpsertResult, error)

	Commit() error
	Rollback() error
}

// UpsertResult counts what an upsert did.
type UpsertResult struct {
	Created int
	Updated int
}

// Add accumulates o into r.
func (r *UpsertResult) Add(o UpsertResult) {
	r.Created += o.Created
	r.Updated += o.Updated
}

// CatalogReader serves the filter dimensions of the dashboard.
type CatalogReader interface {
	ListBrands(ctx context.Context) ([]*models.Brand, error)
	ListModels(ctx context.Context, brandID int64) ([]*models.Model, error)
	ListYears(ctx context.Context, modelID int64) ([]int, error)
	ListRegions(ctx context.Context) ([]string, error)
}

// SummaryReader reads consolidated rows.
type SummaryReader interface {
	// PriceHistory returns the rows of one (model, year, region) series in
	// month order. The national region matches rows stored with NULL region.
	PriceHistory(ctx context.Context, modelID int64, yearModel int, region models.Region) ([]*models.MonthlyAverage, error)

	// ListMonthlyAverages returns every row whose month is at or after since
	// (all rows when since is empty).
	ListMonthlyAverages(ctx context.Context, since models.MonthRef) ([]*models.MonthlyAverage, error)
}

// QueryLogWriter persists audit entries for reads.
type QueryLogWriter interface {
	CreateQueryLog(ctx context.Context, entry *models.QueryLogEntry) error
}

// MonthlyAverageWriter is the interface for exporting consolidated rows.
type MonthlyAverageWriter interface {
	WriteMonthlyAverages(rows []*models.MonthlyAverage) error
	Close() error
}
