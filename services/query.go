package services

import (
	"context"
	"errors"
	"fmt"

	"carflow/models"
	"carflow/storage"
	"carflow/utils"
)

// QueryFilter selects one consolidated series. BrandID is only carried into
// the audit log; the series itself is keyed by model, year and region.
type QueryFilter struct {
	BrandID   int64
	ModelID   int64
	YearModel int
	Region    models.Region
}

// QueryService is the read-only accessor the dashboard and the HTTP API use.
type QueryService struct {
	catalog   storage.CatalogReader
	summaries storage.SummaryReader
	logs      storage.QueryLogWriter
	insights  *InsightService
	logger    *utils.Logger
}

// NewQueryService wires a QueryService. catalog may be a cache in front of
// the store.
func NewQueryService(catalog storage.CatalogReader, summaries storage.SummaryReader, logs storage.QueryLogWriter, logger *utils.Logger) *QueryService {
	return &QueryService{
		catalog:   catalog,
		summaries: summaries,
		logs:      logs,
		insights:  NewInsightService(logger),
		logger:    logger,
	}
}

// ListBrands returns every brand ordered by name.
func (q *QueryService) ListBrands(ctx context.Context) ([]*models.Brand, error) {
	return q.catalog.ListBrands(ctx)
}

// ListModels returns the models of brandID ordered by name.
func (q *QueryService) ListModels(ctx context.Context, brandID int64) ([]*models.Model, error) {
	return q.catalog.ListModels(ctx, brandID)
}

// ListYears returns the model-years with consolidated data for modelID,
// newest first.
func (q *QueryService) ListYears(ctx context.Context, modelID int64) ([]int, error) {
	return q.catalog.ListYears(ctx, modelID)
}

// ListRegions returns every region label with consolidated data, excluding
// the national aggregate.
func (q *QueryService) ListRegions(ctx context.Context) ([]string, error) {
	return q.catalog.ListRegions(ctx)
}

// PriceHistory returns the month-ordered series for f and writes exactly one
// audit entry: SUCCESS with rows, NO_RESULT without (returned as ErrNoData),
// ERROR when the store fails (the store error is returned).
func (q *QueryService) PriceHistory(ctx context.Context, f QueryFilter) ([]*models.MonthlyAverage, error) {
	history, err := q.summaries.PriceHistory(ctx, f.ModelID, f.YearModel, f.Region)

	status := models.QueryStatusSuccess
	switch {
	case err != nil:
		status = models.QueryStatusError
	case len(history) == 0:
		status = models.QueryStatusNoResult
	}
	queryTotal.WithLabelValues(string(status)).Inc()

	if logErr := q.audit(ctx, f, status); logErr != nil {
		if err != nil {
			return nil, fmt.Errorf("price history: %w (audit log also failed: %v)", err, logErr)
		}
		return nil, logErr
	}

	if err != nil {
		q.logger.Error("[query] Price history for model %d/%d (%s) failed: %v", f.ModelID, f.YearModel, f.Region, err)
		return nil, fmt.Errorf("price history: %w", err)
	}
	if status == models.QueryStatusNoResult {
		return nil, ErrNoData
	}
	return history, nil
}

// ConsolidatedPrice returns the latest month of the series for f together
// with its history and summary statistics.
func (q *QueryService) ConsolidatedPrice(ctx context.Context, f QueryFilter) (*models.ConsolidatedPrice, error) {
	history, err := q.PriceHistory(ctx, f)
	if err != nil {
		return nil, err
	}
	return q.insights.Generate(f.BrandID, history), nil
}

// CompareWithNational returns the consolidated price for f and, when f names
// a region, the national consolidated price for the same model and year
// with the percentage difference between the two latest prices. A missing
// national series is not an error.
//
// Every series fetch is audited, so a call for a named region writes two
// query log entries: the regional one, then the national one.
func (q *QueryService) CompareWithNational(ctx context.Context, f QueryFilter) (*models.NationalComparison, error) {
	regional, err := q.ConsolidatedPrice(ctx, f)
	if err != nil {
		return nil, err
	}
	cmp := &models.NationalComparison{Regional: regional}
	if f.Region.IsNational() {
		return cmp, nil
	}

	nf := f
	nf.Region = models.National()
	national, err := q.ConsolidatedPrice(ctx, nf)
	switch {
	case errors.Is(err, ErrNoData):
		return cmp, nil
	case err != nil:
		return nil, err
	}

	cmp.National = national
	cmp.DiffPercent = percentChange(national.CurrentPrice, regional.CurrentPrice)
	return cmp, nil
}

func (q *QueryService) audit(ctx context.Context, f QueryFilter, status models.QueryStatus) error {
	entry := &models.QueryLogEntry{
		ModelID:   &f.ModelID,
		YearModel: &f.YearModel,
		Region:    f.Region,
		Status:    status,
	}
	if f.BrandID != 0 {
		entry.BrandID = &f.BrandID
	}
	if err := q.logs.CreateQueryLog(ctx, entry); err != nil {
		return fmt.Errorf("query log: %w", err)
	}
	return nil
}
