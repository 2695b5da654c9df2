package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceScale is the number of decimal places kept on consolidated averages.
const PriceScale int32 = 4

// Brand is a vehicle manufacturer.
type Brand struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Model is a vehicle model owned by exactly one Brand.
type Model struct {
	ID          int64  `json:"id"`
	BrandID     int64  `json:"brand_id"`
	Name        string `json:"name"`
	VehicleType string `json:"vehicle_type"`
}

// RawObservation is one real-world price sighting, read from price_collections.
// BrandID is resolved through the model during the aggregation scan and is zero
// when the observation points at an unknown model.
type RawObservation struct {
	ID          int64
	ModelID     int64
	BrandID     int64
	YearModel   int
	Price       decimal.Decimal
	Region      Region
	CollectedAt time.Time
}

// MonthlyAverage is one consolidated row of monthly_averages.
type MonthlyAverage struct {
	ID           int64           `json:"id"`
	BrandID      int64           `json:"brand_id"`
	ModelID      int64           `json:"model_id"`
	YearModel    int             `json:"year_model"`
	MonthRef     MonthRef        `json:"month_ref"`
	Region       Region          `json:"region"`
	AvgPrice     decimal.Decimal `json:"avg_price"`
	SamplesCount int             `json:"samples_count"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Key returns the business identity of the row.
func (m *MonthlyAverage) Key() SummaryKey {
	return SummaryKey{
		ModelID:   m.ModelID,
		YearModel: m.YearModel,
		Region:    m.Region,
		MonthRef:  m.MonthRef,
	}
}

// SummaryKey is the natural key of monthly_averages. At most one row exists per key.
type SummaryKey struct {
	ModelID   int64
	YearModel int
	Region    Region
	MonthRef  MonthRef
}

// QueryStatus tags a QueryLogEntry.
type QueryStatus string

const (
	QueryStatusSuccess  QueryStatus = "SUCCESS"
	QueryStatusNoResult QueryStatus = "NO_RESULT"
	QueryStatusError    QueryStatus = "ERROR"
)

// QueryLogEntry is the audit record written for every price history read.
type QueryLogEntry struct {
	ID        int64       `json:"id"`
	BrandID   *int64      `json:"brand_id"`
	ModelID   *int64      `json:"model_id"`
	YearModel *int        `json:"year_model"`
	Region    Region      `json:"region"`
	Status    QueryStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

// ConsolidatedPrice is the read-side view of one (model, year, region) series:
// the latest month plus the history it was taken from.
type ConsolidatedPrice struct {
	BrandID      int64           `json:"brand_id"`
	ModelID      int64           `json:"model_id"`
	YearModel    int             `json:"year_model"`
	Region       Region          `json:"region"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	CurrentMonth MonthRef        `json:"current_month"`
	Samples      int             `json:"samples"`
	MinPrice     decimal.Decimal `json:"min_price"`
	MaxPrice     decimal.Decimal `json:"max_price"`

	// MonthOverMonth is the percentage change against the previous month, nil
	// when the series has a single point.
	MonthOverMonth *decimal.Decimal  `json:"month_over_month_pct,omitempty"`
	History        []*MonthlyAverage `json:"history"`
}

// NationalComparison pairs a regional consolidated price with the national one.
type NationalComparison struct {
	Regional    *ConsolidatedPrice `json:"regional"`
	National    *ConsolidatedPrice `json:"national,omitempty"`
	DiffPercent *decimal.Decimal   `json:"diff_pct,omitempty"`
}
