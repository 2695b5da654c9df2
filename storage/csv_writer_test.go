package storage

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"carflow/models"
)

func TestCSVWriterWritesRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "monthly.csv")

	w, err := NewCSVWriter(path)
	require.NoError(t, err)

	created := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	err = w.WriteMonthlyAverages([]*models.MonthlyAverage{
		{ID: 1, BrandID: 2, ModelID: 5, YearModel: 2024, MonthRef: "2026-01", Region: models.NewRegion("DF"),
			AvgPrice: decimal.RequireFromString("101000.0000"), SamplesCount: 2, CreatedAt: created},
		{ID: 2, BrandID: 2, ModelID: 5, YearModel: 2024, MonthRef: "2026-01", Region: models.National(),
			AvgPrice: decimal.RequireFromString("99999.995"), SamplesCount: 7, CreatedAt: created},
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	if records[0][4] != "month_ref" {
		t.Errorf("header: got %v", records[0])
	}
	if records[1][5] != "DF" || records[1][6] != "101000.00" || records[1][7] != "2" {
		t.Errorf("row 1: got %v", records[1])
	}
	if records[2][5] != "" {
		t.Errorf("national region should be empty, got %q", records[2][5])
	}
	if records[2][6] != "100000.00" {
		t.Errorf("row 2 price: got %q, want 100000.00", records[2][6])
	}
}
