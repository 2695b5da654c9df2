package services

import (
	"errors"
	"testing"
	"time"

	"carflow/models"
)

func TestAccumulatorGroupsByMonthModelYearRegion(t *testing.T) {
	acc := NewMonthlyAccumulator(time.UTC)
	sp := models.NewRegion("SP")

	input := []models.RawObservation{
		{ID: 1, ModelID: 1, BrandID: 9, YearModel: 2024, Region: sp, Price: price("100"), CollectedAt: day(2026, 1, 1)},
		{ID: 2, ModelID: 1, BrandID: 9, YearModel: 2024, Region: sp, Price: price("200"), CollectedAt: day(2026, 1, 31)},
		{ID: 3, ModelID: 1, BrandID: 9, YearModel: 2024, Region: sp, Price: price("400"), CollectedAt: day(2026, 2, 1)},
		{ID: 4, ModelID: 1, BrandID: 9, YearModel: 2023, Region: sp, Price: price("50"), CollectedAt: day(2026, 1, 5)},
		{ID: 5, ModelID: 2, BrandID: 9, YearModel: 2024, Region: sp, Price: price("70"), CollectedAt: day(2026, 1, 5)},
	}
	for i := range input {
		if err := acc.Add(&input[i]); err != nil {
			t.Fatalf("Add(%d): %v", input[i].ID, err)
		}
	}

	if acc.Observations() != 5 {
		t.Errorf("Observations: got %d, want 5", acc.Observations())
	}
	if acc.Groups() != 4 {
		t.Fatalf("Groups: got %d, want 4", acc.Groups())
	}

	tests := []struct {
		model int64
		year  int
		month models.MonthRef
		avg   string
		count int
	}{
		{1, 2023, "2026-01", "50", 1},
		{1, 2024, "2026-01", "150", 2},
		{1, 2024, "2026-02", "400", 1},
		{2, 2024, "2026-01", "70", 1},
	}

	results := acc.Results()
	for i, tt := range tests {
		got := results[i]
		if got.ModelID != tt.model || got.YearModel != tt.year || got.MonthRef != tt.month {
			t.Errorf("result %d key: got (%d, %d, %s), want (%d, %d, %s)",
				i, got.ModelID, got.YearModel, got.MonthRef, tt.model, tt.year, tt.month)
		}
		if !got.AvgPrice.Equal(price(tt.avg)) {
			t.Errorf("result %d avg: got %s, want %s", i, got.AvgPrice, tt.avg)
		}
		if got.SamplesCount != tt.count {
			t.Errorf("result %d count: got %d, want %d", i, got.SamplesCount, tt.count)
		}
		if got.BrandID != 9 {
			t.Errorf("result %d brand: got %d, want 9", i, got.BrandID)
		}
	}
}

func TestAccumulatorKeepsRegionsApart(t *testing.T) {
	acc := NewMonthlyAccumulator(time.UTC)
	regions := []models.Region{models.NewRegion("SP"), models.National(), models.NewRegion("Nacional"), models.NewRegion("sp")}

	for i, r := range regions {
		o := models.RawObservation{ID: int64(i + 1), ModelID: 1, BrandID: 1, YearModel: 2024, Region: r,
			Price: price("100"), CollectedAt: day(2026, 3, 3)}
		if err := acc.Add(&o); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	if acc.Groups() != len(regions) {
		t.Errorf("Groups: got %d, want %d (regions are exact-match)", acc.Groups(), len(regions))
	}
	if first := acc.Results()[0]; !first.Region.IsNational() {
		t.Errorf("national group should sort first, got %v", first.Region)
	}
}

func TestAccumulatorMonthUsesConfiguredLocation(t *testing.T) {
	brt := time.FixedZone("BRT", -3*60*60)
	at := time.Date(2026, 2, 1, 2, 0, 0, 0, time.UTC)

	for _, tt := range []struct {
		loc  *time.Location
		want models.MonthRef
	}{
		{time.UTC, "2026-02"},
		{brt, "2026-01"},
	} {
		acc := NewMonthlyAccumulator(tt.loc)
		o := models.RawObservation{ModelID: 1, BrandID: 1, YearModel: 2024, Price: price("1"), CollectedAt: at}
		if err := acc.Add(&o); err != nil {
			t.Fatalf("Add: %v", err)
		}
		if got := acc.Results()[0].MonthRef; got != tt.want {
			t.Errorf("loc %s: got %s, want %s", tt.loc, got, tt.want)
		}
	}
}

func TestAccumulatorRoundsAverage(t *testing.T) {
	acc := NewMonthlyAccumulator(time.UTC)
	for _, p := range []string{"100.00", "100.00", "100.01"} {
		o := models.RawObservation{ModelID: 1, BrandID: 1, YearModel: 2024, Price: price(p), CollectedAt: day(2026, 1, 1)}
		if err := acc.Add(&o); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if got := acc.Results()[0].AvgPrice; !got.Equal(price("100.0033")) {
		t.Errorf("avg: got %s, want 100.0033", got)
	}
}

func TestAccumulatorRejectsMalformedObservations(t *testing.T) {
	tests := []struct {
		name string
		obs  models.RawObservation
	}{
		{"zero price", models.RawObservation{ID: 1, ModelID: 1, BrandID: 1, Price: price("0")}},
		{"negative price", models.RawObservation{ID: 2, ModelID: 1, BrandID: 1, Price: price("-10")}},
		{"unknown model", models.RawObservation{ID: 3, ModelID: 77, BrandID: 0, Price: price("10")}},
	}

	for _, tt := range tests {
		acc := NewMonthlyAccumulator(time.UTC)
		err := acc.Add(&tt.obs)
		if !errors.Is(err, ErrDataIntegrity) {
			t.Errorf("%s: got %v, want ErrDataIntegrity", tt.name, err)
		}
		if acc.Groups() != 0 {
			t.Errorf("%s: rejected observation must not create a group", tt.name)
		}
	}
}
