package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carflow/models"
)

func avgRow(brandID, modelID int64, region models.Region, month models.MonthRef, avg string, n int) *models.MonthlyAverage {
	return &models.MonthlyAverage{
		BrandID: brandID, ModelID: modelID, YearModel: 2024, Region: region, MonthRef: month,
		AvgPrice: decimal.RequireFromString(avg), SamplesCount: n,
	}
}

func TestMemoryScanResolvesBrand(t *testing.T) {
	s := NewMemoryStore()
	b := s.AddBrand("Fiat")
	m := s.AddModel(b.ID, "Argo", "Carro")
	s.AddObservation(models.RawObservation{ModelID: m.ID, YearModel: 2024, Price: decimal.NewFromInt(70000), CollectedAt: time.Now(), BrandID: 99})
	s.AddObservation(models.RawObservation{ModelID: 12345, YearModel: 2024, Price: decimal.NewFromInt(1), CollectedAt: time.Now()})

	tx, err := s.BeginBatch(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()

	var got []models.RawObservation
	require.NoError(t, tx.ScanObservations(context.Background(), func(o *models.RawObservation) error {
		got = append(got, *o)
		return nil
	}))
	require.Len(t, got, 2)
	assert.Equal(t, b.ID, got[0].BrandID)
	assert.Zero(t, got[1].BrandID, "orphaned observation has no brand")
}

func TestMemoryUpsertCreatesThenUpdates(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	sp := models.NewRegion("SP")

	tx, err := s.BeginBatch(ctx)
	require.NoError(t, err)
	first := avgRow(1, 2, sp, "2026-01", "10", 1)
	res, err := tx.UpsertMonthlyAverages(ctx, []*models.MonthlyAverage{first, avgRow(1, 2, models.National(), "2026-01", "11", 1)})
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Created: 2}, res)
	assert.NotZero(t, first.ID)
	assert.Empty(t, s.MonthlyAverages(), "staged rows are invisible before commit")
	require.NoError(t, tx.Commit())
	require.Len(t, s.MonthlyAverages(), 2)

	tx, err = s.BeginBatch(ctx)
	require.NoError(t, err)
	again := avgRow(1, 2, sp, "2026-01", "20", 4)
	res, err = tx.UpsertMonthlyAverages(ctx, []*models.MonthlyAverage{again})
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Updated: 1}, res)
	assert.Equal(t, first.ID, again.ID)
	require.NoError(t, tx.Commit())

	rows, err := s.PriceHistory(ctx, 2, 2024, sp)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, first.ID, rows[0].ID)
	assert.True(t, rows[0].AvgPrice.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, 4, rows[0].SamplesCount)
}

func TestMemoryRollbackDiscardsWrites(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	tx, err := s.BeginBatch(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.LockBatch(ctx))
	_, err = tx.UpsertMonthlyAverages(ctx, []*models.MonthlyAverage{avgRow(1, 2, models.National(), "2026-01", "10", 1)})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	require.NoError(t, tx.Rollback(), "second rollback is a no-op")

	assert.Empty(t, s.MonthlyAverages())

	// lock is free again
	tx, err = s.BeginBatch(ctx)
	require.NoError(t, err)
	lockCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, tx.LockBatch(lockCtx))
	require.NoError(t, tx.Rollback())
}

func TestMemoryUpsertRejectsEmptyGroup(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	tx, err := s.BeginBatch(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = tx.UpsertMonthlyAverages(ctx, []*models.MonthlyAverage{avgRow(1, 2, models.National(), "2026-01", "10", 0)})
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestMemoryLockBlocksSecondRun(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	holder, err := s.BeginBatch(ctx)
	require.NoError(t, err)
	require.NoError(t, holder.LockBatch(ctx))

	waiter, err := s.BeginBatch(ctx)
	require.NoError(t, err)
	lockCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err = waiter.LockBatch(lockCtx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrTransient)

	require.NoError(t, holder.Commit())
	require.NoError(t, waiter.LockBatch(ctx))
	require.NoError(t, waiter.Rollback())
}

func TestMemoryCommitMergesConcurrentInsert(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	key := func(avg string) *models.MonthlyAverage { return avgRow(1, 2, models.NewRegion("RJ"), "2026-03", avg, 2) }

	a, err := s.BeginBatch(ctx)
	require.NoError(t, err)
	b, err := s.BeginBatch(ctx)
	require.NoError(t, err)

	_, err = a.UpsertMonthlyAverages(ctx, []*models.MonthlyAverage{key("100")})
	require.NoError(t, err)
	_, err = b.UpsertMonthlyAverages(ctx, []*models.MonthlyAverage{key("200")})
	require.NoError(t, err)
	require.NoError(t, a.Commit())
	require.NoError(t, b.Commit())

	rows := s.MonthlyAverages()
	require.Len(t, rows, 1)
	assert.True(t, rows[0].AvgPrice.Equal(decimal.NewFromInt(200)))
}

func TestMemoryReadOrdering(t *testing.T) {
	s := NewMemoryStore()
	for _, r := range []*models.MonthlyAverage{
		avgRow(1, 3, models.NewRegion("SP"), "2026-02", "1", 1),
		avgRow(1, 3, models.NewRegion("SP"), "2026-01", "1", 1),
		avgRow(1, 3, models.National(), "2026-05", "1", 1),
		avgRow(1, 2, models.NewRegion("AC"), "2025-12", "1", 1),
	} {
		s.PutMonthlyAverage(*r)
	}

	rows, err := s.ListMonthlyAverages(context.Background(), "2026-01")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.True(t, rows[0].Region.IsNational())
	assert.Equal(t, models.MonthRef("2026-01"), rows[1].MonthRef)
	assert.Equal(t, models.MonthRef("2026-02"), rows[2].MonthRef)

	all, err := s.ListMonthlyAverages(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, int64(2), all[0].ModelID)
}

func TestMemoryFailReads(t *testing.T) {
	s := NewMemoryStore()
	s.FailReads(errors.New("connection reset by peer"))

	_, err := s.ListRegions(context.Background())
	require.Error(t, err)

	s.FailReads(nil)
	_, err = s.ListRegions(context.Background())
	require.NoError(t, err)
}

var _ Store = (*MemoryStore)(nil)

func TestMemoryRunWaitingOnLockSeesPreviousCommit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	b := s.AddBrand("Renault")
	m := s.AddModel(b.ID, "Kwid", "Carro")
	key := func(avg string, n int) *models.MonthlyAverage {
		return avgRow(b.ID, m.ID, models.NewRegion("MG"), "2026-04", avg, n)
	}

	first, err := s.BeginBatch(ctx)
	require.NoError(t, err)
	require.NoError(t, first.LockBatch(ctx))

	// second run starts while the first still holds the lock
	second, err := s.BeginBatch(ctx)
	require.NoError(t, err)
	locked := make(chan error, 1)
	go func() { locked <- second.LockBatch(ctx) }()

	created := key("100", 1)
	res, err := first.UpsertMonthlyAverages(ctx, []*models.MonthlyAverage{created})
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Created: 1}, res)
	s.AddObservation(models.RawObservation{ModelID: m.ID, YearModel: 2024, Region: models.NewRegion("MG"),
		Price: decimal.NewFromInt(300), CollectedAt: time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)})
	require.NoError(t, first.Commit())

	select {
	case err := <-locked:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("second run never acquired the lock")
	}
	defer second.Rollback()

	var scanned int
	require.NoError(t, second.ScanObservations(ctx, func(*models.RawObservation) error {
		scanned++
		return nil
	}))
	assert.Equal(t, 1, scanned, "scan must see data committed before the lock was granted")

	updated := key("200", 2)
	res, err = second.UpsertMonthlyAverages(ctx, []*models.MonthlyAverage{updated})
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Updated: 1}, res)
	assert.Equal(t, created.ID, updated.ID)
	require.NoError(t, second.Commit())

	rows := s.MonthlyAverages()
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].SamplesCount)
}
