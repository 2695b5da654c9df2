package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"carflow/models"
	"carflow/storage"
	"carflow/utils"
)

func newTestLogger() *utils.Logger { return utils.NewNopLogger() }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func price(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func observation(modelID int64, year int, region models.Region, p string, at time.Time) models.RawObservation {
	return models.RawObservation{ModelID: modelID, YearModel: year, Region: region, Price: price(p), CollectedAt: at}
}

type fixture struct {
	store *storage.MemoryStore
	brand *models.Brand
	model *models.Model
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := storage.NewMemoryStore()
	b := s.AddBrand("Chevrolet")
	m := s.AddModel(b.ID, "Onix Plus", "Carro")
	return &fixture{store: s, brand: b, model: m}
}

func (f *fixture) aggregator(cfg AggregatorConfig) *Aggregator {
	return NewAggregator(f.store, cfg, newTestLogger())
}

// flakyStore injects failures into a MemoryStore.
type flakyStore struct {
	*storage.MemoryStore

	// beginErrs are returned by successive BeginBatch calls before the
	// real store is reached.
	beginErrs []error
	// failUpsertAt makes the n-th upsert of every transaction fail.
	failUpsertAt int
	// panicOnScan panics inside the scan callback.
	panicOnScan bool
}

func (s *flakyStore) BeginBatch(ctx context.Context) (storage.BatchTx, error) {
	if len(s.beginErrs) > 0 {
		err := s.beginErrs[0]
		s.beginErrs = s.beginErrs[1:]
		return nil, err
	}
	tx, err := s.MemoryStore.BeginBatch(ctx)
	if err != nil {
		return nil, err
	}
	return &flakyTx{BatchTx: tx, failAt: s.failUpsertAt, panicOnScan: s.panicOnScan}, nil
}

type flakyTx struct {
	storage.BatchTx
	failAt      int
	calls       int
	panicOnScan bool
}

func (t *flakyTx) ScanObservations(ctx context.Context, fn func(*models.RawObservation) error) error {
	if t.panicOnScan {
		panic("scan exploded")
	}
	return t.BatchTx.ScanObservations(ctx, fn)
}

func (t *flakyTx) UpsertMonthlyAverages(ctx context.Context, rows []*models.MonthlyAverage) (storage.UpsertResult, error) {
	t.calls++
	if t.failAt > 0 && t.calls == t.failAt {
		return storage.UpsertResult{}, fmt.Errorf("upsert chunk %d: %w", t.calls, storage.ErrTransient)
	}
	return t.BatchTx.UpsertMonthlyAverages(ctx, rows)
}
