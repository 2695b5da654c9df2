package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carflow/models"
	"carflow/storage"
)

// gatedStore blocks BeginBatch until release is closed.
type gatedStore struct {
	*storage.MemoryStore
	begins  atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) BeginBatch(ctx context.Context) (storage.BatchTx, error) {
	if s.begins.Add(1) == 1 {
		close(s.entered)
	}
	<-s.release
	return s.MemoryStore.BeginBatch(ctx)
}

func TestSchedulerTriggerSharesRunInFlight(t *testing.T) {
	f := newFixture(t)
	f.store.AddObservation(observation(f.model.ID, 2024, models.National(), "100", day(2026, 1, 1)))
	gs := &gatedStore{MemoryStore: f.store, entered: make(chan struct{}), release: make(chan struct{})}
	s := NewScheduler(NewAggregator(gs, AggregatorConfig{}, newTestLogger()), 0, newTestLogger())

	var wg sync.WaitGroup
	results := make([]RunReport, 2)
	errs := make([]error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _, errs[0] = s.Trigger(context.Background())
	}()
	<-gs.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], _, errs[1] = s.Trigger(context.Background())
	}()
	// give the second caller time to join the flight
	time.Sleep(50 * time.Millisecond)
	close(gs.release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, int32(1), gs.begins.Load())
	assert.Equal(t, results[0].RunID, results[1].RunID)
	assert.Len(t, f.store.MonthlyAverages(), 1)
}

func TestSchedulerRunsImmediatelyAndStops(t *testing.T) {
	f := newFixture(t)
	f.store.AddObservation(observation(f.model.ID, 2024, models.National(), "100", day(2026, 1, 1)))

	runs := make(chan RunReport, 16)
	agg := f.aggregator(AggregatorConfig{})
	agg.OnCommit(CommitListenerFunc(func(_ context.Context, r RunReport) { runs <- r }))
	s := NewScheduler(agg, time.Hour, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case r := <-runs:
		assert.Equal(t, 1, r.Created)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not run at start-up")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestSchedulerDisabledWaitsForCancel(t *testing.T) {
	f := newFixture(t)
	s := NewScheduler(f.aggregator(AggregatorConfig{}), 0, newTestLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))
	assert.Empty(t, f.store.MonthlyAverages())
}
