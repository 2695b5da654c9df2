package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"carflow/models"
	"carflow/storage"
	"carflow/utils"
)

// CommitListener is told about every committed run.
type CommitListener interface {
	BatchCommitted(ctx context.Context, report RunReport)
}

// CommitListenerFunc adapts a function to CommitListener.
type CommitListenerFunc func(ctx context.Context, report RunReport)

func (f CommitListenerFunc) BatchCommitted(ctx context.Context, report RunReport) { f(ctx, report) }

// RunReport is the operational summary of one run.
type RunReport struct {
	RunID        string
	Observations int
	Groups       int
	Created      int
	Updated      int
	Duration     time.Duration
}

// Persisted is the number of rows written.
func (r RunReport) Persisted() int { return r.Created + r.Updated }

// AggregatorConfig tunes an Aggregator.
type AggregatorConfig struct {
	// Location decides which calendar month an observation belongs to.
	Location *time.Location
	// MaxGroups bounds how many groups one run may hold in memory.
	MaxGroups int
	// ChunkSize is the number of rows per upsert statement.
	ChunkSize int
	// MaxAttempts and BaseDelay drive RunWithRetry.
	MaxAttempts int
	BaseDelay   time.Duration
}

// Aggregator is the monthly consolidation engine. It re-derives every
// monthly_averages row from the full raw store in one transaction.
type Aggregator struct {
	store     storage.Store
	logger    *utils.Logger
	cfg       AggregatorConfig
	listeners []CommitListener
}

// NewAggregator creates an Aggregator over store.
func NewAggregator(store storage.Store, cfg AggregatorConfig, logger *utils.Logger) *Aggregator {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 500
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Aggregator{store: store, logger: logger, cfg: cfg}
}

// OnCommit registers l to be called after every committed run.
func (a *Aggregator) OnCommit(l CommitListener) {
	a.listeners = append(a.listeners, l)
}

// RunMonthlyBatch groups every raw observation by (brand, model, model-year,
// region, month), computes mean price and sample count, and upserts one
// monthly_averages row per group by its identity key. Rows of keys absent
// from the raw data are left untouched.
//
// Any failure, panics included, rolls the whole run back and is returned as
// a *BatchError; nothing is committed partially.
func (a *Aggregator) RunMonthlyBatch(ctx context.Context) (report RunReport, err error) {
	report.RunID = uuid.NewString()
	log := a.logger.With("run_id", report.RunID)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = &BatchError{RunID: report.RunID, Phase: PhasePanic, Err: fmt.Errorf("panic: %v", r)}
		}
		report.Duration = time.Since(start)
		batchDuration.Observe(report.Duration.Seconds())
		batchRunsTotal.WithLabelValues(failureKind(err)).Inc()
		if err != nil {
			log.Error("[batch] Run failed, all pending writes rolled back: %v", err)
		}
	}()

	fail := func(phase string, cause error) (RunReport, error) {
		return report, &BatchError{RunID: report.RunID, Phase: phase, Err: cause}
	}

	log.Info("[batch] Starting monthly consolidation")

	tx, err := a.store.BeginBatch(ctx)
	if err != nil {
		return fail(PhaseBegin, err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Warn("[batch] Rollback failed: %v", rbErr)
		}
	}()

	if err := tx.LockBatch(ctx); err != nil {
		return fail(PhaseLock, err)
	}

	acc := NewMonthlyAccumulator(a.cfg.Location)
	err = tx.ScanObservations(ctx, func(o *models.RawObservation) error {
		if err := acc.Add(o); err != nil {
			return err
		}
		if acc.Groups() > a.cfg.MaxGroups && a.cfg.MaxGroups > 0 {
			return fmt.Errorf("%w: more than %d groups", ErrTooManyGroups, a.cfg.MaxGroups)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrTooManyGroups) {
			return fail(PhaseBound, err)
		}
		return fail(PhaseScan, err)
	}

	report.Observations = acc.Observations()
	report.Groups = acc.Groups()
	log.Info("[batch] Computed %d monthly groups from %d observations", report.Groups, report.Observations)

	results := acc.Results()
	var written storage.UpsertResult
	for i := 0; i < len(results); i += a.cfg.ChunkSize {
		end := i + a.cfg.ChunkSize
		if end > len(results) {
			end = len(results)
		}
		res, err := tx.UpsertMonthlyAverages(ctx, results[i:end])
		if err != nil {
			return fail(PhaseUpsert, err)
		}
		written.Add(res)
		log.Debug("[batch] Upserted rows %d-%d of %d", i+1, end, len(results))
	}

	if err := tx.Commit(); err != nil {
		return fail(PhaseCommit, err)
	}
	committed = true

	report.Created, report.Updated = written.Created, written.Updated
	batchObservations.Set(float64(report.Observations))
	batchGroups.Set(float64(report.Groups))
	batchRowsTotal.WithLabelValues("created").Add(float64(report.Created))
	batchRowsTotal.WithLabelValues("updated").Add(float64(report.Updated))

	log.Info("[batch] Monthly consolidation finished: %d rows persisted (%d created, %d updated) in %v",
		report.Persisted(), report.Created, report.Updated, time.Since(start).Round(time.Millisecond))

	for _, l := range a.listeners {
		l.BatchCommitted(ctx, report)
	}
	return report, nil
}

// RunWithRetry runs RunMonthlyBatch again after transient store failures,
// backing off exponentially. Integrity failures are returned at once.
func (a *Aggregator) RunWithRetry(ctx context.Context) (RunReport, error) {
	retry := &utils.RetryConfig{
		MaxAttempts: a.cfg.MaxAttempts,
		BaseDelay:   a.cfg.BaseDelay,
		Logger:      a.logger,
		Retryable:   IsRetryable,
	}

	var report RunReport
	err := retry.Do(ctx, "monthly batch", func(ctx context.Context) error {
		var err error
		report, err = a.RunMonthlyBatch(ctx)
		return err
	})
	return report, err
}
