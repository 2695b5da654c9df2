package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"carflow/models"
	"carflow/utils"
)

// batchLockKey is the advisory lock id serializing aggregation runs.
const batchLockKey int64 = 0x636172666c6f77 // "carflow"

// upsertColumns is the number of bind parameters per upserted row.
const upsertColumns = 7

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	logger *utils.Logger
}

// NewPostgresStore opens a connection pool and waits for the server to answer.
func NewPostgresStore(ctx context.Context, dsn string, logger *utils.Logger) (*PostgresStore, error) {
	connector, err := pq.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	for i := 0; i < 10; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		logger.Debug("[postgres] ping failed (attempt %d/10): %v", i+1, err)
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, classify("postgres: ping", ctx.Err())
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		_ = db.Close()
		return nil, classify("postgres: ping failed after retries", err)
	}

	return &PostgresStore{db: db, logger: logger}, nil
}

// Migrate creates the schema when missing. Provisioning normally happens out
// of band; this exists for local development and integration tests.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS brands (
			id   SERIAL PRIMARY KEY,
			name TEXT   NOT NULL UNIQUE
		);

		CREATE TABLE IF NOT EXISTS models (
			id           SERIAL  PRIMARY KEY,
			brand_id     INTEGER NOT NULL REFERENCES brands(id),
			name         TEXT    NOT NULL,
			vehicle_type TEXT    NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS price_collections (
			id           BIGSERIAL     PRIMARY KEY,
			model_id     INTEGER       NOT NULL REFERENCES models(id),
			year_model   INTEGER       NOT NULL,
			price        NUMERIC(14,2) NOT NULL,
			region       TEXT,
			collected_at TIMESTAMPTZ   NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS monthly_averages (
			id            BIGSERIAL     PRIMARY KEY,
			brand_id      INTEGER       NOT NULL REFERENCES brands(id),
			model_id      INTEGER       NOT NULL REFERENCES models(id),
			year_model    INTEGER       NOT NULL,
			month_ref     CHAR(7)       NOT NULL,
			region        TEXT,
			avg_price     NUMERIC(18,4) NOT NULL,
			samples_count INTEGER       NOT NULL CHECK (samples_count > 0),
			created_at    TIMESTAMPTZ   NOT NULL DEFAULT NOW(),
			CONSTRAINT uq_monthly_averages_key
				UNIQUE NULLS NOT DISTINCT (model_id, year_model, region, month_ref)
		);

		CREATE TABLE IF NOT EXISTS query_logs (
			id         BIGSERIAL   PRIMARY KEY,
			brand_id   INTEGER,
			model_id   INTEGER,
			year_model INTEGER,
			region     TEXT,
			status     VARCHAR(16) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_models_brand          ON models(brand_id, name);
		CREATE INDEX IF NOT EXISTS idx_monthly_averages_year ON monthly_averages(model_id, year_model);
		CREATE INDEX IF NOT EXISTS idx_monthly_averages_reg  ON monthly_averages(region);
	`)
	if err != nil {
		return classify("postgres: migrate", err)
	}
	s.logger.Info("[postgres] Schema ready")
	return nil
}

// DB exposes the pool for tooling and tests.
func (s *PostgresStore) DB() *sql.DB { return s.db }

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// BeginBatch opens a read-committed transaction. The run reads raw data in
// a single statement, so the scan is consistent on its own, and each upsert
// sees rows committed by a run that held the batch lock before it. Under
// repeatable read the snapshot would predate the lock wait and the upsert
// of such a row would fail with a serialization error.
func (s *PostgresStore) BeginBatch(ctx context.Context) (BatchTx, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, classify("postgres: begin batch", err)
	}
	return &postgresBatchTx{tx: tx}, nil
}

type postgresBatchTx struct {
	tx *sql.Tx
}

func (t *postgresBatchTx) LockBatch(ctx context.Context) error {
	_, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, batchLockKey)
	return classify("postgres: batch lock", err)
}

func (t *postgresBatchTx) ScanObservations(ctx context.Context, fn func(*models.RawObservation) error) error {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT pc.id, pc.model_id, m.brand_id, pc.year_model, pc.price, pc.region, pc.collected_at
		FROM price_collections pc
		LEFT JOIN models m ON m.id = pc.model_id
		ORDER BY pc.id
	`)
	if err != nil {
		return classify("postgres: scan observations", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			o       models.RawObservation
			brandID sql.NullInt64
		)
		if err := rows.Scan(&o.ID, &o.ModelID, &brandID, &o.YearModel, &o.Price, &o.Region, &o.CollectedAt); err != nil {
			return classify("postgres: scan observation row", err)
		}
		o.BrandID = brandID.Int64
		if err := fn(&o); err != nil {
			return err
		}
	}
	return classify("postgres: scan observations", rows.Err())
}

func (t *postgresBatchTx) UpsertMonthlyAverages(ctx context.Context, batch []*models.MonthlyAverage) (UpsertResult, error) {
	var res UpsertResult
	if len(batch) == 0 {
		return res, nil
	}

	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]interface{}, 0, len(batch)*upsertColumns)
	byKey := make(map[models.SummaryKey]*models.MonthlyAverage, len(batch))

	for idx, m := range batch {
		base := idx * upsertColumns
		valueStrings = append(valueStrings,
			fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d)",
				base+1, base+2, base+3, base+4, base+5, base+6, base+7))
		valueArgs = append(valueArgs,
			m.BrandID, m.ModelID, m.YearModel, string(m.MonthRef), m.Region, m.AvgPrice, m.SamplesCount)
		byKey[m.Key()] = m
	}

	query := fmt.Sprintf(`
		INSERT INTO monthly_averages (brand_id, model_id, year_model, month_ref, region, avg_price, samples_count)
		VALUES %s
		ON CONFLICT (model_id, year_model, region, month_ref) DO UPDATE SET
			avg_price     = EXCLUDED.avg_price,
			samples_count = EXCLUDED.samples_count
		RETURNING id, model_id, year_model, region, month_ref, created_at, (xmax = 0) AS inserted
	`, strings.Join(valueStrings, ","))

	rows, err := t.tx.QueryContext(ctx, query, valueArgs...)
	if err != nil {
		return res, classify("postgres: upsert monthly averages", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key       models.SummaryKey
			id        int64
			createdAt time.Time
			month     string
			inserted  bool
		)
		if err := rows.Scan(&id, &key.ModelID, &key.YearModel, &key.Region, &month, &createdAt, &inserted); err != nil {
			return res, classify("postgres: scan upserted row", err)
		}
		key.MonthRef = models.MonthRef(month)
		if m, ok := byKey[key]; ok {
			m.ID = id
			m.CreatedAt = createdAt
		}
		if inserted {
			res.Created++
		} else {
			res.Updated++
		}
	}
	return res, classify("postgres: upsert monthly averages", rows.Err())
}

func (t *postgresBatchTx) Commit() error {
	return classify("postgres: commit", t.tx.Commit())
}

func (t *postgresBatchTx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return classify("postgres: rollback", err)
}

func (s *PostgresStore) ListBrands(ctx context.Context) ([]*models.Brand, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM brands ORDER BY name`)
	if err != nil {
		return nil, classify("postgres: list brands", err)
	}
	defer rows.Close()

	var brands []*models.Brand
	for rows.Next() {
		b := &models.Brand{}
		if err := rows.Scan(&b.ID, &b.Name); err != nil {
			return nil, classify("postgres: scan brand", err)
		}
		brands = append(brands, b)
	}
	return brands, classify("postgres: list brands", rows.Err())
}

func (s *PostgresStore) ListModels(ctx context.Context, brandID int64) ([]*models.Model, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, brand_id, name, vehicle_type
		FROM models
		WHERE brand_id = $1
		ORDER BY name
	`, brandID)
	if err != nil {
		return nil, classify("postgres: list models", err)
	}
	defer rows.Close()

	var out []*models.Model
	for rows.Next() {
		m := &models.Model{}
		if err := rows.Scan(&m.ID, &m.BrandID, &m.Name, &m.VehicleType); err != nil {
			return nil, classify("postgres: scan model", err)
		}
		out = append(out, m)
	}
	return out, classify("postgres: list models", rows.Err())
}

func (s *PostgresStore) ListYears(ctx context.Context, modelID int64) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT year_model
		FROM monthly_averages
		WHERE model_id = $1
		ORDER BY year_model DESC
	`, modelID)
	if err != nil {
		return nil, classify("postgres: list years", err)
	}
	defer rows.Close()

	var years []int
	for rows.Next() {
		var y int
		if err := rows.Scan(&y); err != nil {
			return nil, classify("postgres: scan year", err)
		}
		years = append(years, y)
	}
	return years, classify("postgres: list years", rows.Err())
}

func (s *PostgresStore) ListRegions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT region
		FROM monthly_averages
		WHERE region IS NOT NULL
		ORDER BY region
	`)
	if err != nil {
		return nil, classify("postgres: list regions", err)
	}
	defer rows.Close()

	var regions []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, classify("postgres: scan region", err)
		}
		regions = append(regions, r)
	}
	return regions, classify("postgres: list regions", rows.Err())
}

const monthlyAverageColumns = `id, brand_id, model_id, year_model, month_ref, region, avg_price, samples_count, created_at`

func (s *PostgresStore) PriceHistory(ctx context.Context, modelID int64, yearModel int, region models.Region) ([]*models.MonthlyAverage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+monthlyAverageColumns+`
		FROM monthly_averages
		WHERE model_id = $1 AND year_model = $2 AND region IS NOT DISTINCT FROM $3::text
		ORDER BY month_ref
	`, modelID, yearModel, region)
	if err != nil {
		return nil, classify("postgres: price history", err)
	}
	return scanMonthlyAverages(rows, "postgres: price history")
}

func (s *PostgresStore) ListMonthlyAverages(ctx context.Context, since models.MonthRef) ([]*models.MonthlyAverage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+monthlyAverageColumns+`
		FROM monthly_averages
		WHERE month_ref >= $1
		ORDER BY model_id, year_model, region NULLS FIRST, month_ref
	`, string(since))
	if err != nil {
		return nil, classify("postgres: list monthly averages", err)
	}
	return scanMonthlyAverages(rows, "postgres: list monthly averages")
}

func scanMonthlyAverages(rows *sql.Rows, op string) ([]*models.MonthlyAverage, error) {
	defer rows.Close()

	var out []*models.MonthlyAverage
	for rows.Next() {
		m := &models.MonthlyAverage{}
		var month string
		if err := rows.Scan(&m.ID, &m.BrandID, &m.ModelID, &m.YearModel, &month,
			&m.Region, &m.AvgPrice, &m.SamplesCount, &m.CreatedAt); err != nil {
			return nil, classify(op, err)
		}
		m.MonthRef = models.MonthRef(month)
		out = append(out, m)
	}
	return out, classify(op, rows.Err())
}

func (s *PostgresStore) CreateQueryLog(ctx context.Context, e *models.QueryLogEntry) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO query_logs (brand_id, model_id, year_model, region, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, e.BrandID, e.ModelID, e.YearModel, e.Region, string(e.Status)).Scan(&e.ID, &e.CreatedAt)
	return classify("postgres: create query log", err)
}
