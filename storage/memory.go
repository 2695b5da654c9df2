package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"carflow/models"
)

// MemoryStore is an in-process Store. It keeps the transactional contract of
// PostgresStore at read committed: the scan reads a snapshot taken when it
// starts, upserts see rows other runs have committed, writes stay private
// until Commit, and Commit resolves identity-key conflicts the way
// ON CONFLICT DO UPDATE does.
type MemoryStore struct {
	mu sync.Mutex

	// batchLock plays the role of the advisory lock.
	batchLock chan struct{}

	brands       map[int64]*models.Brand
	models       map[int64]*models.Model
	observations []*models.RawObservation
	summaries    map[models.SummaryKey]*models.MonthlyAverage
	logs         []*models.QueryLogEntry

	nextID  int64
	readErr error
	now     func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		batchLock: make(chan struct{}, 1),
		brands:    make(map[int64]*models.Brand),
		models:    make(map[int64]*models.Model),
		summaries: make(map[models.SummaryKey]*models.MonthlyAverage),
		now:       time.Now,
	}
}

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

// AddBrand registers a brand and returns it with its identifier.
func (s *MemoryStore) AddBrand(name string) *models.Brand {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := &models.Brand{ID: s.id(), Name: name}
	s.brands[b.ID] = b
	return b
}

// AddModel registers a model under brandID.
func (s *MemoryStore) AddModel(brandID int64, name, vehicleType string) *models.Model {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := &models.Model{ID: s.id(), BrandID: brandID, Name: name, VehicleType: vehicleType}
	s.models[m.ID] = m
	return m
}

// AddObservation appends a raw observation. BrandID on o is ignored: it is
// resolved through the model when observations are scanned.
func (s *MemoryStore) AddObservation(o models.RawObservation) *models.RawObservation {
	s.mu.Lock()
	defer s.mu.Unlock()

	o.ID = s.id()
	o.BrandID = 0
	s.observations = append(s.observations, &o)
	return &o
}

// PutMonthlyAverage stores m as an already consolidated row, assigning an
// identifier when m has none.
func (s *MemoryStore) PutMonthlyAverage(m models.MonthlyAverage) *models.MonthlyAverage {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == 0 {
		m.ID = s.id()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	s.summaries[m.Key()] = &m
	out := m
	return &out
}

// MonthlyAverages returns a copy of every consolidated row ordered by
// model, year, region and month.
func (s *MemoryStore) MonthlyAverages() []*models.MonthlyAverage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterSummaries(func(*models.MonthlyAverage) bool { return true })
}

// QueryLogs returns a copy of the audit log in insertion order.
func (s *MemoryStore) QueryLogs() []*models.QueryLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.QueryLogEntry, 0, len(s.logs))
	for _, l := range s.logs {
		c := *l
		out = append(out, &c)
	}
	return out
}

// FailReads makes every subsequent read return err until called with nil.
func (s *MemoryStore) FailReads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) BeginBatch(ctx context.Context) (BatchTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify("memory: begin batch", err)
	}

	return &memoryBatchTx{
		store:  s,
		staged: make(map[models.SummaryKey]*models.MonthlyAverage),
	}, nil
}

// observationSnapshot copies every raw observation with its brand resolved.
func (s *MemoryStore) observationSnapshot() []models.RawObservation {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make([]models.RawObservation, 0, len(s.observations))
	for _, o := range s.observations {
		c := *o
		if m, ok := s.models[c.ModelID]; ok {
			c.BrandID = m.BrandID
		}
		snapshot = append(snapshot, c)
	}
	return snapshot
}

type memoryBatchTx struct {
	store  *MemoryStore
	staged map[models.SummaryKey]*models.MonthlyAverage
	order  []models.SummaryKey
	locked bool
	done   bool
}

func (t *memoryBatchTx) LockBatch(ctx context.Context) error {
	if t.locked {
		return nil
	}
	select {
	case t.store.batchLock <- struct{}{}:
		t.locked = true
		return nil
	case <-ctx.Done():
		return classify("memory: batch lock", ctx.Err())
	}
}

func (t *memoryBatchTx) ScanObservations(ctx context.Context, fn func(*models.RawObservation) error) error {
	if t.done {
		return fmt.Errorf("memory: scan observations: transaction finished")
	}
	snapshot := t.store.observationSnapshot()
	for i := range snapshot {
		if err := ctx.Err(); err != nil {
			return classify("memory: scan observations", err)
		}
		o := snapshot[i]
		if err := fn(&o); err != nil {
			return err
		}
	}
	return nil
}

func (t *memoryBatchTx) UpsertMonthlyAverages(ctx context.Context, rows []*models.MonthlyAverage) (UpsertResult, error) {
	var res UpsertResult
	if t.done {
		return res, fmt.Errorf("memory: upsert: transaction finished")
	}
	if err := ctx.Err(); err != nil {
		return res, classify("memory: upsert monthly averages", err)
	}

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range rows {
		if m.SamplesCount < 1 {
			return res, fmt.Errorf("memory: upsert monthly averages: %w: samples_count %d", ErrIntegrity, m.SamplesCount)
		}
		key := m.Key()
		if staged, ok := t.staged[key]; ok {
			staged.AvgPrice = m.AvgPrice
			staged.SamplesCount = m.SamplesCount
			m.ID, m.CreatedAt = staged.ID, staged.CreatedAt
			res.Updated++
			continue
		}

		c := *m
		if existing, ok := s.summaries[key]; ok {
			c.ID, c.BrandID, c.CreatedAt = existing.ID, existing.BrandID, existing.CreatedAt
			res.Updated++
		} else {
			c.ID, c.CreatedAt = s.id(), s.now()
			res.Created++
		}
		m.ID, m.CreatedAt = c.ID, c.CreatedAt
		t.staged[key] = &c
		t.order = append(t.order, key)
	}
	return res, nil
}

func (t *memoryBatchTx) Commit() error {
	if t.done {
		return fmt.Errorf("memory: commit: transaction finished")
	}
	t.done = true
	defer t.unlock()

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range t.order {
		staged := t.staged[key]
		if existing, ok := s.summaries[key]; ok {
			// Another run committed this key first: merge into its row.
			existing.AvgPrice = staged.AvgPrice
			existing.SamplesCount = staged.SamplesCount
			continue
		}
		s.summaries[key] = staged
	}
	return nil
}

func (t *memoryBatchTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.unlock()
	return nil
}

func (t *memoryBatchTx) unlock() {
	if t.locked {
		t.locked = false
		<-t.store.batchLock
	}
}

func (s *MemoryStore) ListBrands(ctx context.Context) ([]*models.Brand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, classify("memory: list brands", s.readErr)
	}

	out := make([]*models.Brand, 0, len(s.brands))
	for _, b := range s.brands {
		c := *b
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) ListModels(ctx context.Context, brandID int64) ([]*models.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, classify("memory: list models", s.readErr)
	}

	var out []*models.Model
	for _, m := range s.models {
		if m.BrandID == brandID {
			c := *m
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) ListYears(ctx context.Context, modelID int64) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, classify("memory: list years", s.readErr)
	}

	seen := make(map[int]struct{})
	var years []int
	for key := range s.summaries {
		if key.ModelID != modelID {
			continue
		}
		if _, dup := seen[key.YearModel]; !dup {
			seen[key.YearModel] = struct{}{}
			years = append(years, key.YearModel)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(years)))
	return years, nil
}

func (s *MemoryStore) ListRegions(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, classify("memory: list regions", s.readErr)
	}

	seen := make(map[string]struct{})
	var regions []string
	for key := range s.summaries {
		if key.Region.IsNational() {
			continue
		}
		label := key.Region.Label()
		if _, dup := seen[label]; !dup {
			seen[label] = struct{}{}
			regions = append(regions, label)
		}
	}
	sort.Strings(regions)
	return regions, nil
}

func (s *MemoryStore) PriceHistory(ctx context.Context, modelID int64, yearModel int, region models.Region) ([]*models.MonthlyAverage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, classify("memory: price history", s.readErr)
	}

	return s.filterSummaries(func(m *models.MonthlyAverage) bool {
		return m.ModelID == modelID && m.YearModel == yearModel && m.Region == region
	}), nil
}

func (s *MemoryStore) ListMonthlyAverages(ctx context.Context, since models.MonthRef) ([]*models.MonthlyAverage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, classify("memory: list monthly averages", s.readErr)
	}

	return s.filterSummaries(func(m *models.MonthlyAverage) bool {
		return m.MonthRef >= since
	}), nil
}

// filterSummaries copies matching rows sorted by model, year, region
// (national first) and month. Callers hold s.mu.
func (s *MemoryStore) filterSummaries(keep func(*models.MonthlyAverage) bool) []*models.MonthlyAverage {
	var out []*models.MonthlyAverage
	for _, m := range s.summaries {
		if keep(m) {
			c := *m
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ModelID != b.ModelID {
			return a.ModelID < b.ModelID
		}
		if a.YearModel != b.YearModel {
			return a.YearModel < b.YearModel
		}
		if a.Region != b.Region {
			if a.Region.IsNational() != b.Region.IsNational() {
				return a.Region.IsNational()
			}
			return a.Region.Label() < b.Region.Label()
		}
		return a.MonthRef < b.MonthRef
	})
	return out
}

func (s *MemoryStore) CreateQueryLog(ctx context.Context, e *models.QueryLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.ID = s.id()
	e.CreatedAt = s.now()
	c := *e
	s.logs = append(s.logs, &c)
	return nil
}
