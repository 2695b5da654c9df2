package services

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"carflow/models"
)

type monthlyGroup struct {
	brandID int64
	sum     decimal.Decimal
	count   int
}

// MonthlyAccumulator partitions raw observations by model, model-year,
// region and calendar month and keeps an exact running sum and count per
// partition. Brand is carried along since a model belongs to one brand.
type MonthlyAccumulator struct {
	loc    *time.Location
	groups map[models.SummaryKey]*monthlyGroup
	seen   int
}

// NewMonthlyAccumulator buckets observations by their month as seen in loc.
// A nil loc uses the location stored with each timestamp.
func NewMonthlyAccumulator(loc *time.Location) *MonthlyAccumulator {
	return &MonthlyAccumulator{
		loc:    loc,
		groups: make(map[models.SummaryKey]*monthlyGroup),
	}
}

// Add folds o into its group. Observations without a positive price or
// without a resolvable brand are integrity violations.
func (a *MonthlyAccumulator) Add(o *models.RawObservation) error {
	if !o.Price.IsPositive() {
		return fmt.Errorf("%w: observation %d has non-positive price %s", ErrDataIntegrity, o.ID, o.Price)
	}
	if o.BrandID == 0 {
		return fmt.Errorf("%w: observation %d references model %d with no brand", ErrDataIntegrity, o.ID, o.ModelID)
	}

	key := models.SummaryKey{
		ModelID:   o.ModelID,
		YearModel: o.YearModel,
		Region:    o.Region,
		MonthRef:  models.MonthOf(o.CollectedAt, a.loc),
	}
	g, ok := a.groups[key]
	if !ok {
		g = &monthlyGroup{brandID: o.BrandID}
		a.groups[key] = g
	} else if g.brandID != o.BrandID {
		return fmt.Errorf("%w: model %d resolves to brands %d and %d", ErrDataIntegrity, o.ModelID, g.brandID, o.BrandID)
	}
	g.sum = g.sum.Add(o.Price)
	g.count++
	a.seen++
	return nil
}

// Observations is the number of observations folded so far.
func (a *MonthlyAccumulator) Observations() int { return a.seen }

// Groups is the number of distinct partitions.
func (a *MonthlyAccumulator) Groups() int { return len(a.groups) }

// Results returns one MonthlyAverage per partition in a stable order
// (model, year, region with national first, month). Averages are rounded
// to models.PriceScale places.
func (a *MonthlyAccumulator) Results() []*models.MonthlyAverage {
	out := make([]*models.MonthlyAverage, 0, len(a.groups))
	for key, g := range a.groups {
		out = append(out, &models.MonthlyAverage{
			BrandID:      g.brandID,
			ModelID:      key.ModelID,
			YearModel:    key.YearModel,
			MonthRef:     key.MonthRef,
			Region:       key.Region,
			AvgPrice:     g.sum.DivRound(decimal.NewFromInt(int64(g.count)), models.PriceScale),
			SamplesCount: g.count,
		})
	}
	sort.Slice(out, func(i, j int) bool { return lessKey(out[i].Key(), out[j].Key()) })
	return out
}

func lessKey(a, b models.SummaryKey) bool {
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
}
