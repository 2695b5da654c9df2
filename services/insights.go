package services

import (
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"carflow/models"
	"carflow/utils"
)

var hundred = decimal.NewFromInt(100)

type InsightService struct {
	logger *utils.Logger
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

// Generate summarizes a month-ordered, non-empty series.
func (s *InsightService) Generate(brandID int64, history []*models.MonthlyAverage) *models.ConsolidatedPrice {
	latest := history[len(history)-1]
	report := &models.ConsolidatedPrice{
		BrandID:      brandID,
		ModelID:      latest.ModelID,
		YearModel:    latest.YearModel,
		Region:       latest.Region,
		CurrentPrice: latest.AvgPrice,
		CurrentMonth: latest.MonthRef,
		Samples:      latest.SamplesCount,
		MinPrice:     latest.AvgPrice,
		MaxPrice:     latest.AvgPrice,
		History:      history,
	}
	if report.BrandID == 0 {
		report.BrandID = latest.BrandID
	}

	for _, h := range history {
		if h.AvgPrice.LessThan(report.MinPrice) {
			report.MinPrice = h.AvgPrice
		}
		if h.AvgPrice.GreaterThan(report.MaxPrice) {
			report.MaxPrice = h.AvgPrice
		}
	}

	if len(history) > 1 {
		prev := history[len(history)-2]
		report.MonthOverMonth = percentChange(prev.AvgPrice, latest.AvgPrice)
	}
	return report
}

// percentChange is (to-from)/from in percent, rounded to two places. It is
// nil when from is zero.
func percentChange(from, to decimal.Decimal) *decimal.Decimal {
	if from.IsZero() {
		return nil
	}
	pct := to.Sub(from).Div(from).Mul(hundred).Round(2)
	return &pct
}

// Print renders a comparison for the terminal.
func (s *InsightService) Print(w io.Writer, title string, cmp *models.NationalComparison) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)
	r := cmp.Regional

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  📊 %s\033[0m\n", title)
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	fmt.Fprintf(w, "\033[1;33m  Market average (%s)\033[0m\n", r.Region)
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Reference month : \033[1m%s\033[0m\n", r.CurrentMonth)
	fmt.Fprintf(w, "  Average price   : \033[1;32mR$ %s\033[0m\n", r.CurrentPrice.StringFixed(2))
	fmt.Fprintf(w, "  Samples         : %d\n", r.Samples)
	if r.MonthOverMonth != nil {
		fmt.Fprintf(w, "  vs last month   : %s%%\n", signed(*r.MonthOverMonth))
	}
	fmt.Fprintln(w)

	if cmp.National != nil && cmp.DiffPercent != nil {
		fmt.Fprintf(w, "\033[1;33m  National comparison\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		fmt.Fprintf(w, "  National average : R$ %s\n", cmp.National.CurrentPrice.StringFixed(2))
		fmt.Fprintf(w, "  Difference       : %s%% vs BR\n", signed(*cmp.DiffPercent))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "\033[1;33m  History\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	for _, h := range r.History {
		bar := strings.Repeat("█", barWidth(h.AvgPrice, r.MaxPrice, 30))
		fmt.Fprintf(w, "  %s  R$ %14s  %-30s (%d)\n", h.MonthRef, h.AvgPrice.StringFixed(2), bar, h.SamplesCount)
	}
	fmt.Fprintf(w, "  Min R$ %s | Max R$ %s\n", r.MinPrice.StringFixed(2), r.MaxPrice.StringFixed(2))

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

func signed(d decimal.Decimal) string {
	if d.IsPositive() {
		return "+" + d.StringFixed(2)
	}
	return d.StringFixed(2)
}

func barWidth(v, max decimal.Decimal, width int) int {
	if !max.IsPositive() {
		return 0
	}
	return int(v.Div(max).Mul(decimal.NewFromInt(int64(width))).IntPart())
}
