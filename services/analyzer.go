package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"redfin-tracker/models"
	"redfin-tracker/storage"
	"redfin-tracker/utils"
)

// ErrNoData is returned when there is nothing to analyze for the requested scope.
var ErrNoData = errors.New("no data available to analyze")

// DefaultExtremes is the number of listings reported at each end of the price range.
const DefaultExtremes = 5

// Dataset is the part of the consolidator the analyzer depends on.
type Dataset interface {
	LoadRawSnapshot(date models.Date) ([]models.Observation, error)
	LoadCleanedMaster() ([]models.Record, error)
	MergeCleaned(ctx context.Context, date models.Date, records []models.Record) (storage.MergeStats, error)
}

// Analyzer cleans daily snapshots and computes statistics and trends.
type Analyzer struct {
	dataset    Dataset
	normalizer *Normalizer
	logger     *utils.Logger
}

func NewAnalyzer(dataset Dataset, normalizer *Normalizer, logger *utils.Logger) *Analyzer {
	return &Analyzer{dataset: dataset, normalizer: normalizer, logger: logger}
}

// AnalyzeDate cleans the raw snapshot of date, persists it through the
// consolidator and reports on it.
func (a *Analyzer) AnalyzeDate(ctx context.Context, date models.Date) (*models.AnalysisReport, error) {
	a.logger.Info("[analyzer] Running analysis for %s", date)

	raw, err := a.dataset.LoadRawSnapshot(date)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			a.logger.Warn("[analyzer] No data found for %s", date)
			return nil, fmt.Errorf("snapshot %s: %w", date, ErrNoData)
		}
		return nil, fmt.Errorf("load snapshot %s: %w", date, err)
	}

	records, stats := a.normalizer.Clean(raw)
	if len(records) == 0 {
		a.logger.Warn("[analyzer] Snapshot %s has no valid listings (raw %d)", date, len(raw))
	}

	if _, err := a.dataset.MergeCleaned(ctx, date, records); err != nil {
		return nil, fmt.Errorf("save cleaned %s: %w", date, err)
	}

	report := a.buildReport(records, false)
	report.Date = date.String()
	report.Scope = "daily"
	report.Raw = stats.Raw
	report.Rejected = stats.Rejected
	a.logReport(report)
	return report, nil
}

// AnalyzeHistory reports on the full cleaned master. It never writes.
func (a *Analyzer) AnalyzeHistory(ctx context.Context) (*models.AnalysisReport, error) {
	a.logger.Info("[analyzer] Running analysis for historical data")

	records, err := a.dataset.LoadCleanedMaster()
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			a.logger.Warn("[analyzer] No data found for historical records")
			return nil, fmt.Errorf("cleaned master: %w", ErrNoData)
		}
		return nil, fmt.Errorf("load cleaned master: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("cleaned master: %w", ErrNoData)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := a.buildReport(records, true)
	report.Scope = "history"
	report.Raw = len(records)
	a.logReport(report)
	return report, nil
}

func (a *Analyzer) buildReport(records []models.Record, withTrend bool) *models.AnalysisReport {
	report := &models.AnalysisReport{Summary: Summarize(records)}
	if withTrend {
		report.Trend = Trend(records)
	}
	report.Top, report.Bottom = Extremes(records, DefaultExtremes)
	return report
}

func (a *Analyzer) logReport(r *models.AnalysisReport) {
	a.logger.Info("[analyzer] Summary (%s %s): %d listings", r.Scope, r.Date, r.Summary.Count)
	for _, f := range r.Summary.Fields {
		a.logger.Info("[analyzer]   %-9s min=%.2f q1=%.2f median=%.2f q3=%.2f max=%.2f mean=%.2f",
			f.Field, f.Min, f.Q1, f.Median, f.Q3, f.Max, f.Mean)
	}
	for i, l := range r.Top {
		a.logger.Info("[analyzer]   top %d: $%.0f %s", i+1, l.Price, l.Address)
	}
	for i, l := range r.Bottom {
		a.logger.Info("[analyzer]   cheapest %d: $%.0f %s", i+1, l.Price, l.Address)
	}
	a.logger.Info("[analyzer] Analysis complete")
}

var summaryFields = []struct {
	name string
	get  func(models.Record) float64
}{
	{"Price", func(r models.Record) float64 { return r.Price }},
	{"Beds", func(r models.Record) float64 { return r.Beds }},
	{"Baths", func(r models.Record) float64 { return r.Baths }},
	{"SqFt", func(r models.Record) float64 { return r.LivingArea }},
	{"Latitude", func(r models.Record) float64 { return r.Latitude }},
	{"Longitude", func(r models.Record) float64 { return r.Longitude }},
}

// Summarize computes count, min, max, mean and quartiles per numeric field.
func Summarize(records []models.Record) models.Summary {
	summary := models.Summary{Count: len(records)}
	if len(records) == 0 {
		return summary
	}

	values := make([]float64, len(records))
	for _, f := range summaryFields {
		var total float64
		for i, r := range records {
			values[i] = f.get(r)
			total += values[i]
		}
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)

		summary.Fields = append(summary.Fields, models.FieldStats{
			Field:  f.name,
			Min:    sorted[0],
			Q1:     quantile(sorted, 0.25),
			Median: quantile(sorted, 0.5),
			Q3:     quantile(sorted, 0.75),
			Max:    sorted[len(sorted)-1],
			Mean:   total / float64(len(sorted)),
		})
	}
	return summary
}

// quantile interpolates linearly between the closest ranks of sorted.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// Trend returns one point per distinct date, ascending. Missing dates are
// not interpolated.
func Trend(records []models.Record) []models.TrendPoint {
	type acc struct {
		total float64
		count int
	}
	byDate := make(map[string]*acc)
	for _, r := range records {
		d := r.Date.String()
		if d == "" {
			continue
		}
		a, ok := byDate[d]
		if !ok {
			a = &acc{}
			byDate[d] = a
		}
		a.total += r.Price
		a.count++
	}

	points := make([]models.TrendPoint, 0, len(byDate))
	for d, a := range byDate {
		points = append(points, models.TrendPoint{
			Date:         d,
			MeanPrice:    a.total / float64(a.count),
			ListingCount: a.count,
		})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date < points[j].Date })
	return points
}

// Extremes returns the k most and least expensive records. Ties keep the
// original row order.
func Extremes(records []models.Record, k int) (top, bottom []models.Record) {
	if k <= 0 || len(records) == 0 {
		return nil, nil
	}

	desc := append([]models.Record(nil), records...)
	sort.SliceStable(desc, func(i, j int) bool { return desc[i].Price > desc[j].Price })
	asc := append([]models.Record(nil), records...)
	sort.SliceStable(asc, func(i, j int) bool { return asc[i].Price < asc[j].Price })

	if k > len(records) {
		k = len(records)
	}
	return desc[:k], asc[:k]
}

// FilterDateRange keeps records whose date lies in [from, to]. A zero bound is open.
func FilterDateRange(records []models.Record, from, to models.Date) []models.Record {
	out := make([]models.Record, 0, len(records))
	for _, r := range records {
		if !from.IsZero() && r.Date.Before(from.Time) {
			continue
		}
		if !to.IsZero() && r.Date.After(to.Time) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Print renders a report for a terminal.
func Print(w io.Writer, r *models.AnalysisReport) {
	sep := strings.Repeat("═", 60)
	thin := strings.Repeat("─", 60)

	title := "HISTORICAL ANALYSIS"
	if r.Scope == "daily" {
		title = "DAILY ANALYSIS " + r.Date
	}
	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  %s\033[0m\n", title)
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	fmt.Fprintf(w, "\033[1;33m  Overview\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Valid listings : \033[1m%d\033[0m\n", r.Summary.Count)
	if r.Scope == "daily" {
		fmt.Fprintf(w, "  Raw rows       : %d (rejected %d)\n", r.Raw, r.Rejected)
	}
	fmt.Fprintln(w)

	if len(r.Summary.Fields) > 0 {
		fmt.Fprintf(w, "\033[1;33m  Summary Statistics\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		fmt.Fprintf(w, "  %-10s %12s %12s %12s %12s\n", "field", "min", "median", "max", "mean")
		for _, f := range r.Summary.Fields {
			fmt.Fprintf(w, "  %-10s %12.2f %12.2f %12.2f %12.2f\n", f.Field, f.Min, f.Median, f.Max, f.Mean)
		}
		fmt.Fprintln(w)
	}

	if len(r.Trend) > 0 {
		fmt.Fprintf(w, "\033[1;33m  Price and Listings Over Time\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		for _, p := range r.Trend {
			bar := strings.Repeat("█", min(p.ListingCount, 40))
			fmt.Fprintf(w, "  %s  $%12.0f  %s (%d)\n", p.Date, p.MeanPrice, bar, p.ListingCount)
		}
		fmt.Fprintln(w)
	}

	printListings(w, "Most Expensive Listings", r.Top, thin)
	printListings(w, "Cheapest Listings", r.Bottom, thin)

	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)
}

func printListings(w io.Writer, title string, listings []models.Record, thin string) {
	fmt.Fprintf(w, "\033[1;33m  %s\033[0m\n", title)
	fmt.Fprintf(w, "  %s\n", thin)
	if len(listings) == 0 {
		fmt.Fprintf(w, "  No listings\n\n")
		return
	}
	for i, l := range listings {
		fmt.Fprintf(w, "  \033[1m%d.\033[0m %-40s \033[1;32m$%.0f\033[0m  %gbd/%gba %.0fsqft\n",
			i+1, truncate(l.Address, 38), l.Price, l.Beds, l.Baths, l.LivingArea)
	}
	fmt.Fprintln(w)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
