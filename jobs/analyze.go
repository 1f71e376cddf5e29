package jobs

import (
	"context"
	"errors"
	"fmt"

	"redfin-tracker/models"
	"redfin-tracker/services"
	"redfin-tracker/utils"
)

// Analyzer produces the daily and historical reports.
type Analyzer interface {
	AnalyzeDate(ctx context.Context, date models.Date) (*models.AnalysisReport, error)
	AnalyzeHistory(ctx context.Context) (*models.AnalysisReport, error)
}

// AnalyzeJob cleans the day's raw snapshot into the cleaned master, then
// reports on the whole history.
type AnalyzeJob struct {
	analyzer Analyzer
	logger   *utils.Logger
}

func NewAnalyzeJob(analyzer Analyzer, logger *utils.Logger) *AnalyzeJob {
	return &AnalyzeJob{analyzer: analyzer, logger: logger}
}

func (j *AnalyzeJob) Name() string { return AnalyzeJobName }

func (j *AnalyzeJob) Execute(ctx context.Context, date models.Date, res *Result) error {
	daily, err := j.analyzer.AnalyzeDate(ctx, date)
	if err != nil {
		return fmt.Errorf("analyze %s: %w", date, err)
	}
	res.Scraped = daily.Raw
	res.Accepted = daily.Summary.Count
	res.Rejected = daily.Rejected
	res.Reports = append(res.Reports, daily)

	history, err := j.analyzer.AnalyzeHistory(ctx)
	switch {
	case errors.Is(err, services.ErrNoData):
		// nothing accepted yet on any day
		j.logger.Warn("[analyze] Cleaned master is empty, skipping history")
		return nil
	case err != nil:
		return fmt.Errorf("analyze history: %w", err)
	}
	res.MasterAfter = history.Summary.Count
	res.Reports = append(res.Reports, history)
	return nil
}
