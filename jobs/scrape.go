package jobs

import (
	"context"
	"fmt"

	"redfin-tracker/models"
	"redfin-tracker/storage"
	"redfin-tracker/utils"
)

const (
	ScrapeJobName  = "scrape"
	AnalyzeJobName = "analyze"
)

// Extractor captures a snapshot of the target page.
type Extractor interface {
	Run(ctx context.Context, targetURL string, date models.Date) (*models.Snapshot, error)
}

// RawStore merges raw snapshots into the raw master.
type RawStore interface {
	MergeRaw(ctx context.Context, snap *models.Snapshot) (storage.MergeStats, error)
}

// ScrapeJob extracts today's listings and merges them into the raw master.
// An extraction failure leaves the stored datasets untouched.
type ScrapeJob struct {
	extractor Extractor
	store     RawStore
	targetURL string
	logger    *utils.Logger
}

func NewScrapeJob(extractor Extractor, store RawStore, targetURL string, logger *utils.Logger) *ScrapeJob {
	return &ScrapeJob{extractor: extractor, store: store, targetURL: targetURL, logger: logger}
}

func (j *ScrapeJob) Name() string { return ScrapeJobName }

func (j *ScrapeJob) Execute(ctx context.Context, date models.Date, res *Result) error {
	snap, err := j.extractor.Run(ctx, j.targetURL, date)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	res.Scraped = len(snap.Observations)
	j.logger.Info("[scrape] Scraped %d listings for %s", res.Scraped, date)

	stats, err := j.store.MergeRaw(ctx, snap)
	if err != nil {
		return fmt.Errorf("merge raw: %w", err)
	}
	res.MasterBefore, res.MasterAfter = stats.Before, stats.After
	return nil
}
