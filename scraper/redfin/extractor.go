package redfin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"redfin-tracker/models"
	"redfin-tracker/scraper/browser"
	"redfin-tracker/utils"
)

// ExtractionError is any failure between acquiring a session and holding the
// page rows: navigation, the hard timeout, or parsing.
type ExtractionError struct {
	URL string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.URL, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Extractor captures one page of search results per run.
type Extractor struct {
	sessions browser.Provider
	retry    *utils.RetryConfig
	timeout  time.Duration
	logger   *utils.Logger
}

func NewExtractor(sessions browser.Provider, retry *utils.RetryConfig, timeout time.Duration, logger *utils.Logger) *Extractor {
	return &Extractor{
		sessions: sessions,
		retry:    retry,
		timeout:  timeout,
		logger:   logger,
	}
}

type extraction struct {
	rows []models.Observation
	err  error
}

// Run opens one session, loads targetURL and returns its rows stamped with
// date. A page with no cards is an empty snapshot, not an error. The whole run,
// retries included, is bounded by the extractor timeout.
func (e *Extractor) Run(ctx context.Context, targetURL string, date models.Date) (*models.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	e.logger.Info("[redfin] Extracting %s for %s", targetURL, date)

	done := make(chan extraction, 1)
	go func() {
		var res extraction
		defer func() {
			if r := recover(); r != nil {
				res = extraction{err: fmt.Errorf("panic during extraction: %v", r)}
			}
			done <- res
		}()
		res.err = browser.WithSession(ctx, e.sessions, func(s browser.Session) error {
			return e.retry.Do(ctx, "extract-listings", func(ctx context.Context) error {
				if err := s.Navigate(targetURL); err != nil {
					return err
				}
				if err := s.Wait(); err != nil {
					return err
				}
				rows, err := s.ExtractRawRows()
				if err != nil {
					return err
				}
				res.rows = rows
				return nil
			})
		})
	}()

	var res extraction
	select {
	case res = <-done:
	case <-ctx.Done():
		// the session goroutine releases on its own once chromedp sees ctx
		e.logger.Error("[redfin] Extraction exceeded %v", e.timeout)
		return nil, &ExtractionError{URL: targetURL, Err: fmt.Errorf("no result within %v: %w", e.timeout, ctx.Err())}
	}

	if res.err != nil {
		var initErr *browser.DriverInitializationError
		if errors.As(res.err, &initErr) {
			return nil, res.err
		}
		e.logger.Error("[redfin] Extraction failed: %v", res.err)
		return nil, &ExtractionError{URL: targetURL, Err: res.err}
	}

	snap := &models.Snapshot{
		Date:         date,
		SourceURL:    targetURL,
		Observations: make([]models.Observation, 0, len(res.rows)),
	}
	for _, row := range res.rows {
		row.Date = date.String()
		snap.Observations = append(snap.Observations, row)
	}

	if snap.Empty() {
		e.logger.Warn("[redfin] No listing cards found on %s", targetURL)
	}
	e.logger.Info("[redfin] Extracted %d rows in %v", len(snap.Observations), time.Since(start).Round(time.Millisecond))
	return snap, nil
}
