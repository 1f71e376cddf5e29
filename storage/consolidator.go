package storage

import (
	"context"
	"errors"
	"sync"

	"redfin-tracker/models"
	"redfin-tracker/utils"
)

// Keyed is a row with a natural (address, date) key.
type Keyed interface {
	Key() models.Key
}

// RecordMirror receives the cleaned rows after they reach the cleaned master.
type RecordMirror interface {
	Upsert(ctx context.Context, records []models.Record) error
}

// MergeStats reports row counts of one master merge.
type MergeStats struct {
	Before   int
	Incoming int
	After    int
}

// Merge returns incoming unioned with every existing row whose key is not in
// incoming. Incoming rows win on collision; within incoming the last row
// for a key wins. Retained history keeps its order and comes first.
func Merge[T Keyed](existing, incoming []T) []T {
	last := make(map[models.Key]int, len(incoming))
	for i, row := range incoming {
		last[row.Key()] = i
	}

	out := make([]T, 0, len(existing)+len(last))
	for _, row := range existing {
		if _, hit := last[row.Key()]; !hit {
			out = append(out, row)
		}
	}
	for i, row := range incoming {
		if last[row.Key()] == i {
			out = append(out, row)
		}
	}
	return out
}

// Consolidator is the only writer of the dataset files. Each merge reads the
// current master right before merging and replaces it atomically.
type Consolidator struct {
	layout Layout
	logger *utils.Logger
	mirror RecordMirror

	mu sync.Mutex
}

func NewConsolidator(layout Layout, logger *utils.Logger) *Consolidator {
	return &Consolidator{layout: layout, logger: logger}
}

// WithMirror attaches an optional mirror for the cleaned master.
func (c *Consolidator) WithMirror(m RecordMirror) *Consolidator {
	c.mirror = m
	return c
}

func (c *Consolidator) Layout() Layout {
	return c.layout
}

// MergeRaw persists the raw daily snapshot and merges it into the raw master.
// An empty snapshot is still written so the day is recorded.
func (c *Consolidator) MergeRaw(ctx context.Context, snap *models.Snapshot) (MergeStats, error) {
	rows := make([]models.Observation, len(snap.Observations))
	for i, o := range snap.Observations {
		if o.Date == "" {
			o.Date = snap.Date.String()
		}
		rows[i] = o
	}

	if err := ctx.Err(); err != nil {
		return MergeStats{}, err
	}

	daily := c.layout.RawSnapshotPath(snap.Date)
	if err := writeCSVAtomic(daily, rows); err != nil {
		return MergeStats{}, err
	}
	c.logger.Info("[consolidator] Saved daily data: %s (%d rows)", daily, len(rows))

	return mergeInto(c, c.layout.RawMasterPath(), rows)
}

// MergeCleaned persists the cleaned daily snapshot and merges it into the
// cleaned master, then forwards the rows to the mirror if one is set.
func (c *Consolidator) MergeCleaned(ctx context.Context, date models.Date, records []models.Record) (MergeStats, error) {
	if err := ctx.Err(); err != nil {
		return MergeStats{}, err
	}

	daily := c.layout.CleanedSnapshotPath(date)
	if err := writeCSVAtomic(daily, records); err != nil {
		return MergeStats{}, err
	}
	c.logger.Info("[consolidator] Saved cleaned daily data: %s (%d rows)", daily, len(records))

	stats, err := mergeInto(c, c.layout.CleanedMasterPath(), records)
	if err != nil {
		return stats, err
	}

	if c.mirror != nil && len(records) > 0 {
		if err := c.mirror.Upsert(ctx, Merge(nil, records)); err != nil {
			c.logger.Warn("[consolidator] Mirror update failed, CSV master is unaffected: %v", err)
		} else {
			c.logger.Info("[consolidator] Mirrored %d cleaned rows", len(records))
		}
	}
	return stats, nil
}

func mergeInto[T Keyed](c *Consolidator, path string, incoming []T) (MergeStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := readCSV[T](path)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return MergeStats{}, err
	}

	merged := Merge(existing, incoming)
	if err := writeCSVAtomic(path, merged); err != nil {
		return MergeStats{}, err
	}

	stats := MergeStats{Before: len(existing), Incoming: len(incoming), After: len(merged)}
	c.logger.Info("[consolidator] Updated master %s: %d → %d rows (%d incoming)",
		path, stats.Before, stats.After, stats.Incoming)
	return stats, nil
}

// LoadRawSnapshot reads the raw daily snapshot of date.
func (c *Consolidator) LoadRawSnapshot(date models.Date) ([]models.Observation, error) {
	return readCSV[models.Observation](c.layout.RawSnapshotPath(date))
}

// LoadRawMaster reads the raw historical master.
func (c *Consolidator) LoadRawMaster() ([]models.Observation, error) {
	return readCSV[models.Observation](c.layout.RawMasterPath())
}

// LoadCleanedSnapshot reads the cleaned daily snapshot of date.
func (c *Consolidator) LoadCleanedSnapshot(date models.Date) ([]models.Record, error) {
	return readCSV[models.Record](c.layout.CleanedSnapshotPath(date))
}

// LoadCleanedMaster reads the cleaned historical master.
func (c *Consolidator) LoadCleanedMaster() ([]models.Record, error) {
	return readCSV[models.Record](c.layout.CleanedMasterPath())
}

// SnapshotDates lists dates with a raw daily snapshot, newest first.
func (c *Consolidator) SnapshotDates() ([]string, error) {
	return c.layout.SnapshotDates()
}
