package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"redfin-tracker/models"
)

// Layout names the dataset files under one data directory:
//
//	{dataset}_{YYYY-MM-DD}.csv          raw daily snapshot
//	{dataset}_master.csv                raw historical master
//	{dataset}_cleaned_{YYYY-MM-DD}.csv  cleaned daily snapshot
//	{dataset}_master_cleaned.csv        cleaned historical master
type Layout struct {
	Dir     string
	Dataset string
}

func (l Layout) RawSnapshotPath(date models.Date) string {
	return filepath.Join(l.Dir, fmt.Sprintf("%s_%s.csv", l.Dataset, date))
}

func (l Layout) RawMasterPath() string {
	return filepath.Join(l.Dir, l.Dataset+"_master.csv")
}

func (l Layout) CleanedSnapshotPath(date models.Date) string {
	return filepath.Join(l.Dir, fmt.Sprintf("%s_cleaned_%s.csv", l.Dataset, date))
}

func (l Layout) CleanedMasterPath() string {
	return filepath.Join(l.Dir, l.Dataset+"_master_cleaned.csv")
}

// SnapshotDates lists the dates that have a raw daily snapshot, newest first.
func (l Layout) SnapshotDates() ([]string, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &PersistenceError{Op: "list", Path: l.Dir, Err: err}
	}

	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(l.Dataset) + `_(\d{4}-\d{2}-\d{2})\.csv$`)
	var dates []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := pattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		if _, err := models.ParseDate(m[1]); err != nil {
			continue
		}
		dates = append(dates, m[1])
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates, nil
}
