package jobs

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"redfin-tracker/models"
	"redfin-tracker/scraper/redfin"
	"redfin-tracker/services"
	"redfin-tracker/storage"
	"redfin-tracker/utils"
)

func newTestLogger() *utils.Logger { return utils.NewWriterLogger(&bytes.Buffer{}) }

func mustDate(t *testing.T, s string) models.Date {
	t.Helper()
	d, err := models.ParseDate(s)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

type stubExtractor struct {
	rows []models.Observation
	err  error
}

func (e *stubExtractor) Run(_ context.Context, url string, date models.Date) (*models.Snapshot, error) {
	if e.err != nil {
		return nil, e.err
	}
	snap := &models.Snapshot{Date: date, SourceURL: url}
	for _, r := range e.rows {
		r.Date = date.String()
		snap.Observations = append(snap.Observations, r)
	}
	return snap, nil
}

func listing(addr, price string) models.Observation {
	return models.Observation{
		Address: addr, Price: price, Beds: "3 Beds", Baths: "2 Baths", SqFt: "1,500",
		Latitude: "34.1", Longitude: "-118.3", Link: "https://www.redfin.com/home/" + addr,
	}
}

type pipeline struct {
	runner  *Runner
	scrape  *ScrapeJob
	analyze *AnalyzeJob
	store   *storage.Consolidator
}

func newPipeline(t *testing.T, ex Extractor) pipeline {
	t.Helper()
	logger := newTestLogger()
	store := storage.NewConsolidator(storage.Layout{Dir: t.TempDir(), Dataset: "redfin_test"}, logger)
	analyzer := services.NewAnalyzer(store, services.NewNormalizer(logger), logger)
	return pipeline{
		runner:  NewRunner(logger),
		scrape:  NewScrapeJob(ex, store, "https://www.redfin.com/neighborhood/547223", logger),
		analyze: NewAnalyzeJob(analyzer, logger),
		store:   store,
	}
}

func TestScrapeThenAnalyzeSameDate(t *testing.T) {
	ex := &stubExtractor{rows: []models.Observation{
		listing("A", "$1,000,000"), listing("B", "$2,500,000"), listing("C", "N/A"),
	}}
	p := newPipeline(t, ex)
	ctx := context.Background()
	d := mustDate(t, "2025-03-01")

	res, err := p.runner.Run(ctx, p.scrape, d)
	if err != nil || !res.Succeeded() {
		t.Fatalf("scrape: %+v, err %v", res, err)
	}
	if res.Scraped != 3 || res.MasterAfter != 3 || res.RunID == "" {
		t.Errorf("scrape result: %+v", res)
	}

	res, err = p.runner.Run(ctx, p.analyze, d)
	if err != nil || !res.Succeeded() {
		t.Fatalf("analyze: %+v, err %v", res, err)
	}
	if res.Accepted != 2 || res.Rejected != 1 || len(res.Reports) != 2 {
		t.Errorf("analyze result: %+v", res)
	}

	master, err := p.store.LoadCleanedMaster()
	if err != nil {
		t.Fatal(err)
	}
	var onDate int
	for _, r := range master {
		if r.Date.String() == "2025-03-01" {
			onDate++
		}
	}
	if onDate != 2 {
		t.Errorf("cleaned master has %d rows for D, want 2", onDate)
	}
}

func TestScrapeFailureLeavesMasterUntouched(t *testing.T) {
	ex := &stubExtractor{rows: []models.Observation{listing("A", "$1")}}
	p := newPipeline(t, ex)
	ctx := context.Background()

	if res, _ := p.runner.Run(ctx, p.scrape, mustDate(t, "2025-03-01")); !res.Succeeded() {
		t.Fatalf("first scrape failed: %s", res.Reason)
	}
	before, err := os.ReadFile(p.store.Layout().RawMasterPath())
	if err != nil {
		t.Fatal(err)
	}

	ex.err = &redfin.ExtractionError{URL: "https://www.redfin.com", Err: errors.New("net::ERR_TIMED_OUT")}
	res, err := p.runner.Run(ctx, p.scrape, mustDate(t, "2025-03-02"))
	if err != nil {
		t.Fatalf("runner returned error: %v", err)
	}
	if res.Status != StatusFailed || !strings.Contains(res.Reason, "ERR_TIMED_OUT") {
		t.Errorf("expected failed result with cause, got %+v", res)
	}

	after, _ := os.ReadFile(p.store.Layout().RawMasterPath())
	if !bytes.Equal(before, after) {
		t.Error("raw master changed after failed scrape")
	}
	if _, err := os.Stat(p.store.Layout().RawSnapshotPath(mustDate(t, "2025-03-02"))); !os.IsNotExist(err) {
		t.Errorf("daily snapshot written for failed scrape: %v", err)
	}
}

func TestAnalyzeWithoutSnapshotFails(t *testing.T) {
	p := newPipeline(t, &stubExtractor{})
	res, err := p.runner.Run(context.Background(), p.analyze, mustDate(t, "2025-03-01"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusFailed || !strings.Contains(res.Reason, services.ErrNoData.Error()) {
		t.Errorf("expected no-data failure, got %+v", res)
	}
}

func TestEmptyScrapeStillAnalyzes(t *testing.T) {
	p := newPipeline(t, &stubExtractor{})
	ctx := context.Background()
	d := mustDate(t, "2025-03-01")

	if res, _ := p.runner.Run(ctx, p.scrape, d); !res.Succeeded() || res.Scraped != 0 {
		t.Fatalf("empty scrape: %+v", res)
	}
	res, _ := p.runner.Run(ctx, p.analyze, d)
	if !res.Succeeded() {
		t.Fatalf("analyze after empty scrape: %s", res.Reason)
	}
	if len(res.Reports) != 1 {
		t.Errorf("history report should be skipped on empty master, got %d reports", len(res.Reports))
	}
}

type funcJob struct {
	name string
	fn   func(ctx context.Context, date models.Date, res *Result) error
}

func (j funcJob) Name() string { return j.name }
func (j funcJob) Execute(ctx context.Context, date models.Date, res *Result) error {
	return j.fn(ctx, date, res)
}

func TestRunnerRecoversPanic(t *testing.T) {
	r := NewRunner(newTestLogger())
	job := funcJob{name: "boom", fn: func(context.Context, models.Date, *Result) error {
		panic("nil map write")
	}}

	res, err := r.Run(context.Background(), job, mustDate(t, "2025-03-01"))
	if err != nil {
		t.Fatalf("panic escaped as error: %v", err)
	}
	if res.Status != StatusFailed || !strings.Contains(res.Reason, "nil map write") {
		t.Errorf("unexpected result: %+v", res)
	}
	if r.Busy("boom") {
		t.Error("lock not released after panic")
	}
}

func TestRunnerSingleRunPerJob(t *testing.T) {
	r := NewRunner(newTestLogger())
	started := make(chan struct{})
	release := make(chan struct{})
	slow := funcJob{name: "scrape", fn: func(context.Context, models.Date, *Result) error {
		close(started)
		<-release
		return nil
	}}
	other := funcJob{name: "analyze", fn: func(context.Context, models.Date, *Result) error { return nil }}

	done := make(chan Result)
	go func() {
		res, _ := r.Run(context.Background(), slow, mustDate(t, "2025-03-01"))
		done <- res
	}()
	<-started

	if _, err := r.Run(context.Background(), slow, mustDate(t, "2025-03-01")); !errors.Is(err, ErrJobBusy) {
		t.Errorf("expected ErrJobBusy, got %v", err)
	}
	if res, err := r.Run(context.Background(), other, mustDate(t, "2025-03-01")); err != nil || !res.Succeeded() {
		t.Errorf("other job type should run concurrently: %+v %v", res, err)
	}

	close(release)
	if res := <-done; !res.Succeeded() {
		t.Errorf("slow job: %+v", res)
	}
	if r.Busy("scrape") {
		t.Error("lock not released")
	}
}

func TestNextRun(t *testing.T) {
	la, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	tests := []struct {
		name string
		now  time.Time
		hour int
		want time.Time
	}{
		{"before hour", time.Date(2025, 3, 1, 5, 30, 0, 0, la), 6, time.Date(2025, 3, 1, 6, 0, 0, 0, la)},
		{"exactly at hour", time.Date(2025, 3, 1, 6, 0, 0, 0, la), 6, time.Date(2025, 3, 2, 6, 0, 0, 0, la)},
		{"after hour", time.Date(2025, 3, 1, 7, 0, 0, 0, la), 6, time.Date(2025, 3, 2, 6, 0, 0, 0, la)},
		{"month end", time.Date(2025, 3, 31, 23, 0, 0, 0, la), 7, time.Date(2025, 4, 1, 7, 0, 0, 0, la)},
		{"dst start", time.Date(2025, 3, 8, 12, 0, 0, 0, la), 6, time.Date(2025, 3, 9, 6, 0, 0, 0, la)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextRun(tt.now, tt.hour); !got.Equal(tt.want) {
				t.Errorf("NextRun(%v, %d) = %v, want %v", tt.now, tt.hour, got, tt.want)
			}
		})
	}
}

// manualClock hands out one tick channel per wait so the test decides when
// each trigger fires.
type manualClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
	ticks chan time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	c.mu.Unlock()
	return c.ticks
}

// set moves the clock once the scheduler has started its n-th wait.
func (c *manualClock) set(t *testing.T, n int, now time.Time) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		c.mu.Lock()
		if len(c.waits) >= n {
			c.now = now
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatalf("scheduler never started wait %d", n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSchedulerFiresAndSurvivesFailures(t *testing.T) {
	clock := &manualClock{now: time.Date(2025, 3, 1, 5, 0, 0, 0, time.UTC), ticks: make(chan time.Time)}

	var mu sync.Mutex
	var dates []string
	failing := funcJob{name: "scrape", fn: func(_ context.Context, d models.Date, _ *Result) error {
		mu.Lock()
		dates = append(dates, d.String())
		mu.Unlock()
		return errors.New("site down")
	}}

	results := make(chan Result, 4)
	s := NewScheduler(NewRunner(newTestLogger()), time.UTC, newTestLogger(), Trigger{Hour: 6, Job: failing})
	s.now = clock.Now
	s.after = clock.After
	s.NotifyResults(results)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(stopped)
	}()

	for i := 0; i < 2; i++ {
		clock.ticks <- clock.Now()
		select {
		case res := <-results:
			if res.Status != StatusFailed {
				t.Errorf("tick %d: status %s", i, res.Status)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %d: job did not run", i)
		}
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(dates) != 2 || dates[0] != "2025-03-01" || dates[1] != "2025-03-02" {
		t.Errorf("runs: %v", dates)
	}
	clock.mu.Lock()
	defer clock.mu.Unlock()
	if len(clock.waits) < 2 || clock.waits[0] != time.Hour || clock.waits[1] != 25*time.Hour {
		t.Errorf("waits: %v, want 1h then 25h", clock.waits)
	}
}

func TestSchedulerEarlyWakeKeepsOneRunPerDay(t *testing.T) {
	clock := &manualClock{now: time.Date(2025, 3, 1, 5, 0, 0, 0, time.UTC), ticks: make(chan time.Time)}

	var mu sync.Mutex
	var dates []string
	job := funcJob{name: "scrape", fn: func(_ context.Context, d models.Date, _ *Result) error {
		mu.Lock()
		dates = append(dates, d.String())
		mu.Unlock()
		return nil
	}}

	results := make(chan Result, 4)
	s := NewScheduler(NewRunner(newTestLogger()), time.UTC, newTestLogger(), Trigger{Hour: 6, Job: job})
	s.now = clock.Now
	s.after = clock.After
	s.NotifyResults(results)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(stopped)
	}()

	// the timer fires while the wall clock still reads 05:59:59.9
	early := time.Date(2025, 3, 1, 5, 59, 59, 900_000_000, time.UTC)
	clock.set(t, 1, early)
	clock.ticks <- early
	select {
	case <-results:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}

	clock.set(t, 2, time.Date(2025, 3, 2, 6, 0, 0, 0, time.UTC))
	clock.ticks <- clock.Now()
	select {
	case <-results:
	case <-time.After(2 * time.Second):
		t.Fatal("second day did not run")
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(dates) != 2 || dates[0] != "2025-03-01" || dates[1] != "2025-03-02" {
		t.Errorf("runs: %v, want one per day", dates)
	}
	clock.mu.Lock()
	defer clock.mu.Unlock()
	if len(clock.waits) < 2 || clock.waits[1] != 24*time.Hour+100*time.Millisecond {
		t.Errorf("waits: %v, second should run to the next day's slot", clock.waits)
	}
}
