package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"redfin-tracker/config"
	"redfin-tracker/handlers"
	"redfin-tracker/jobs"
	"redfin-tracker/models"
	"redfin-tracker/scraper/browser"
	"redfin-tracker/scraper/redfin"
	"redfin-tracker/services"
	"redfin-tracker/storage"
	"redfin-tracker/utils"
)

const usage = `usage: redfin-tracker <command> [flags]

commands:
  scrape                       capture today's listings into the raw master
  analyze [-date YYYY-MM-DD]   clean a day's snapshot and report on it and the history
  analyze -history             report on the cleaned master without writing
  schedule                     run scrape and analyze daily (and the API if HTTP_ADDR is set)
  serve                        run the HTTP API only
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	a, err := newApp(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}

	var code int
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "scrape":
		code = a.scrapeOnce(ctx)
	case "analyze":
		code = a.analyzeOnce(ctx, args)
	case "schedule":
		code = a.schedule(ctx)
	case "serve":
		code = a.serve(ctx)
	default:
		fmt.Fprint(os.Stderr, usage)
		code = 2
	}

	a.close()
	os.Exit(code)
}

// app wires every component once at startup; nothing is reconfigured later.
type app struct {
	cfg *config.Config

	scrapeLog    *utils.Logger
	analyzeLog   *utils.Logger
	schedulerLog *utils.Logger
	serverLog    *utils.Logger

	store    *storage.Consolidator
	mirror   *storage.PostgresWriter
	analyzer *services.Analyzer
	runner   *jobs.Runner
	scrape   *jobs.ScrapeJob
	analyze  *jobs.AnalyzeJob
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	for _, l := range []struct {
		component string
		dst       **utils.Logger
	}{
		{"scraper", &a.scrapeLog},
		{"analyze", &a.analyzeLog},
		{"scheduler", &a.schedulerLog},
		{"server", &a.serverLog},
	} {
		logger, err := utils.NewFileLogger(cfg.LogDir, l.component)
		if err != nil {
			a.close()
			return nil, err
		}
		*l.dst = logger
	}

	scraperFile, err := config.LoadScraperFile(cfg.ScraperConfig)
	if err != nil {
		a.close()
		return nil, err
	}
	identities, err := browser.NewRandomPool(scraperFile.Identities)
	if err != nil {
		a.close()
		return nil, err
	}

	// the raw master is only written by scrape runs, the cleaned master only
	// by analyze runs; each gets a consolidator logging to its own component
	layout := storage.Layout{Dir: cfg.DataDir, Dataset: cfg.DatasetName}
	rawStore := storage.NewConsolidator(layout, a.scrapeLog)
	a.store = storage.NewConsolidator(layout, a.analyzeLog)
	if cfg.PostgresEnabled {
		pg, err := storage.NewPostgresWriter(ctx, cfg.DSN())
		if err != nil {
			a.analyzeLog.Warn("PostgreSQL mirror disabled: %v", err)
		} else {
			a.mirror = pg
			a.store.WithMirror(pg)
			a.analyzeLog.Info("PostgreSQL mirror enabled (table: listing_history)")
		}
	}

	waitMin, waitMax := cfg.WaitRange()
	sessions := browser.NewManager(browser.Options{
		Headless:           cfg.Headless,
		SuppressAutomation: true,
		ChromeBin:          cfg.ChromeBin,
		WaitMin:            waitMin,
		WaitMax:            waitMax,
	}, identities, redfin.NewCardParser(scraperFile.Selectors, a.scrapeLog), a.scrapeLog)

	retry := &utils.RetryConfig{MaxAttempts: cfg.MaxRetries, BaseDelay: cfg.RetryBaseDelay, Logger: a.scrapeLog}
	extractor := redfin.NewExtractor(sessions, retry, cfg.JobTimeout(), a.scrapeLog)

	a.analyzer = services.NewAnalyzer(a.store, services.NewNormalizer(a.analyzeLog), a.analyzeLog)
	a.runner = jobs.NewRunner(a.schedulerLog)
	a.scrape = jobs.NewScrapeJob(extractor, rawStore, cfg.TargetURL, a.scrapeLog)
	a.analyze = jobs.NewAnalyzeJob(a.analyzer, a.analyzeLog)
	return a, nil
}

func (a *app) today() models.Date {
	return models.NewDate(time.Now().In(a.cfg.Location()))
}

func (a *app) scrapeOnce(ctx context.Context) int {
	a.scrapeLog.Info("=== Redfin scrape starting — target: %s ===", a.cfg.TargetURL)
	res, err := a.runner.Run(ctx, a.scrape, a.today())
	if err != nil {
		a.scrapeLog.Error("%v", err)
		return 1
	}
	return report(res)
}

func (a *app) analyzeOnce(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	dateFlag := fs.String("date", "", "snapshot date (YYYY-MM-DD), defaults to today")
	history := fs.Bool("history", false, "report on the cleaned master only")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *history {
		r, err := a.analyzer.AnalyzeHistory(ctx)
		if err != nil {
			a.analyzeLog.Error("Historical analysis failed: %v", err)
			return 1
		}
		services.Print(os.Stdout, r)
		return 0
	}

	date := a.today()
	if *dateFlag != "" {
		d, err := models.ParseDate(*dateFlag)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		date = d
	}

	res, err := a.runner.Run(ctx, a.analyze, date)
	if err != nil {
		a.analyzeLog.Error("%v", err)
		return 1
	}
	for _, r := range res.Reports {
		services.Print(os.Stdout, r)
	}
	return report(res)
}

func (a *app) schedule(ctx context.Context) int {
	loc := a.cfg.Location()
	sched := jobs.NewScheduler(a.runner, loc, a.schedulerLog,
		jobs.Trigger{Hour: a.cfg.ScrapeHour, Job: a.scrape},
		jobs.Trigger{Hour: a.cfg.AnalyzeHour(), Job: a.analyze},
	)
	a.schedulerLog.Info("=== Scheduler starting — scrape at %02d:00, analyze at %02d:00 (%s) ===",
		a.cfg.ScrapeHour, a.cfg.AnalyzeHour(), loc)

	serverDone := make(chan int, 1)
	if a.cfg.HTTPAddr != "" {
		go func() { serverDone <- a.serve(ctx) }()
	} else {
		serverDone <- 0
	}

	sched.Start(ctx)
	return <-serverDone
}

func (a *app) serve(ctx context.Context) int {
	h := handlers.NewAPIHandler(a.runner, a.scrape, a.analyze, a.store, a.cfg.Location(), a.serverLog)
	if a.mirror != nil {
		h.WithMirror(a.mirror)
	}
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           h.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.serverLog.Info("Server running on %s", a.cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			a.serverLog.Error("Server failed: %v", err)
			return 1
		}
		return 0
	case <-ctx.Done():
	}

	// scrape requests can hold the connection for the whole job timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.JobTimeout()+30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.serverLog.Error("Server shutdown: %v", err)
		return 1
	}
	a.serverLog.Info("Server stopped")
	return 0
}

func (a *app) close() {
	if a.mirror != nil {
		_ = a.mirror.Close()
	}
	for _, l := range []*utils.Logger{a.scrapeLog, a.analyzeLog, a.schedulerLog, a.serverLog} {
		if l != nil {
			_ = l.Close()
		}
	}
}

// report prints the outcome line of an ad-hoc run and returns the exit code.
func report(res jobs.Result) int {
	if !res.Succeeded() {
		fmt.Printf("\n  \033[1;31m✗ %s %s failed:\033[0m %s\n\n", res.Job, res.Date, res.Reason)
		return 1
	}
	fmt.Printf("\n  \033[1;32m✓ %s %s done\033[0m (run %s) — scraped %d, accepted %d, rejected %d, master %d → %d\n\n",
		res.Job, res.Date, res.RunID, res.Scraped, res.Accepted, res.Rejected, res.MasterBefore, res.MasterAfter)
	return 0
}
