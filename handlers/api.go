package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"redfin-tracker/jobs"
	"redfin-tracker/models"
	"redfin-tracker/services"
	"redfin-tracker/storage"
	"redfin-tracker/utils"
)

// Dataset is the read side of the stored datasets.
type Dataset interface {
	SnapshotDates() ([]string, error)
	LoadCleanedSnapshot(date models.Date) ([]models.Record, error)
	LoadCleanedMaster() ([]models.Record, error)
}

// MirrorStats reports row counts of the database mirror.
type MirrorStats interface {
	CountByDate(ctx context.Context) (map[string]int, error)
}

// APIHandler is the ad-hoc admin surface: trigger jobs and read results.
// It never writes datasets except through jobs.
type APIHandler struct {
	runner  *jobs.Runner
	scrape  jobs.Job
	analyze jobs.Job
	dataset Dataset
	mirror  MirrorStats
	logger  *utils.Logger
	today   func() models.Date
}

func NewAPIHandler(runner *jobs.Runner, scrape, analyze jobs.Job, dataset Dataset, loc *time.Location, logger *utils.Logger) *APIHandler {
	return &APIHandler{
		runner:  runner,
		scrape:  scrape,
		analyze: analyze,
		dataset: dataset,
		logger:  logger,
		today:   func() models.Date { return models.NewDate(time.Now().In(loc)) },
	}
}

// WithMirror exposes mirror row counts at /api/mirror.
func (h *APIHandler) WithMirror(m MirrorStats) *APIHandler {
	h.mirror = m
	return h
}

func (h *APIHandler) RegisterRoutes(r *mux.Router) {
	// routes stay flat on r: behind r.Use a subrouter answers a wrong method with 404
	r.Use(h.logRequests)
	r.HandleFunc("/api/health", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs/scrape", h.handleScrape).Methods(http.MethodPost)
	r.HandleFunc("/api/jobs/analyze", h.handleAnalyze).Methods(http.MethodPost)
	r.HandleFunc("/api/dates", h.handleDates).Methods(http.MethodGet)
	r.HandleFunc("/api/summary", h.handleSummary).Methods(http.MethodGet)
	r.HandleFunc("/api/trend", h.handleTrend).Methods(http.MethodGet)
	r.HandleFunc("/api/mirror", h.handleMirror).Methods(http.MethodGet)
}

// NewRouter returns a router with every API route registered.
func (h *APIHandler) NewRouter() *mux.Router {
	r := mux.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func (h *APIHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"scrape_running":  h.runner.Busy(h.scrape.Name()),
		"analyze_running": h.runner.Busy(h.analyze.Name()),
	})
}

func (h *APIHandler) handleScrape(w http.ResponseWriter, r *http.Request) {
	h.runJob(w, r, h.scrape, h.today())
}

func (h *APIHandler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	date, ok := h.dateParam(w, r, "date")
	if !ok {
		return
	}
	if date.IsZero() {
		date = h.today()
	}
	h.runJob(w, r, h.analyze, date)
}

func (h *APIHandler) runJob(w http.ResponseWriter, r *http.Request, job jobs.Job, date models.Date) {
	// a dropped client must not abort a half-written merge
	res, err := h.runner.Run(context.WithoutCancel(r.Context()), job, date)
	if errors.Is(err, jobs.ErrJobBusy) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	status := http.StatusOK
	if !res.Succeeded() {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, res)
}

func (h *APIHandler) handleDates(w http.ResponseWriter, r *http.Request) {
	dates, err := h.dataset.SnapshotDates()
	if err != nil {
		h.logger.Error("[api] List snapshot dates: %v", err)
		writeError(w, http.StatusInternalServerError, "could not list snapshots")
		return
	}
	if dates == nil {
		dates = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"dates": dates})
}

// handleSummary reports on one cleaned daily snapshot, or on the cleaned
// master when no date is given.
func (h *APIHandler) handleSummary(w http.ResponseWriter, r *http.Request) {
	date, ok := h.dateParam(w, r, "date")
	if !ok {
		return
	}

	var (
		records []models.Record
		err     error
		report  = &models.AnalysisReport{Scope: "history"}
	)
	if date.IsZero() {
		records, err = h.dataset.LoadCleanedMaster()
	} else {
		records, err = h.dataset.LoadCleanedSnapshot(date)
		report.Scope = "daily"
		report.Date = date.String()
	}
	if !h.loaded(w, err) {
		return
	}

	report.Raw = len(records)
	report.Summary = services.Summarize(records)
	report.Top, report.Bottom = services.Extremes(records, services.DefaultExtremes)
	writeJSON(w, http.StatusOK, report)
}

func (h *APIHandler) handleTrend(w http.ResponseWriter, r *http.Request) {
	from, ok := h.dateParam(w, r, "from")
	if !ok {
		return
	}
	to, ok := h.dateParam(w, r, "to")
	if !ok {
		return
	}

	records, err := h.dataset.LoadCleanedMaster()
	if !h.loaded(w, err) {
		return
	}
	points := services.Trend(services.FilterDateRange(records, from, to))
	writeJSON(w, http.StatusOK, map[string]interface{}{"points": points})
}

func (h *APIHandler) handleMirror(w http.ResponseWriter, r *http.Request) {
	if h.mirror == nil {
		writeError(w, http.StatusNotFound, "database mirror is disabled")
		return
	}
	counts, err := h.mirror.CountByDate(r.Context())
	if err != nil {
		h.logger.Error("[api] Mirror counts: %v", err)
		writeError(w, http.StatusBadGateway, "mirror unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"counts": counts})
}

// dateParam reads an optional YYYY-MM-DD query parameter. It writes a 400
// and returns false when the value is malformed.
func (h *APIHandler) dateParam(w http.ResponseWriter, r *http.Request, name string) (models.Date, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return models.Date{}, true
	}
	d, err := models.ParseDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, name+" must be YYYY-MM-DD")
		return models.Date{}, false
	}
	return d, true
}

func (h *APIHandler) loaded(w http.ResponseWriter, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "no cleaned data yet")
	default:
		h.logger.Error("[api] Load dataset: %v", err)
		writeError(w, http.StatusInternalServerError, "could not read dataset")
	}
	return false
}

func (h *APIHandler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		h.logger.Info("[api] %s %s → %d (%v)", r.Method, r.URL.RequestURI(), sw.status, time.Since(start).Round(time.Millisecond))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
