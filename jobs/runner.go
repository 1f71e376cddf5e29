package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"redfin-tracker/models"
	"redfin-tracker/utils"
)

// ErrJobBusy is returned when a job of the same type is still running.
var ErrJobBusy = errors.New("job already running")

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Result is the outcome of one job run. Every error and panic inside a job
// ends up here as Status and Reason.
type Result struct {
	Job      string    `json:"job"`
	RunID    string    `json:"run_id"`
	Date     string    `json:"date"`
	Status   Status    `json:"status"`
	Reason   string    `json:"reason,omitempty"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`

	Scraped      int `json:"scraped,omitempty"`
	Accepted     int `json:"accepted,omitempty"`
	Rejected     int `json:"rejected,omitempty"`
	MasterBefore int `json:"master_before,omitempty"`
	MasterAfter  int `json:"master_after,omitempty"`

	Reports []*models.AnalysisReport `json:"reports,omitempty"`
}

func (r *Result) Succeeded() bool {
	return r.Status == StatusSucceeded
}

// Job is one unit of scheduled work for a calendar date. Execute fills in the
// counters of res and returns the failure cause, if any.
type Job interface {
	Name() string
	Execute(ctx context.Context, date models.Date, res *Result) error
}

// Runner executes jobs with at most one active run per job name.
type Runner struct {
	logger *utils.Logger
	now    func() time.Time

	mu      sync.Mutex
	running map[string]bool
}

func NewRunner(logger *utils.Logger) *Runner {
	return &Runner{
		logger:  logger,
		now:     time.Now,
		running: make(map[string]bool),
	}
}

// Run executes job for date and returns its outcome. The only error it
// returns is ErrJobBusy; job failures are reported through the Result.
func (r *Runner) Run(ctx context.Context, job Job, date models.Date) (Result, error) {
	name := job.Name()
	if !r.tryLock(name) {
		r.logger.Warn("[runner] %s for %s skipped: previous run still active", name, date)
		return Result{}, fmt.Errorf("%s: %w", name, ErrJobBusy)
	}
	defer r.unlock(name)

	res := Result{
		Job:     name,
		RunID:   uuid.NewString(),
		Date:    date.String(),
		Started: r.now(),
	}
	r.logger.Info("[runner] %s started (run %s, date %s)", name, res.RunID, res.Date)

	err := r.execute(ctx, job, date, &res)
	res.Finished = r.now()
	elapsed := res.Finished.Sub(res.Started).Round(time.Millisecond)

	if err != nil {
		res.Status = StatusFailed
		res.Reason = err.Error()
		r.logger.Error("[runner] %s failed (run %s) after %v: %v", name, res.RunID, elapsed, err)
		return res, nil
	}
	res.Status = StatusSucceeded
	r.logger.Info("[runner] %s succeeded (run %s) in %v", name, res.RunID, elapsed)
	return res, nil
}

func (r *Runner) execute(ctx context.Context, job Job, date models.Date, res *Result) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Debug("[runner] panic stack:\n%s", debug.Stack())
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return job.Execute(ctx, date, res)
}

// Busy reports whether a job with the given name is running.
func (r *Runner) Busy(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running[name]
}

func (r *Runner) tryLock(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running[name] {
		return false
	}
	r.running[name] = true
	return true
}

func (r *Runner) unlock(name string) {
	r.mu.Lock()
	delete(r.running, name)
	r.mu.Unlock()
}
