package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"redfin-tracker/models"
	"redfin-tracker/utils"
)

// Trigger runs Job once a day at Hour:00.
type Trigger struct {
	Hour int
	Job  Job
}

// Scheduler fires daily triggers in a fixed timezone. Each tick is
// fire-and-forget: a failed or overrunning run never delays the next day.
type Scheduler struct {
	runner   *Runner
	triggers []Trigger
	loc      *time.Location
	logger   *utils.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	inflight sync.WaitGroup
	results  chan<- Result
}

func NewScheduler(runner *Runner, loc *time.Location, logger *utils.Logger, triggers ...Trigger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		runner:   runner,
		triggers: triggers,
		loc:      loc,
		logger:   logger,
		now:      time.Now,
		after:    time.After,
	}
}

// NotifyResults sends every finished run to ch. Sends do not block.
func (s *Scheduler) NotifyResults(ch chan<- Result) {
	s.results = ch
}

// NextRun returns the first hour:00 strictly after now, in now's location.
func NextRun(now time.Time, hour int) time.Time {
	y, m, d := now.Date()
	next := time.Date(y, m, d, hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = time.Date(y, m, d+1, hour, 0, 0, 0, now.Location())
	}
	return next
}

// Start blocks until ctx is done, then waits for running jobs to finish.
// Jobs are not cancelled by shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	var loops sync.WaitGroup
	for _, t := range s.triggers {
		loops.Add(1)
		go func(t Trigger) {
			defer loops.Done()
			s.loop(ctx, t)
		}(t)
	}
	loops.Wait()

	s.logger.Info("[scheduler] Stopping, waiting for running jobs")
	s.inflight.Wait()
	s.logger.Info("[scheduler] Stopped")
}

func (s *Scheduler) loop(ctx context.Context, t Trigger) {
	var last time.Time
	for {
		now := s.now().In(s.loc)
		// a timer can wake just before the wall clock reaches the hour;
		// counting from the last slot keeps one run per day
		from := now
		if last.After(from) {
			from = last
		}
		next := NextRun(from, t.Hour)
		s.logger.Info("[scheduler] Next %s run at %s", t.Job.Name(), next.Format("2006-01-02 15:04:05 MST"))

		select {
		case <-ctx.Done():
			return
		case <-s.after(next.Sub(now)):
		}

		at := s.now().In(s.loc)
		if at.Before(next) {
			at = next
		}
		last = next
		s.inflight.Add(1)
		go s.fire(context.WithoutCancel(ctx), t.Job, models.NewDate(at))
	}
}

func (s *Scheduler) fire(ctx context.Context, job Job, date models.Date) {
	defer s.inflight.Done()

	res, err := s.runner.Run(ctx, job, date)
	if errors.Is(err, ErrJobBusy) {
		return
	}
	if s.results != nil {
		select {
		case s.results <- res:
		default:
		}
	}
}
