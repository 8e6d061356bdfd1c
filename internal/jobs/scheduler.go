package jobs

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"rollcall/attendance/internal/attendance"
	"rollcall/attendance/internal/logging"
)

// dailyAt fires once a day at a wall-clock time in loc.
type dailyAt struct {
	at  attendance.TimeOfDay
	loc *time.Location
}

func (d dailyAt) Next(t time.Time) time.Time {
	t = t.In(d.loc)
	y, m, day := t.Date()
	next := time.Date(y, m, day, d.at.Hour(), d.at.Minute(), d.at.Second(), 0, d.loc)
	if !next.After(t) {
		next = time.Date(y, m, day+1, d.at.Hour(), d.at.Minute(), d.at.Second(), 0, d.loc)
	}
	return next
}

// Scheduler drives the sweep from a single cron entry that is replaced
// whenever the close time changes.
type Scheduler struct {
	cron    *cron.Cron
	sweeper *Sweeper
	loc     *time.Location
	timeout time.Duration
	log     logging.Logger

	mu      sync.Mutex
	ctx     context.Context
	entry   cron.EntryID
	at      attendance.TimeOfDay
	started bool
}

// NewScheduler builds a stopped scheduler. cronLog receives the cron
// library's own panic and scheduling logs.
func NewScheduler(sweeper *Sweeper, loc *time.Location, timeout time.Duration, logger logging.Logger, cronLog *log.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(
				cron.Recover(cron.PrintfLogger(cronLog)),
				cron.SkipIfStillRunning(cron.PrintfLogger(cronLog)),
			),
		),
		sweeper: sweeper,
		loc:     loc,
		timeout: timeout,
		log:     logger,
		ctx:     context.Background(),
	}
}

// Reschedule replaces the daily entry so the next fire happens at closeTime.
func (s *Scheduler) Reschedule(closeTime attendance.TimeOfDay) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry != 0 {
		if s.at == closeTime {
			return
		}
		s.cron.Remove(s.entry)
	}
	s.at = closeTime
	s.entry = s.cron.Schedule(dailyAt{at: closeTime, loc: s.loc}, cron.FuncJob(s.fire))
	s.log.Info(s.ctx, "absentee sweep scheduled", "close_time", closeTime.String(), "timezone", s.loc.String())
}

// OnConfigChange is registered with the attendance service.
func (s *Scheduler) OnConfigChange(cfg attendance.Config) {
	s.Reschedule(cfg.CloseTime)
}

// Next reports when the sweep fires next; zero when nothing is scheduled.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry == 0 {
		return time.Time{}
	}
	if !s.started {
		return dailyAt{at: s.at, loc: s.loc}.Next(s.sweeper.clock.Now())
	}
	return s.cron.Entry(s.entry).Next
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.started = true
	s.mu.Unlock()
	s.cron.Start()
}

// Stop halts the timer and waits for an in-flight sweep to finish or for
// ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()

	ctx := parent
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, s.timeout)
		defer cancel()
	}
	if _, err := s.sweeper.Run(ctx); err != nil && !errors.Is(err, ErrAlreadyRunning) {
		s.log.Warn(ctx, "scheduled sweep ended with error", "err", err)
	}
}
