package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"rollcall/attendance/internal/apperr"
	"rollcall/attendance/internal/attendance"
	"rollcall/attendance/internal/clock"
	"rollcall/attendance/internal/logging"
	"rollcall/attendance/internal/metrics"
	"rollcall/attendance/internal/roster"
)

var ErrAlreadyRunning = errors.New("absentee sweep already running")

type Outcome string

const (
	OutcomeCompleted    Outcome = "completed"
	OutcomeAlreadySwept Outcome = "already_swept"
	OutcomeHoliday      Outcome = "holiday"
	OutcomeWeekend      Outcome = "weekend"
	OutcomeLockHeld     Outcome = "lock_held"
	OutcomeFailed       Outcome = "failed"
)

type Ledger interface {
	Insert(ctx context.Context, record attendance.Record) (attendance.Record, error)
	SweptOn(ctx context.Context, date time.Time) (bool, error)
	StudentIDsWithRecord(ctx context.Context, date time.Time) ([]uuid.UUID, error)
}

type Roster interface {
	ListActiveStudents(ctx context.Context) ([]roster.Student, error)
}

type Calendar interface {
	ExceptionOn(ctx context.Context, date time.Time) (attendance.CalendarException, bool, error)
}

type ConfigSource interface {
	Config(ctx context.Context) (attendance.Config, error)
}

// Locker serialises sweeps across replicas. Acquire reports false when
// another process holds the key.
type Locker interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type Result struct {
	Date       string    `json:"date"`
	Outcome    Outcome   `json:"outcome"`
	Inserted   int       `json:"inserted"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Sweeper backfills ABSENT rows for active students without a ledger row for
// the current date. At most one run is in flight per Sweeper.
type Sweeper struct {
	ledger   Ledger
	roster   Roster
	calendar Calendar
	configs  ConfigSource
	locker   Locker
	clock    clock.Clock
	loc      *time.Location
	log      logging.Logger

	running atomic.Bool
	mu      sync.Mutex
	last    *Result
}

func NewSweeper(ledger Ledger, roster Roster, calendar Calendar, configs ConfigSource, clk clock.Clock, loc *time.Location, log logging.Logger) *Sweeper {
	if loc == nil {
		loc = time.Local
	}
	return &Sweeper{
		ledger:   ledger,
		roster:   roster,
		calendar: calendar,
		configs:  configs,
		clock:    clk,
		loc:      loc,
		log:      log,
	}
}

// WithLocker adds a cross-process lock taken after the local guard.
func (s *Sweeper) WithLocker(locker Locker) *Sweeper {
	s.locker = locker
	return s
}

func (s *Sweeper) IsRunning() bool { return s.running.Load() }

// LastResult returns the outcome of the most recent run, if any.
func (s *Sweeper) LastResult() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Result{}, false
	}
	return *s.last, true
}

// Run performs one sweep for today. A trigger while another run is in flight
// returns ErrAlreadyRunning without doing anything.
func (s *Sweeper) Run(ctx context.Context) (Result, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Info(ctx, "absentee sweep skipped", "reason", "already running")
		metrics.SweepRuns.WithLabelValues("already_running").Inc()
		return Result{}, ErrAlreadyRunning
	}
	metrics.SweepRunning.Set(1)
	defer func() {
		metrics.SweepRunning.Set(0)
		s.running.Store(false)
	}()

	now := s.clock.Now()
	today := clock.Date(now, s.loc)
	res := Result{Date: today.Format(attendance.DateLayout), StartedAt: now.UTC()}

	err := s.sweep(ctx, today, &res)
	res.FinishedAt = s.clock.Now().UTC()
	if err != nil {
		res.Outcome = OutcomeFailed
		s.log.Error(ctx, "absentee sweep failed", "date", res.Date, "err", err)
	} else {
		s.log.Info(ctx, "absentee sweep finished", "date", res.Date, "outcome", res.Outcome,
			"inserted", res.Inserted, "skipped", res.Skipped, "failed", res.Failed)
	}
	metrics.SweepRuns.WithLabelValues(string(res.Outcome)).Inc()

	s.mu.Lock()
	last := res
	s.last = &last
	s.mu.Unlock()
	return res, err
}

func (s *Sweeper) sweep(ctx context.Context, today time.Time, res *Result) error {
	cfg, err := s.configs.Config(ctx)
	if err != nil {
		return err
	}

	if _, blocked, err := s.calendar.ExceptionOn(ctx, today); err != nil {
		return apperr.Storage("calendar lookup", err)
	} else if blocked {
		res.Outcome = OutcomeHoliday
		return nil
	}
	if cfg.EnforceWeekend && cfg.IsWeekend(today.Weekday()) {
		res.Outcome = OutcomeWeekend
		return nil
	}

	swept, err := s.ledger.SweptOn(ctx, today)
	if err != nil {
		return apperr.Storage("idempotence check", err)
	}
	if swept {
		res.Outcome = OutcomeAlreadySwept
		return nil
	}

	if s.locker != nil {
		key := "attendance:sweep:" + res.Date
		ok, err := s.locker.Acquire(ctx, key)
		if err != nil {
			return apperr.Storage("acquire sweep lock", err)
		}
		if !ok {
			res.Outcome = OutcomeLockHeld
			return nil
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), key); err != nil {
				s.log.Warn(ctx, "release sweep lock", "err", err)
			}
		}()
	}

	students, err := s.roster.ListActiveStudents(ctx)
	if err != nil {
		return apperr.Storage("list active students", err)
	}
	attended, err := s.ledger.StudentIDsWithRecord(ctx, today)
	if err != nil {
		return apperr.Storage("list attended students", err)
	}
	seen := make(map[uuid.UUID]struct{}, len(attended))
	for _, id := range attended {
		seen[id] = struct{}{}
	}

	defer func() {
		metrics.SweepAbsences.Add(float64(res.Inserted))
		metrics.SweepFailures.Add(float64(res.Failed))
	}()
	for _, student := range students {
		if _, ok := seen[student.ID]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := s.ledger.Insert(ctx, attendance.Record{
			ID:        uuid.New(),
			StudentID: student.ID,
			ClassID:   student.ClassID,
			CardID:    student.CardID,
			Date:      today,
			Status:    attendance.StatusAbsent,
		})
		switch {
		case err == nil:
			res.Inserted++
		case errors.Is(err, apperr.ErrDuplicate):
			// Tapped in after the attended set was read.
			res.Skipped++
		default:
			res.Failed++
			s.log.Error(ctx, "absentee insert failed", "student_id", student.ID, "err", err)
		}
	}
	res.Outcome = OutcomeCompleted
	return nil
}
