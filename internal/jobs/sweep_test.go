package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/attendance/internal/attendance"
	"rollcall/attendance/internal/attendance/attendancetest"
	"rollcall/attendance/internal/clock"
	"rollcall/attendance/internal/logging"
	"rollcall/attendance/internal/metrics"
	"rollcall/attendance/internal/roster"
)

// Monday 5 May 2025, just after close.
var closing = time.Date(2025, 5, 5, 17, 0, 0, 0, time.UTC)

func today() time.Time { return time.Date(2025, 5, 5, 0, 0, 0, 0, time.UTC) }

func newSweeper(store *attendancetest.Store, clk clock.Clock) *Sweeper {
	configs := attendance.NewService(store, store, store.Configs(), store, clk, time.UTC, logging.Discard())
	return NewSweeper(store, store, store, configs, clk, time.UTC, logging.Discard())
}

func enroll(store *attendancetest.Store, n int) []roster.Student {
	class := store.AddClass("Grade 5A")
	out := make([]roster.Student, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, store.AddStudent(class, "Student", uuid.NewString()[:8]))
	}
	return out
}

func TestSweepBackfillsAbsentees(t *testing.T) {
	store := attendancetest.New().WithDefaultConfig()
	students := enroll(store, 30)
	tap := closing.Add(-9 * time.Hour)
	for _, s := range students[:25] {
		store.Seed(attendance.Record{StudentID: s.ID, ClassID: s.ClassID, Date: today(), Status: attendance.StatusPresent, TapTime: &tap})
	}

	res, err := newSweeper(store, clock.NewFake(closing)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 5, res.Inserted)
	assert.Equal(t, 5, store.CountOn(today(), attendance.StatusAbsent))
	assert.Equal(t, 30, store.CountOn(today(), ""))
	absent := map[uuid.UUID]bool{}
	for _, r := range store.Records() {
		if r.Status == attendance.StatusAbsent {
			assert.Nil(t, r.TapTime)
			absent[r.StudentID] = true
		}
	}
	for _, s := range students[25:] {
		assert.True(t, absent[s.ID], s.ID)
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	store := attendancetest.New().WithDefaultConfig()
	enroll(store, 4)
	sweeper := newSweeper(store, clock.NewFake(closing))

	first, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, first.Inserted)
	calls := store.InsertCalls()

	// A fresh sweeper stands in for a restarted process.
	second, err := newSweeper(store, clock.NewFake(closing)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadySwept, second.Outcome)
	assert.Zero(t, second.Inserted)
	assert.Equal(t, calls, store.InsertCalls())
	assert.Equal(t, 4, store.CountOn(today(), attendance.StatusAbsent))
}

func TestSweepIgnoresCorrectedAbsences(t *testing.T) {
	store := attendancetest.New().WithDefaultConfig()
	students := enroll(store, 5)
	clk := clock.NewFake(closing.Add(-8 * time.Hour))
	svc := attendance.NewService(store, store, store.Configs(), store, clk, time.UTC, logging.Discard())

	tap := clk.Now()
	rec := store.Seed(attendance.Record{StudentID: students[0].ID, ClassID: students[0].ClassID, Date: today(), Status: attendance.StatusPresent, TapTime: &tap})
	_, err := svc.UpdateStatus(context.Background(), rec.ID, attendance.StatusUpdate{Status: "ABSENT", Reason: "left early"}, nil)
	require.NoError(t, err)

	res, err := newSweeper(store, clock.NewFake(closing)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 4, res.Inserted)
	assert.Equal(t, 5, store.CountOn(today(), ""))
	assert.Equal(t, 5, store.CountOn(today(), attendance.StatusAbsent))
}

func TestSweepRerunsWhenEverySweptRowWasCorrected(t *testing.T) {
	store := attendancetest.New().WithDefaultConfig()
	enroll(store, 2)
	clk := clock.NewFake(closing)
	svc := attendance.NewService(store, store, store.Configs(), store, clk, time.UTC, logging.Discard())

	first, err := newSweeper(store, clk).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, first.Inserted)
	for _, r := range store.Records() {
		_, err := svc.UpdateStatus(context.Background(), r.ID, attendance.StatusUpdate{Status: "PRESENT", Reason: "forgot card"}, nil)
		require.NoError(t, err)
	}

	// Every student already has a row, so the rerun inserts nothing.
	second, err := newSweeper(store, clk).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, second.Outcome)
	assert.Zero(t, second.Inserted)
	assert.Equal(t, 2, store.CountOn(today(), attendance.StatusPresent))
}

func TestSweepSkipsInactiveStudents(t *testing.T) {
	store := attendancetest.New().WithDefaultConfig()
	students := enroll(store, 3)
	store.SetActive(students[0].ID, false)

	res, err := newSweeper(store, clock.NewFake(closing)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
}

func TestSweepSkipsHolidaysAndWeekends(t *testing.T) {
	t.Run("holiday", func(t *testing.T) {
		store := attendancetest.New().WithDefaultConfig()
		enroll(store, 3)
		_, err := store.AddException(context.Background(), attendance.CalendarException{ID: uuid.New(), Date: today(), Kind: attendance.ExceptionHoliday})
		require.NoError(t, err)

		res, err := newSweeper(store, clock.NewFake(closing)).Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, OutcomeHoliday, res.Outcome)
		assert.Zero(t, store.InsertCalls())
	})

	t.Run("weekend", func(t *testing.T) {
		store := attendancetest.New().WithDefaultConfig()
		enroll(store, 3)
		saturday := time.Date(2025, 5, 3, 17, 0, 0, 0, time.UTC)

		res, err := newSweeper(store, clock.NewFake(saturday)).Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, OutcomeWeekend, res.Outcome)
		assert.Zero(t, store.InsertCalls())
	})
}

func TestSweepContinuesPastFailures(t *testing.T) {
	store := attendancetest.New().WithDefaultConfig()
	students := enroll(store, 5)
	broken := students[2].ID
	store.InsertHook = func(r attendance.Record) error {
		if r.StudentID == broken {
			return errors.New("connection reset")
		}
		return nil
	}

	sweeper := newSweeper(store, clock.NewFake(closing))
	res, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Inserted)
	assert.Equal(t, 1, res.Failed)
	assert.False(t, sweeper.IsRunning())

	last, ok := sweeper.LastResult()
	require.True(t, ok)
	assert.Equal(t, res, last)
}

func TestSweepCountsLostRaceAsSkipped(t *testing.T) {
	store := attendancetest.New().WithDefaultConfig()
	students := enroll(store, 2)
	late := students[0]
	tap := closing
	store.InsertHook = func(r attendance.Record) error {
		if r.StudentID == late.ID {
			store.Seed(attendance.Record{StudentID: late.ID, ClassID: late.ClassID, Date: today(), Status: attendance.StatusLate, TapTime: &tap})
		}
		return nil
	}

	res, err := newSweeper(store, clock.NewFake(closing)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 2, store.CountOn(today(), ""))
}

func TestSweepMissingConfigReleasesGuard(t *testing.T) {
	store := attendancetest.New()
	enroll(store, 2)
	sweeper := newSweeper(store, clock.NewFake(closing))

	res, err := sweeper.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.False(t, sweeper.IsRunning())
}

func TestSweepRejectsOverlappingRuns(t *testing.T) {
	store := attendancetest.New().WithDefaultConfig()
	enroll(store, 3)
	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	store.InsertHook = func(attendance.Record) error {
		once.Do(func() { close(entered) })
		<-release
		return nil
	}
	sweeper := newSweeper(store, clock.NewFake(closing))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = sweeper.Run(context.Background())
	}()
	<-entered
	assert.True(t, sweeper.IsRunning())

	_, err := sweeper.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(release)
	wg.Wait()
	assert.False(t, sweeper.IsRunning())
	assert.Equal(t, 3, store.CountOn(today(), attendance.StatusAbsent))
}

type fakeLocker struct {
	held     atomic.Bool
	released atomic.Int32
}

func (l *fakeLocker) Acquire(context.Context, string) (bool, error) {
	return l.held.CompareAndSwap(false, true), nil
}

func (l *fakeLocker) Release(context.Context, string) error {
	l.held.Store(false)
	l.released.Add(1)
	return nil
}

func TestSweepHonoursLocker(t *testing.T) {
	store := attendancetest.New().WithDefaultConfig()
	enroll(store, 2)
	locker := &fakeLocker{}

	locker.held.Store(true)
	res, err := newSweeper(store, clock.NewFake(closing)).WithLocker(locker).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeLockHeld, res.Outcome)
	assert.Zero(t, store.InsertCalls())

	locker.held.Store(false)
	res, err = newSweeper(store, clock.NewFake(closing)).WithLocker(locker).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.EqualValues(t, 1, locker.released.Load())
	assert.False(t, locker.held.Load())
}

func TestSweepCountsInsertsWhenCancelled(t *testing.T) {
	store := attendancetest.New().WithDefaultConfig()
	enroll(store, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls atomic.Int32
	store.InsertHook = func(attendance.Record) error {
		if calls.Add(1) == 2 {
			cancel()
		}
		return nil
	}
	before := testutil.ToFloat64(metrics.SweepAbsences)

	res, err := newSweeper(store, clock.NewFake(closing)).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, 2, store.CountOn(today(), attendance.StatusAbsent))
	assert.Equal(t, before+2, testutil.ToFloat64(metrics.SweepAbsences))
}
