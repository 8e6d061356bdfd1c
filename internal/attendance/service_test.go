package attendance_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/attendance/internal/apperr"
	"rollcall/attendance/internal/attendance"
	"rollcall/attendance/internal/attendance/attendancetest"
	"rollcall/attendance/internal/clock"
	"rollcall/attendance/internal/logging"
)

// Monday 5 May 2025.
var monday = time.Date(2025, 5, 5, 7, 50, 0, 0, time.UTC)

type fixture struct {
	store *attendancetest.Store
	clock *clock.Fake
	svc   *attendance.Service
	class uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := attendancetest.New()
	cfg := attendance.DefaultConfig()
	cfg.GraceMinutes = 15
	store.SetConfig(cfg)
	clk := clock.NewFake(monday)
	svc := attendance.NewService(store, store, store.Configs(), store, clk, time.UTC, logging.Discard())
	return &fixture{store: store, clock: clk, svc: svc, class: store.AddClass("Grade 5A")}
}

func TestMarkAttendanceScenarios(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.store.AddStudent(f.class, "Ana", "Lima")
	y := f.store.AddStudent(f.class, "Bo", "Chen")

	// Scenario A: 07:50 is present.
	res, err := f.svc.MarkAttendance(ctx, x.CardID.String())
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusPresent, res.Record.Status)
	assert.Equal(t, "Attendance marked as PRESENT", res.Message)
	require.NotNil(t, res.Record.TapTime)
	assert.Equal(t, x.ClassID, res.Record.ClassID)
	assert.Equal(t, x.CardID, res.Record.CardID)
	assert.Equal(t, time.Date(2025, 5, 5, 0, 0, 0, 0, time.UTC), res.Record.Date)

	// Scenario B: 08:20 is late.
	f.clock.Set(time.Date(2025, 5, 5, 8, 20, 0, 0, time.UTC))
	res, err = f.svc.MarkAttendance(ctx, strconv.FormatInt(y.StudentNumber, 10))
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusLate, res.Record.Status)

	// Scenario C: the second tap is rejected and the ledger keeps one row.
	_, err = f.svc.MarkAttendance(ctx, x.CardID.String())
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, attendance.ErrAlreadyMarked))
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, 2, f.store.CountOn(time.Date(2025, 5, 5, 0, 0, 0, 0, time.UTC), ""))
}

func TestMarkAttendanceByInternalID(t *testing.T) {
	f := newFixture(t)
	x := f.store.AddStudent(f.class, "Ana", "Lima")

	res, err := f.svc.MarkAttendance(context.Background(), x.ID.String())
	require.NoError(t, err)
	assert.Equal(t, x.ID, res.Record.StudentID)
}

func TestMarkAttendancePreconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("empty identifier", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.MarkAttendance(ctx, "  ")
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	})

	t.Run("garbage identifier", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.MarkAttendance(ctx, "abc")
		assert.True(t, apperr.HasCode(err, attendance.ErrInvalidStudentID))
	})

	t.Run("unknown student", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.MarkAttendance(ctx, uuid.NewString())
		assert.True(t, apperr.HasCode(err, attendance.ErrStudentNotFound))
		assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	})

	t.Run("inactive student is distinct from not found", func(t *testing.T) {
		f := newFixture(t)
		x := f.store.AddStudent(f.class, "Ana", "Lima")
		f.store.SetActive(x.ID, false)
		_, err := f.svc.MarkAttendance(ctx, x.CardID.String())
		assert.True(t, apperr.HasCode(err, attendance.ErrStudentInactive))
		assert.Equal(t, apperr.KindPolicy, apperr.KindOf(err))
	})

	t.Run("holiday blocks before config is read", func(t *testing.T) {
		store := attendancetest.New()
		x := store.AddStudent(store.AddClass("A"), "Ana", "Lima")
		svc := attendance.NewService(store, store, store.Configs(), store, clock.NewFake(monday), time.UTC, logging.Discard())
		_, err := svc.AddException(ctx, attendance.ExceptionInput{Date: "2025-05-05", Type: "holiday", Description: "Labour day"}, nil)
		require.NoError(t, err)
		_, err = svc.MarkAttendance(ctx, x.CardID.String())
		assert.True(t, apperr.HasCode(err, attendance.ErrNoAttendanceToday))
		assert.Equal(t, apperr.KindPolicy, apperr.KindOf(err))
	})

	t.Run("missing config is a configuration error", func(t *testing.T) {
		store := attendancetest.New()
		class := store.AddClass("A")
		x := store.AddStudent(class, "Ana", "Lima")
		svc := attendance.NewService(store, store, store.Configs(), store, clock.NewFake(monday), time.UTC, logging.Discard())
		_, err := svc.MarkAttendance(ctx, x.CardID.String())
		assert.True(t, apperr.HasCode(err, attendance.ErrConfigMissing))
		assert.Equal(t, apperr.KindConfiguration, apperr.KindOf(err))
	})

	t.Run("weekend blocked when enforced", func(t *testing.T) {
		f := newFixture(t)
		x := f.store.AddStudent(f.class, "Ana", "Lima")
		f.clock.Set(time.Date(2025, 5, 3, 8, 0, 0, 0, time.UTC)) // Saturday
		_, err := f.svc.MarkAttendance(ctx, x.CardID.String())
		assert.True(t, apperr.HasCode(err, attendance.ErrWeekendBlocked))
	})

	t.Run("weekend allowed when enforcement is off", func(t *testing.T) {
		f := newFixture(t)
		x := f.store.AddStudent(f.class, "Ana", "Lima")
		off := false
		_, err := f.svc.UpdateConfig(ctx, attendance.ConfigUpdate{EnforceWeekend: &off}, nil)
		require.NoError(t, err)
		f.clock.Set(time.Date(2025, 5, 3, 8, 0, 0, 0, time.UTC))
		_, err = f.svc.MarkAttendance(ctx, x.CardID.String())
		require.NoError(t, err)
	})

	t.Run("window is ignored by default", func(t *testing.T) {
		f := newFixture(t)
		x := f.store.AddStudent(f.class, "Ana", "Lima")
		f.clock.Set(time.Date(2025, 5, 5, 4, 0, 0, 0, time.UTC))
		res, err := f.svc.MarkAttendance(ctx, x.CardID.String())
		require.NoError(t, err)
		assert.Equal(t, attendance.StatusPresent, res.Record.Status)
	})

	t.Run("window enforced when enabled", func(t *testing.T) {
		f := newFixture(t)
		x := f.store.AddStudent(f.class, "Ana", "Lima")
		on := true
		_, err := f.svc.UpdateConfig(ctx, attendance.ConfigUpdate{EnforceWindow: &on}, nil)
		require.NoError(t, err)
		f.clock.Set(time.Date(2025, 5, 5, 18, 0, 0, 0, time.UTC))
		_, err = f.svc.MarkAttendance(ctx, x.CardID.String())
		assert.True(t, apperr.HasCode(err, attendance.ErrOutsideWindow))
	})
}

func TestMarkAttendanceLosesInsertRace(t *testing.T) {
	f := newFixture(t)
	x := f.store.AddStudent(f.class, "Ana", "Lima")
	today := time.Date(2025, 5, 5, 0, 0, 0, 0, time.UTC)
	// The sweep writes ABSENT between the existence check and the insert.
	f.store.InsertHook = func(r attendance.Record) error {
		f.store.InsertHook = nil
		f.store.Seed(attendance.Record{StudentID: r.StudentID, ClassID: r.ClassID, Date: today, Status: attendance.StatusAbsent})
		return nil
	}

	_, err := f.svc.MarkAttendance(context.Background(), x.CardID.String())
	assert.True(t, apperr.HasCode(err, attendance.ErrAlreadyMarked))
	assert.Equal(t, 1, f.store.CountOn(today, ""))
}

func TestMarkAttendanceStorageFailure(t *testing.T) {
	f := newFixture(t)
	x := f.store.AddStudent(f.class, "Ana", "Lima")
	f.store.InsertHook = func(attendance.Record) error { return errors.New("connection reset") }

	_, err := f.svc.MarkAttendance(context.Background(), x.CardID.String())
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindStorage, appErr.Kind)
	assert.Equal(t, "internal server error", appErr.Message)
}

func TestConcurrentTapsKeepOneRow(t *testing.T) {
	f := newFixture(t)
	x := f.store.AddStudent(f.class, "Ana", "Lima")

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.MarkAttendance(context.Background(), x.CardID.String()); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, f.store.CountOn(time.Date(2025, 5, 5, 0, 0, 0, 0, time.UTC), ""))
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.store.AddStudent(f.class, "Ana", "Lima")
	rec := f.store.Seed(attendance.Record{StudentID: x.ID, ClassID: x.ClassID, Date: time.Date(2025, 5, 5, 0, 0, 0, 0, time.UTC), Status: attendance.StatusAbsent})
	actor := uuid.New()

	_, err := f.svc.UpdateStatus(ctx, rec.ID, attendance.StatusUpdate{Status: "TARDY"}, &actor)
	assert.True(t, apperr.HasCode(err, attendance.ErrInvalidStatus))

	_, err = f.svc.UpdateStatus(ctx, rec.ID, attendance.StatusUpdate{Status: "excused", Reason: "doctor"}, &actor)
	assert.True(t, apperr.HasCode(err, attendance.ErrApproverRequired))

	approver := uuid.New()
	updated, err := f.svc.UpdateStatus(ctx, rec.ID, attendance.StatusUpdate{Status: "excused", Reason: " doctor ", Approver: &approver}, &actor)
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusExcused, updated.Status)
	assert.Equal(t, "doctor", updated.Reason)
	require.NotNil(t, updated.ApprovedBy)
	assert.Equal(t, approver, *updated.ApprovedBy)
	require.NotNil(t, updated.CorrectedBy)
	assert.Equal(t, actor, *updated.CorrectedBy)

	updated, err = f.svc.UpdateStatus(ctx, rec.ID, attendance.StatusUpdate{Status: "PRESENT"}, &actor)
	require.NoError(t, err)
	assert.Nil(t, updated.ApprovedBy)

	_, err = f.svc.UpdateStatus(ctx, uuid.New(), attendance.StatusUpdate{Status: "LATE"}, &actor)
	assert.True(t, apperr.HasCode(err, attendance.ErrRecordNotFound))
}

func TestUpdateConfigNotifiesObservers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var seen []attendance.TimeOfDay
	f.svc.OnConfigChange(func(cfg attendance.Config) { seen = append(seen, cfg.CloseTime) })

	closeAt := attendance.NewTimeOfDay(16, 30, 0)
	cfg, err := f.svc.UpdateConfig(ctx, attendance.ConfigUpdate{CloseTime: &closeAt}, nil)
	require.NoError(t, err)
	assert.Equal(t, closeAt, cfg.CloseTime)
	assert.Equal(t, 15, cfg.GraceMinutes)
	assert.Equal(t, []attendance.TimeOfDay{closeAt}, seen)

	early := attendance.NewTimeOfDay(6, 0, 0)
	_, err = f.svc.UpdateConfig(ctx, attendance.ConfigUpdate{CloseTime: &early}, nil)
	assert.True(t, apperr.HasCode(err, attendance.ErrInvalidConfig))
	assert.Len(t, seen, 1)
}

func TestUpdateConfigSeedsDefaults(t *testing.T) {
	store := attendancetest.New()
	svc := attendance.NewService(store, store, store.Configs(), store, clock.NewFake(monday), time.UTC, logging.Discard())
	grace := 10

	cfg, err := svc.UpdateConfig(context.Background(), attendance.ConfigUpdate{GraceMinutes: &grace}, nil)
	require.NoError(t, err)
	assert.Equal(t, attendance.NewTimeOfDay(8, 0, 0), cfg.LateThreshold)
	assert.Equal(t, 10, cfg.GraceMinutes)

	got, err := svc.Config(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cfg.GraceMinutes, got.GraceMinutes)
}

func TestCalendarExceptions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.AddException(ctx, attendance.ExceptionInput{Date: "2025-12-25", Description: "Christmas"}, nil)
	require.NoError(t, err)
	assert.Equal(t, attendance.ExceptionHoliday, created.Kind)

	_, err = f.svc.AddException(ctx, attendance.ExceptionInput{Date: "2025-12-25", Type: "CLOSURE"}, nil)
	assert.True(t, apperr.HasCode(err, attendance.ErrExceptionExists))
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = f.svc.AddException(ctx, attendance.ExceptionInput{Date: "25/12/2025"}, nil)
	assert.True(t, apperr.HasCode(err, attendance.ErrInvalidDate))

	_, err = f.svc.AddException(ctx, attendance.ExceptionInput{Date: "2025-12-26", Type: "party"}, nil)
	assert.True(t, apperr.HasCode(err, attendance.ErrInvalidException))

	items, err := f.svc.ListExceptions(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, f.svc.RemoveException(ctx, created.ID))
	err = f.svc.RemoveException(ctx, created.ID)
	assert.True(t, apperr.HasCode(err, attendance.ErrExceptionNotFound))
}
