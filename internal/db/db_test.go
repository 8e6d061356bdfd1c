package db_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/attendance/internal/apperr"
	"rollcall/attendance/internal/attendance"
	"rollcall/attendance/internal/db"
	"rollcall/attendance/internal/reports"
	"rollcall/attendance/internal/roster"
)

func openTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("DATABASE_URL_TEST")
	if url == "" {
		t.Skip("DATABASE_URL_TEST not set")
		return nil
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, url)
	if err != nil {
		t.Skipf("db unavailable: %v", err)
		return nil
	}
	t.Cleanup(pool.Close)
	require.NoError(t, db.Migrate(ctx, pool))
	_, err = pool.Exec(ctx, `TRUNCATE attendance_records, calendar_exceptions, students, classes, courses, users CASCADE`)
	require.NoError(t, err)
	return pool
}

func seedStudent(t *testing.T, q *db.Queries, number int64) roster.Student {
	t.Helper()
	ctx := context.Background()
	class, err := q.CreateClass(ctx, roster.Class{ID: uuid.New(), Name: "Class " + uuid.NewString()[:6]})
	require.NoError(t, err)
	st, err := q.CreateStudent(ctx, roster.Student{
		ID:             uuid.New(),
		StudentNumber:  number,
		CardID:         uuid.New(),
		FirstName:      "Ada",
		LastName:       "Lovelace",
		ClassID:        class.ID,
		Active:         true,
		EnrollmentDate: time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return st
}

func TestLedgerRoundTrip(t *testing.T) {
	pool := openTestDB(t)
	store := db.NewStore(pool)
	ledger := store.Ledger()
	ctx := context.Background()

	st := seedStudent(t, store.Queries, 20250001)
	assert.Equal(t, 1, mustClass(t, store.Queries, st.ClassID).StudentCount)

	day := time.Date(2025, 5, 5, 0, 0, 0, 0, time.UTC)
	tap := time.Date(2025, 5, 5, 7, 50, 0, 0, time.UTC)
	rec, err := ledger.Insert(ctx, attendance.Record{
		ID: uuid.New(), StudentID: st.ID, ClassID: st.ClassID, CardID: st.CardID,
		Date: day, Status: attendance.StatusPresent, TapTime: &tap,
	})
	require.NoError(t, err)
	assert.True(t, rec.Date.Equal(day))

	_, err = ledger.Insert(ctx, attendance.Record{
		ID: uuid.New(), StudentID: st.ID, ClassID: st.ClassID, CardID: st.CardID,
		Date: day, Status: attendance.StatusAbsent,
	})
	require.ErrorIs(t, err, apperr.ErrDuplicate)
	assert.Equal(t, "one_attendance_per_student_per_day", apperr.Constraint(err))

	ok, err := ledger.Exists(ctx, st.ID, day)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = ledger.SweptOn(ctx, day)
	require.NoError(t, err)
	assert.False(t, ok)

	approver := uuid.New()
	updated, err := ledger.UpdateStatus(ctx, rec.ID, attendance.StatusChange{
		Status: attendance.StatusExcused, Reason: "doctor", ApprovedBy: &approver, At: tap.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusExcused, updated.Status)
	assert.Equal(t, "Ada Lovelace", updated.StudentName)
	require.NotNil(t, updated.TapTime)

	_, err = ledger.UpdateStatus(ctx, uuid.New(), attendance.StatusChange{Status: attendance.StatusAbsent, At: tap})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	records, total, err := store.Queries.SearchRecords(ctx, reports.Query{Name: "love", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, records, 1)
	assert.Equal(t, int64(20250001), records[0].StudentNumber)
}

func TestLedgerCorrectsSweptAbsence(t *testing.T) {
	pool := openTestDB(t)
	store := db.NewStore(pool)
	ledger := store.Ledger()
	ctx := context.Background()

	day := time.Date(2025, 5, 5, 0, 0, 0, 0, time.UTC)
	at := time.Date(2025, 5, 5, 17, 30, 0, 0, time.UTC)
	for i, status := range []attendance.Status{attendance.StatusPresent, attendance.StatusLate} {
		st := seedStudent(t, store.Queries, int64(20250101+i))
		rec, err := ledger.Insert(ctx, attendance.Record{
			ID: uuid.New(), StudentID: st.ID, ClassID: st.ClassID, CardID: st.CardID,
			Date: day, Status: attendance.StatusAbsent,
		})
		require.NoError(t, err)

		updated, err := ledger.UpdateStatus(ctx, rec.ID, attendance.StatusChange{Status: status, Reason: "forgot card", At: at})
		require.NoError(t, err, status)
		assert.Equal(t, status, updated.Status)
		assert.Nil(t, updated.TapTime)
	}

	// Both swept rows were corrected, so the day no longer reads as swept.
	ok, err := ledger.SweptOn(ctx, day)
	require.NoError(t, err)
	assert.False(t, ok)

	st := seedStudent(t, store.Queries, 20250199)
	_, err = ledger.Insert(ctx, attendance.Record{
		ID: uuid.New(), StudentID: st.ID, ClassID: st.ClassID, CardID: st.CardID,
		Date: day, Status: attendance.StatusAbsent,
	})
	require.NoError(t, err)
	ok, err = ledger.SweptOn(ctx, day)
	require.NoError(t, err)
	assert.True(t, ok)
}

func mustClass(t *testing.T, q *db.Queries, id uuid.UUID) roster.Class {
	t.Helper()
	c, err := q.GetClass(context.Background(), id)
	require.NoError(t, err)
	return c
}

func TestConfigAndCalendar(t *testing.T) {
	pool := openTestDB(t)
	store := db.NewStore(pool)
	ctx := context.Background()

	configs := store.Configs()
	cfg, err := configs.Get(ctx)
	require.NoError(t, err)

	cfg.LateThreshold = attendance.NewTimeOfDay(8, 30, 0)
	cfg.WeekendDays = []time.Weekday{time.Friday, time.Saturday}
	cfg.GraceMinutes = 10
	saved, err := configs.Save(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, attendance.NewTimeOfDay(8, 30, 0), saved.LateThreshold)
	assert.Equal(t, []time.Weekday{time.Friday, time.Saturday}, saved.WeekendDays)
	assert.Equal(t, 10, saved.GraceMinutes)

	_, err = configs.Save(ctx, attendance.DefaultConfig())
	require.NoError(t, err)

	day := time.Date(2025, 12, 25, 0, 0, 0, 0, time.UTC)
	exc, err := store.Queries.AddException(ctx, attendance.CalendarException{ID: uuid.New(), Date: day, Kind: attendance.ExceptionHoliday, Description: "Christmas"})
	require.NoError(t, err)
	_, err = store.Queries.AddException(ctx, attendance.CalendarException{ID: uuid.New(), Date: day, Kind: attendance.ExceptionClosure})
	assert.ErrorIs(t, err, apperr.ErrDuplicate)

	got, ok, err := store.Queries.ExceptionOn(ctx, day)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, exc.ID, got.ID)

	list, err := store.Queries.ListExceptions(ctx, day.AddDate(0, 0, -1), day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, store.Queries.RemoveException(ctx, exc.ID))
	assert.ErrorIs(t, store.Queries.RemoveException(ctx, exc.ID), apperr.ErrNotFound)
}
