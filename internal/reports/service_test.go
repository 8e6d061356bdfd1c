package reports_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/attendance/internal/apperr"
	"rollcall/attendance/internal/attendance"
	"rollcall/attendance/internal/attendance/attendancetest"
	"rollcall/attendance/internal/reports"
)

type staticConfig struct{ cfg attendance.Config }

func (s staticConfig) Config(context.Context) (attendance.Config, error) { return s.cfg, nil }

func day(d int) time.Time {
	return time.Date(2025, 5, d, 0, 0, 0, 0, time.UTC)
}

func seed(store *attendancetest.Store, studentID, classID uuid.UUID, date time.Time, status attendance.Status) {
	store.Seed(attendance.Record{StudentID: studentID, ClassID: classID, Date: date, Status: status})
}

func newService(store *attendancetest.Store) *reports.Service {
	return reports.NewService(store, staticConfig{attendance.DefaultConfig()}, func() time.Time { return day(5) })
}

func TestDailyReportGroupsByClass(t *testing.T) {
	store := attendancetest.New()
	a := store.AddClass("Grade 5A")
	b := store.AddClass("Grade 4B")
	x := store.AddStudent(a, "Ana", "Lima")
	y := store.AddStudent(a, "Bo", "Chen")
	z := store.AddStudent(b, "Cy", "Dunn")
	seed(store, x.ID, a, day(5), attendance.StatusPresent)
	seed(store, y.ID, a, day(5), attendance.StatusAbsent)
	seed(store, z.ID, b, day(5), attendance.StatusLate)
	seed(store, z.ID, b, day(6), attendance.StatusLate)

	report, err := newService(store).DailyReport(context.Background(), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "2025-05-05", report.Date)
	assert.Equal(t, reports.Tally{Present: 1, Late: 1, Absent: 1, Total: 3}, report.Summary)
	require.Len(t, report.Classes, 2)
	assert.Equal(t, "Grade 4B", report.Classes[0].ClassName)
	assert.Equal(t, reports.Tally{Late: 1, Total: 1}, report.Classes[0].Summary)
	assert.Equal(t, reports.Tally{Present: 1, Absent: 1, Total: 2}, report.Classes[1].Summary)
	assert.Len(t, report.Classes[1].Records, 2)

	filtered, err := newService(store).DailyReport(context.Background(), nil, &b)
	require.NoError(t, err)
	require.Len(t, filtered.Classes, 1)
	assert.Equal(t, b, filtered.Classes[0].ClassID)
}

func TestDailyReportEmptyDay(t *testing.T) {
	store := attendancetest.New()
	d := day(9)
	report, err := newService(store).DailyReport(context.Background(), &d, nil)
	require.NoError(t, err)
	assert.Equal(t, "2025-05-09", report.Date)
	assert.Empty(t, report.Classes)
	assert.Zero(t, report.Summary.Total)
}

func TestStudentHistoryNewestFirst(t *testing.T) {
	store := attendancetest.New()
	a := store.AddClass("A")
	x := store.AddStudent(a, "Ana", "Lima")
	for d := 5; d <= 9; d++ {
		seed(store, x.ID, a, day(d), attendance.StatusPresent)
	}
	svc := newService(store)

	history, err := svc.StudentHistory(context.Background(), x.ID, nil, nil, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, history.Total)
	assert.Equal(t, 3, history.TotalPages)
	require.Len(t, history.Records, 2)
	assert.Equal(t, day(9), history.Records[0].Date)
	assert.Equal(t, day(8), history.Records[1].Date)

	from, to := day(6), day(7)
	history, err = svc.StudentHistory(context.Background(), x.ID, &from, &to, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, history.Total)

	_, err = svc.StudentHistory(context.Background(), uuid.New(), nil, nil, 1, 10)
	assert.True(t, apperr.HasCode(err, reports.ErrStudentNotFound))

	_, err = svc.StudentHistory(context.Background(), x.ID, &to, &from, 1, 10)
	assert.True(t, apperr.HasCode(err, reports.ErrInvalidRange))
}

func TestClassSummaryExplicitRange(t *testing.T) {
	store := attendancetest.New()
	a := store.AddClass("A")
	x := store.AddStudent(a, "Ana", "Lima")
	y := store.AddStudent(a, "Bo", "Chen")
	// Mon 5 May to Sun 11 May: five school days.
	seed(store, x.ID, a, day(5), attendance.StatusPresent)
	seed(store, x.ID, a, day(6), attendance.StatusPresent)
	seed(store, x.ID, a, day(7), attendance.StatusLate)
	seed(store, x.ID, a, day(8), attendance.StatusAbsent)
	seed(store, y.ID, a, day(5), attendance.StatusExcused)

	from, to := day(5), day(11)
	summary, err := newService(store).ClassSummary(context.Background(), a, &from, &to)
	require.NoError(t, err)

	assert.Equal(t, 5, summary.TotalSchoolDays)
	assert.Equal(t, reports.Period{From: "2025-05-05", To: "2025-05-11"}, summary.Period)
	require.Len(t, summary.Students, 2)
	ana := summary.Students[0]
	assert.Equal(t, x.ID, ana.StudentID)
	assert.Equal(t, 40.0, ana.PresentPercentage)
	assert.Equal(t, 20.0, ana.LatePercentage)
	assert.Equal(t, 20.0, ana.AbsentPercentage)
	assert.Equal(t, 60.0, ana.AttendanceRate)
	assert.Equal(t, 1, summary.Students[1].Excused)
	assert.Zero(t, summary.Students[1].AttendanceRate)
}

func TestClassSummaryDistinctDates(t *testing.T) {
	store := attendancetest.New()
	a := store.AddClass("A")
	x := store.AddStudent(a, "Ana", "Lima")
	y := store.AddStudent(a, "Bo", "Chen")
	inactive := store.AddStudent(a, "Cy", "Dunn")
	store.SetActive(inactive.ID, false)
	seed(store, x.ID, a, day(5), attendance.StatusPresent)
	seed(store, y.ID, a, day(6), attendance.StatusLate)
	seed(store, x.ID, a, day(7), attendance.StatusPresent)

	summary, err := newService(store).ClassSummary(context.Background(), a, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.TotalSchoolDays)
	require.Len(t, summary.Students, 2)
	assert.Equal(t, 66.67, summary.Students[0].PresentPercentage)
	assert.Equal(t, 33.33, summary.Students[1].LatePercentage)
}

func TestClassSummaryUnknownClass(t *testing.T) {
	_, err := newService(attendancetest.New()).ClassSummary(context.Background(), uuid.New(), nil, nil)
	assert.True(t, apperr.HasCode(err, reports.ErrClassNotFound))
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestSearch(t *testing.T) {
	store := attendancetest.New()
	a := store.AddClass("A")
	x := store.AddStudent(a, "Ana", "Lima")
	y := store.AddStudent(a, "Bo", "Chen")
	seed(store, x.ID, a, day(5), attendance.StatusPresent)
	seed(store, x.ID, a, day(6), attendance.StatusLate)
	seed(store, y.ID, a, day(6), attendance.StatusLate)
	svc := newService(store)

	res, err := svc.Search(context.Background(), reports.Query{Status: "late"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 20, res.Limit)

	res, err = svc.Search(context.Background(), reports.Query{Name: "lima", Ascending: true})
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, day(5), res.Records[0].Date)

	res, err = svc.Search(context.Background(), reports.Query{Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, 100, res.Limit)

	_, err = svc.Search(context.Background(), reports.Query{Status: "TARDY"})
	assert.True(t, apperr.HasCode(err, reports.ErrInvalidStatus))
}

func TestSchoolDaysHonoursConfiguredWeekend(t *testing.T) {
	cfg := attendance.DefaultConfig()
	assert.Equal(t, 5, reports.SchoolDays(day(5), day(11), cfg))
	cfg.WeekendDays = []time.Weekday{time.Friday}
	assert.Equal(t, 6, reports.SchoolDays(day(5), day(11), cfg))
	assert.Equal(t, 0, reports.SchoolDays(day(11), day(5), cfg))
}

func TestParseDate(t *testing.T) {
	d, err := reports.ParseDate("")
	require.NoError(t, err)
	assert.Nil(t, d)

	d, err = reports.ParseDate("2025-05-05")
	require.NoError(t, err)
	assert.Equal(t, day(5), *d)

	_, err = reports.ParseDate("05/05/2025")
	assert.True(t, apperr.HasCode(err, reports.ErrInvalidDate))
}
