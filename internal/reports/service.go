package reports

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"rollcall/attendance/internal/apperr"
	"rollcall/attendance/internal/attendance"
	"rollcall/attendance/internal/roster"
)

const (
	ErrInvalidDate     = "invalid_date"
	ErrInvalidRange    = "invalid_date_range"
	ErrInvalidStatus   = "invalid_status"
	ErrStudentNotFound = "student_not_found"
	ErrClassNotFound   = "class_not_found"
)

type Service struct {
	src     Source
	configs ConfigReader
	today   func() time.Time
}

// NewService builds the reporting service. today returns the current
// attendance date and is used when a request omits one.
func NewService(src Source, configs ConfigReader, today func() time.Time) *Service {
	return &Service{src: src, configs: configs, today: today}
}

// ParseDate parses YYYY-MM-DD. An empty value yields nil.
func ParseDate(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	d, err := time.Parse(attendance.DateLayout, value)
	if err != nil {
		return nil, apperr.Validation(ErrInvalidDate, "dates must be YYYY-MM-DD")
	}
	return &d, nil
}

func checkRange(from, to *time.Time) error {
	if from != nil && to != nil && to.Before(*from) {
		return apperr.Validation(ErrInvalidRange, "endDate must not be before startDate")
	}
	return nil
}

// AttendanceByDate lists the ledger rows for one date.
func (s *Service) AttendanceByDate(ctx context.Context, date *time.Time, classID *uuid.UUID) ([]attendance.Record, error) {
	day := s.today()
	if date != nil {
		day = *date
	}
	records, err := s.src.RecordsOn(ctx, day, classID)
	if err != nil {
		return nil, apperr.Storage("records by date", err)
	}
	if records == nil {
		records = []attendance.Record{}
	}
	return records, nil
}

// DailyReport groups a date's rows by class with per-status tallies.
func (s *Service) DailyReport(ctx context.Context, date *time.Time, classID *uuid.UUID) (DailyReport, error) {
	day := s.today()
	if date != nil {
		day = *date
	}
	records, err := s.src.RecordsOn(ctx, day, classID)
	if err != nil {
		return DailyReport{}, apperr.Storage("daily report", err)
	}

	report := DailyReport{Date: day.Format(attendance.DateLayout), Classes: []ClassReport{}}
	index := map[uuid.UUID]int{}
	for _, r := range records {
		i, ok := index[r.ClassID]
		if !ok {
			i = len(report.Classes)
			index[r.ClassID] = i
			report.Classes = append(report.Classes, ClassReport{ClassID: r.ClassID, ClassName: r.ClassName})
		}
		report.Classes[i].Summary.Add(r.Status)
		report.Classes[i].Records = append(report.Classes[i].Records, r)
		report.Summary.Add(r.Status)
	}
	sort.SliceStable(report.Classes, func(i, j int) bool {
		return report.Classes[i].ClassName < report.Classes[j].ClassName
	})
	return report, nil
}

// Search runs a filtered, paged query over the ledger.
func (s *Service) Search(ctx context.Context, q Query) (SearchResult, error) {
	if q.Status != "" {
		status, err := attendance.ParseStatus(string(q.Status))
		if err != nil {
			return SearchResult{}, apperr.Validation(ErrInvalidStatus, "status must be one of PRESENT, LATE, ABSENT, EXCUSED")
		}
		q.Status = status
	}
	if err := checkRange(q.From, q.To); err != nil {
		return SearchResult{}, err
	}
	q.Name = strings.TrimSpace(q.Name)
	q.Page, q.Limit = roster.NormalizePage(q.Page, q.Limit)

	records, total, err := s.src.SearchRecords(ctx, q)
	if err != nil {
		return SearchResult{}, apperr.Storage("search attendance", err)
	}
	if records == nil {
		records = []attendance.Record{}
	}
	return SearchResult{Page: newPage(total, q.Page, q.Limit), Records: records}, nil
}

// StudentHistory pages through one student's rows, newest first.
func (s *Service) StudentHistory(ctx context.Context, studentID uuid.UUID, from, to *time.Time, page, limit int) (StudentHistory, error) {
	if err := checkRange(from, to); err != nil {
		return StudentHistory{}, err
	}
	student, err := s.src.GetStudent(ctx, studentID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return StudentHistory{}, apperr.NotFound(ErrStudentNotFound, "student not found")
		}
		return StudentHistory{}, apperr.Storage("student lookup", err)
	}

	result, err := s.Search(ctx, Query{StudentID: &studentID, From: from, To: to, Page: page, Limit: limit})
	if err != nil {
		return StudentHistory{}, err
	}
	return StudentHistory{Student: student, Page: result.Page, Records: result.Records}, nil
}

// ClassSummary computes per-student percentages for a class's active
// students. With both bounds set the denominator is the number of
// non-weekend days in the range; otherwise it is the number of distinct
// dates that have any attendance row.
func (s *Service) ClassSummary(ctx context.Context, classID uuid.UUID, from, to *time.Time) (ClassSummary, error) {
	if err := checkRange(from, to); err != nil {
		return ClassSummary{}, err
	}
	class, err := s.src.GetClass(ctx, classID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return ClassSummary{}, apperr.NotFound(ErrClassNotFound, "class not found")
		}
		return ClassSummary{}, apperr.Storage("class lookup", err)
	}
	students, err := s.src.ActiveStudentsInClass(ctx, classID)
	if err != nil {
		return ClassSummary{}, apperr.Storage("class students", err)
	}
	records, err := s.src.RecordsInRange(ctx, classID, from, to)
	if err != nil {
		return ClassSummary{}, apperr.Storage("class records", err)
	}

	var totalDays int
	if from != nil && to != nil {
		cfg, err := s.configs.Config(ctx)
		if err != nil {
			return ClassSummary{}, err
		}
		totalDays = SchoolDays(*from, *to, cfg)
	} else {
		dates := map[time.Time]struct{}{}
		for _, r := range records {
			dates[r.Date] = struct{}{}
		}
		totalDays = len(dates)
	}

	byStudent := map[uuid.UUID]*Tally{}
	for _, r := range records {
		t, ok := byStudent[r.StudentID]
		if !ok {
			t = &Tally{}
			byStudent[r.StudentID] = t
		}
		t.Add(r.Status)
	}

	summary := ClassSummary{
		ClassID:         class.ID,
		ClassName:       class.Name,
		TotalSchoolDays: totalDays,
		Period:          Period{From: formatDate(from), To: formatDate(to)},
		Students:        make([]StudentStats, 0, len(students)),
	}
	for _, student := range students {
		t := Tally{}
		if found, ok := byStudent[student.ID]; ok {
			t = *found
		}
		summary.Students = append(summary.Students, StudentStats{
			StudentID:         student.ID,
			StudentNumber:     student.StudentNumber,
			StudentName:       student.FullName(),
			Present:           t.Present,
			Late:              t.Late,
			Absent:            t.Absent,
			Excused:           t.Excused,
			Total:             t.Total,
			PresentPercentage: percent(t.Present, totalDays),
			LatePercentage:    percent(t.Late, totalDays),
			AbsentPercentage:  percent(t.Absent, totalDays),
			AttendanceRate:    percent(t.Present+t.Late, totalDays),
		})
	}
	return summary, nil
}

// SchoolDays counts the days in [from, to] that are not weekend days.
// Calendar exceptions are not subtracted.
func SchoolDays(from, to time.Time, cfg attendance.Config) int {
	n := 0
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if !cfg.IsWeekend(d.Weekday()) {
			n++
		}
	}
	return n
}

func percent(n, of int) float64 {
	if of == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(of)*10000) / 100
}

func formatDate(d *time.Time) string {
	if d == nil {
		return ""
	}
	return d.Format(attendance.DateLayout)
}
