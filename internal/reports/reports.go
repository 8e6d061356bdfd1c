// Package reports aggregates ledger rows into the daily report, per-student
// history, class summaries and free-form searches. It never writes.
package reports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"rollcall/attendance/internal/attendance"
	"rollcall/attendance/internal/roster"
)

// Query filters SearchRecords. Nil and zero fields are ignored.
type Query struct {
	StudentID *uuid.UUID
	ClassID   *uuid.UUID
	Status    attendance.Status
	From      *time.Time
	To        *time.Time
	Name      string
	Ascending bool
	Page      int
	Limit     int
}

func (q Query) Offset() int {
	if q.Page <= 1 || q.Limit <= 0 {
		return 0
	}
	return (q.Page - 1) * q.Limit
}

// Source is the read side of the ledger joined with the roster.
type Source interface {
	// RecordsOn returns rows for date ordered by student number.
	RecordsOn(ctx context.Context, date time.Time, classID *uuid.UUID) ([]attendance.Record, error)
	// RecordsInRange returns a class's rows with from/to inclusive when set.
	RecordsInRange(ctx context.Context, classID uuid.UUID, from, to *time.Time) ([]attendance.Record, error)
	SearchRecords(ctx context.Context, q Query) ([]attendance.Record, int, error)
	ActiveStudentsInClass(ctx context.Context, classID uuid.UUID) ([]roster.Student, error)
	GetStudent(ctx context.Context, id uuid.UUID) (roster.Student, error)
	GetClass(ctx context.Context, id uuid.UUID) (roster.Class, error)
}

// ConfigReader supplies the weekend days used by class summaries.
type ConfigReader interface {
	Config(ctx context.Context) (attendance.Config, error)
}

type Tally struct {
	Present int `json:"present"`
	Late    int `json:"late"`
	Absent  int `json:"absent"`
	Excused int `json:"excused"`
	Total   int `json:"total"`
}

func (t *Tally) Add(status attendance.Status) {
	switch status {
	case attendance.StatusPresent:
		t.Present++
	case attendance.StatusLate:
		t.Late++
	case attendance.StatusAbsent:
		t.Absent++
	case attendance.StatusExcused:
		t.Excused++
	}
	t.Total++
}

type ClassReport struct {
	ClassID   uuid.UUID           `json:"classId"`
	ClassName string              `json:"className"`
	Summary   Tally               `json:"summary"`
	Records   []attendance.Record `json:"records"`
}

type DailyReport struct {
	Date    string        `json:"date"`
	Summary Tally         `json:"summary"`
	Classes []ClassReport `json:"classes"`
}

type Page struct {
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
	Page       int `json:"currentPage"`
	Limit      int `json:"limit"`
}

func newPage(total, page, limit int) Page {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Page{Total: total, TotalPages: pages, Page: page, Limit: limit}
}

type SearchResult struct {
	Page
	Records []attendance.Record `json:"records"`
}

type StudentHistory struct {
	Student roster.Student `json:"student"`
	Page
	Records []attendance.Record `json:"records"`
}

// StudentStats are one student's counts over a summary period. Percentages
// are relative to the period's school days and rounded to two decimals.
type StudentStats struct {
	StudentID         uuid.UUID `json:"studentId"`
	StudentNumber     int64     `json:"studentNumber"`
	StudentName       string    `json:"studentName"`
	Present           int       `json:"present"`
	Late              int       `json:"late"`
	Absent            int       `json:"absent"`
	Excused           int       `json:"excused"`
	Total             int       `json:"total"`
	PresentPercentage float64   `json:"presentPercentage"`
	LatePercentage    float64   `json:"latePercentage"`
	AbsentPercentage  float64   `json:"absentPercentage"`
	AttendanceRate    float64   `json:"attendanceRate"`
}

type Period struct {
	From string `json:"startDate,omitempty"`
	To   string `json:"endDate,omitempty"`
}

type ClassSummary struct {
	ClassID         uuid.UUID      `json:"classId"`
	ClassName       string         `json:"className"`
	TotalSchoolDays int            `json:"totalSchoolDays"`
	Period          Period         `json:"period"`
	Students        []StudentStats `json:"students"`
}
