// Package attendance holds the daily attendance ledger rules: status
// classification, tap-in, status correction, the config singleton and
// calendar exceptions.
package attendance

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"rollcall/attendance/internal/roster"
)

const DateLayout = "2006-01-02"

// Record is one ledger row. There is at most one per (student, date).
type Record struct {
	ID          uuid.UUID
	StudentID   uuid.UUID
	ClassID     uuid.UUID
	CardID      uuid.UUID
	Date        time.Time
	Status      Status
	TapTime     *time.Time
	Reason      string
	ApprovedBy  *uuid.UUID
	CorrectedBy *uuid.UUID
	CorrectedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Filled by read queries that join the roster.
	StudentNumber int64
	StudentName   string
	ClassName     string
}

func (r Record) MarshalJSON() ([]byte, error) {
	type payload struct {
		ID            uuid.UUID  `json:"id"`
		StudentID     uuid.UUID  `json:"studentId"`
		StudentNumber int64      `json:"studentNumber,omitempty"`
		StudentName   string     `json:"studentName,omitempty"`
		ClassID       uuid.UUID  `json:"classId"`
		ClassName     string     `json:"className,omitempty"`
		CardID        uuid.UUID  `json:"cardId"`
		Date          string     `json:"date"`
		Status        Status     `json:"status"`
		TapTime       *time.Time `json:"tapTime"`
		Reason        string     `json:"reason,omitempty"`
		ApprovedBy    *uuid.UUID `json:"approvedBy,omitempty"`
		CorrectedBy   *uuid.UUID `json:"correctedBy,omitempty"`
		CorrectedAt   *time.Time `json:"correctedAt,omitempty"`
		CreatedAt     time.Time  `json:"createdAt"`
		UpdatedAt     time.Time  `json:"updatedAt"`
	}
	return json.Marshal(payload{
		ID:            r.ID,
		StudentID:     r.StudentID,
		StudentNumber: r.StudentNumber,
		StudentName:   r.StudentName,
		ClassID:       r.ClassID,
		ClassName:     r.ClassName,
		CardID:        r.CardID,
		Date:          r.Date.Format(DateLayout),
		Status:        r.Status,
		TapTime:       r.TapTime,
		Reason:        r.Reason,
		ApprovedBy:    r.ApprovedBy,
		CorrectedBy:   r.CorrectedBy,
		CorrectedAt:   r.CorrectedAt,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	})
}

type ExceptionKind string

const (
	ExceptionHoliday          ExceptionKind = "HOLIDAY"
	ExceptionNonInstructional ExceptionKind = "NON_INSTRUCTIONAL"
	ExceptionClosure          ExceptionKind = "CLOSURE"
)

// CalendarException marks a date on which no attendance is taken.
type CalendarException struct {
	ID          uuid.UUID     `json:"id"`
	Date        time.Time     `json:"-"`
	Kind        ExceptionKind `json:"type"`
	Description string        `json:"description,omitempty"`
	CreatedBy   *uuid.UUID    `json:"createdBy,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
}

func (c CalendarException) MarshalJSON() ([]byte, error) {
	type alias CalendarException
	return json.Marshal(struct {
		alias
		Date string `json:"date"`
	}{alias: alias(c), Date: c.Date.Format(DateLayout)})
}

// StatusChange is the single permitted mutation of an existing record.
type StatusChange struct {
	Status      Status
	Reason      string
	ApprovedBy  *uuid.UUID
	CorrectedBy *uuid.UUID
	At          time.Time
}

// Ledger is the attendance record store. Insert must return an error matching
// apperr.ErrDuplicate when (student, date) already has a row.
type Ledger interface {
	Insert(ctx context.Context, record Record) (Record, error)
	Get(ctx context.Context, id uuid.UUID) (Record, error)
	Exists(ctx context.Context, studentID uuid.UUID, date time.Time) (bool, error)
	// SweptOn reports whether date has an ABSENT row written by the sweep
	// and never corrected since.
	SweptOn(ctx context.Context, date time.Time) (bool, error)
	StudentIDsWithRecord(ctx context.Context, date time.Time) ([]uuid.UUID, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, change StatusChange) (Record, error)
}

// ConfigStore returns apperr.ErrNotFound from Get when no singleton exists.
type ConfigStore interface {
	Get(ctx context.Context) (Config, error)
	Save(ctx context.Context, cfg Config) (Config, error)
}

type Calendar interface {
	ExceptionOn(ctx context.Context, date time.Time) (CalendarException, bool, error)
	AddException(ctx context.Context, exception CalendarException) (CalendarException, error)
	RemoveException(ctx context.Context, id uuid.UUID) error
	ListExceptions(ctx context.Context, from, to time.Time) ([]CalendarException, error)
}

// Roster is the subset of the roster store attendance depends on.
type Roster interface {
	GetStudent(ctx context.Context, id uuid.UUID) (roster.Student, error)
	GetStudentByNumber(ctx context.Context, number int64) (roster.Student, error)
	GetStudentByCard(ctx context.Context, cardID uuid.UUID) (roster.Student, error)
	ListActiveStudents(ctx context.Context) ([]roster.Student, error)
}
