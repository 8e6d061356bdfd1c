// Package attendancetest provides an in-memory ledger, roster, calendar and
// config store for tests of packages built on attendance.
package attendancetest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"rollcall/attendance/internal/apperr"
	"rollcall/attendance/internal/attendance"
	"rollcall/attendance/internal/reports"
	"rollcall/attendance/internal/roster"
)

type Store struct {
	mu         sync.Mutex
	students   map[uuid.UUID]roster.Student
	classes    map[uuid.UUID]string
	records    map[uuid.UUID]attendance.Record
	exceptions map[uuid.UUID]attendance.CalendarException
	config     *attendance.Config

	// InsertHook runs before each ledger insert; a non-nil error aborts it.
	InsertHook func(attendance.Record) error
	inserts    int
}

func New() *Store {
	return &Store{
		students:   map[uuid.UUID]roster.Student{},
		classes:    map[uuid.UUID]string{},
		records:    map[uuid.UUID]attendance.Record{},
		exceptions: map[uuid.UUID]attendance.CalendarException{},
	}
}

// WithDefaultConfig seeds the config singleton with attendance.DefaultConfig.
func (s *Store) WithDefaultConfig() *Store {
	cfg := attendance.DefaultConfig()
	s.config = &cfg
	return s
}

func (s *Store) SetConfig(cfg attendance.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = &cfg
}

func (s *Store) AddClass(name string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.classes[id] = name
	return id
}

// AddStudent enrolls an active student with a generated card id and number.
func (s *Store) AddStudent(classID uuid.UUID, firstName, lastName string) roster.Student {
	s.mu.Lock()
	defer s.mu.Unlock()
	student := roster.Student{
		ID:            uuid.New(),
		StudentNumber: int64(20250101000 + len(s.students) + 1),
		CardID:        uuid.New(),
		FirstName:     firstName,
		LastName:      lastName,
		ClassID:       classID,
		ClassName:     s.classes[classID],
		Active:        true,
	}
	s.students[student.ID] = student
	return student
}

func (s *Store) SetActive(id uuid.UUID, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	student := s.students[id]
	student.Active = active
	s.students[id] = student
}

// Records returns a snapshot of every ledger row.
func (s *Store) Records() []attendance.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]attendance.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentNumber < out[j].StudentNumber })
	return out
}

// CountOn counts ledger rows for date, optionally restricted to a status.
func (s *Store) CountOn(date time.Time, status attendance.Status) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.records {
		if r.Date.Equal(date) && (status == "" || r.Status == status) {
			n++
		}
	}
	return n
}

// InsertCalls reports how many ledger inserts were attempted.
func (s *Store) InsertCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserts
}

// Seed writes a record directly, bypassing uniqueness checks.
func (s *Store) Seed(record attendance.Record) attendance.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	s.records[record.ID] = s.decorate(record)
	return s.records[record.ID]
}

func (s *Store) decorate(r attendance.Record) attendance.Record {
	if student, ok := s.students[r.StudentID]; ok {
		r.StudentNumber = student.StudentNumber
		r.StudentName = student.FullName()
	}
	r.ClassName = s.classes[r.ClassID]
	return r
}

// Ledger

func (s *Store) Insert(_ context.Context, record attendance.Record) (attendance.Record, error) {
	s.mu.Lock()
	s.inserts++
	hook := s.InsertHook
	s.mu.Unlock()
	if hook != nil {
		if err := hook(record); err != nil {
			return attendance.Record{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.records {
		if existing.StudentID == record.StudentID && existing.Date.Equal(record.Date) {
			return attendance.Record{}, &apperr.DuplicateError{Constraint: "one_attendance_per_student_per_day"}
		}
	}
	now := time.Now().UTC()
	record.CreatedAt, record.UpdatedAt = now, now
	record = s.decorate(record)
	s.records[record.ID] = record
	return record, nil
}

func (s *Store) Get(_ context.Context, id uuid.UUID) (attendance.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return attendance.Record{}, apperr.ErrNotFound
	}
	return r, nil
}

func (s *Store) Exists(_ context.Context, studentID uuid.UUID, date time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.StudentID == studentID && r.Date.Equal(date) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) SweptOn(_ context.Context, date time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.Date.Equal(date) && r.Status == attendance.StatusAbsent && r.TapTime == nil && r.CorrectedAt == nil {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) StudentIDsWithRecord(_ context.Context, date time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for _, r := range s.records {
		if r.Date.Equal(date) {
			ids = append(ids, r.StudentID)
		}
	}
	return ids, nil
}

func (s *Store) UpdateStatus(_ context.Context, id uuid.UUID, change attendance.StatusChange) (attendance.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return attendance.Record{}, apperr.ErrNotFound
	}
	r.Status = change.Status
	r.Reason = change.Reason
	r.ApprovedBy = change.ApprovedBy
	r.CorrectedBy = change.CorrectedBy
	at := change.At
	r.CorrectedAt = &at
	r.UpdatedAt = at
	s.records[id] = r
	return r, nil
}

// Roster

func (s *Store) GetStudent(_ context.Context, id uuid.UUID) (roster.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	student, ok := s.students[id]
	if !ok {
		return roster.Student{}, apperr.ErrNotFound
	}
	return student, nil
}

func (s *Store) GetStudentByNumber(_ context.Context, number int64) (roster.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, student := range s.students {
		if student.StudentNumber == number {
			return student, nil
		}
	}
	return roster.Student{}, apperr.ErrNotFound
}

func (s *Store) GetStudentByCard(_ context.Context, cardID uuid.UUID) (roster.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, student := range s.students {
		if student.CardID == cardID {
			return student, nil
		}
	}
	return roster.Student{}, apperr.ErrNotFound
}

func (s *Store) ListActiveStudents(_ context.Context) ([]roster.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []roster.Student
	for _, student := range s.students {
		if student.Active {
			out = append(out, student)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentNumber < out[j].StudentNumber })
	return out, nil
}

func (s *Store) ActiveStudentsInClass(_ context.Context, classID uuid.UUID) ([]roster.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []roster.Student
	for _, student := range s.students {
		if student.Active && student.ClassID == classID {
			out = append(out, student)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentNumber < out[j].StudentNumber })
	return out, nil
}

func (s *Store) GetClass(_ context.Context, id uuid.UUID) (roster.Class, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.classes[id]
	if !ok {
		return roster.Class{}, apperr.ErrNotFound
	}
	count := 0
	for _, student := range s.students {
		if student.ClassID == id && student.Active {
			count++
		}
	}
	return roster.Class{ID: id, Name: name, StudentCount: count}, nil
}

// ConfigStore

func (s *Store) configGet(_ context.Context) (attendance.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config == nil {
		return attendance.Config{}, apperr.ErrNotFound
	}
	return *s.config, nil
}

func (s *Store) Save(_ context.Context, cfg attendance.Config) (attendance.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = &cfg
	return cfg, nil
}

// Configs adapts the store to attendance.ConfigStore; the method name Get is
// already taken by the ledger.
func (s *Store) Configs() attendance.ConfigStore {
	return configStore{s}
}

type configStore struct{ s *Store }

func (c configStore) Get(ctx context.Context) (attendance.Config, error) {
	return c.s.configGet(ctx)
}

func (c configStore) Save(ctx context.Context, cfg attendance.Config) (attendance.Config, error) {
	return c.s.Save(ctx, cfg)
}

// Calendar

func (s *Store) ExceptionOn(_ context.Context, date time.Time) (attendance.CalendarException, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.exceptions {
		if e.Date.Equal(date) {
			return e, true, nil
		}
	}
	return attendance.CalendarException{}, false, nil
}

func (s *Store) AddException(_ context.Context, e attendance.CalendarException) (attendance.CalendarException, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.exceptions {
		if existing.Date.Equal(e.Date) {
			return attendance.CalendarException{}, &apperr.DuplicateError{Constraint: "calendar_exceptions_date_key"}
		}
	}
	e.CreatedAt = time.Now().UTC()
	s.exceptions[e.ID] = e
	return e, nil
}

func (s *Store) RemoveException(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.exceptions[id]; !ok {
		return apperr.ErrNotFound
	}
	delete(s.exceptions, id)
	return nil
}

func (s *Store) ListExceptions(_ context.Context, from, to time.Time) ([]attendance.CalendarException, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []attendance.CalendarException
	for _, e := range s.exceptions {
		if !e.Date.Before(from) && !e.Date.After(to) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// Report reads

func (s *Store) RecordsOn(_ context.Context, date time.Time, classID *uuid.UUID) ([]attendance.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []attendance.Record
	for _, r := range s.records {
		if !r.Date.Equal(date) {
			continue
		}
		if classID != nil && r.ClassID != *classID {
			continue
		}
		out = append(out, r)
	}
	sortRecords(out, false)
	return out, nil
}

func (s *Store) RecordsInRange(_ context.Context, classID uuid.UUID, from, to *time.Time) ([]attendance.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []attendance.Record
	for _, r := range s.records {
		if r.ClassID != classID || !inRange(r.Date, from, to) {
			continue
		}
		out = append(out, r)
	}
	sortRecords(out, false)
	return out, nil
}

// SearchRecords filters by every non-zero field of the query.
func (s *Store) SearchRecords(_ context.Context, q reports.Query) ([]attendance.Record, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []attendance.Record
	for _, r := range s.records {
		if q.StudentID != nil && r.StudentID != *q.StudentID {
			continue
		}
		if q.ClassID != nil && r.ClassID != *q.ClassID {
			continue
		}
		if q.Status != "" && r.Status != q.Status {
			continue
		}
		if !inRange(r.Date, q.From, q.To) {
			continue
		}
		if q.Name != "" && !strings.Contains(strings.ToLower(r.StudentName), strings.ToLower(q.Name)) {
			continue
		}
		out = append(out, r)
	}
	sortRecords(out, !q.Ascending)
	total := len(out)
	start := q.Offset()
	if start > total {
		start = total
	}
	end := total
	if q.Limit > 0 && start+q.Limit < total {
		end = start + q.Limit
	}
	return out[start:end], total, nil
}

func inRange(date time.Time, from, to *time.Time) bool {
	if from != nil && date.Before(*from) {
		return false
	}
	if to != nil && date.After(*to) {
		return false
	}
	return true
}

func sortRecords(records []attendance.Record, dateDesc bool) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].Date.Equal(records[j].Date) {
			if dateDesc {
				return records[i].Date.After(records[j].Date)
			}
			return records[i].Date.Before(records[j].Date)
		}
		return records[i].StudentNumber < records[j].StudentNumber
	})
}
