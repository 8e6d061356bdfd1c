package attendance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"rollcall/attendance/internal/apperr"
	"rollcall/attendance/internal/clock"
	"rollcall/attendance/internal/logging"
	"rollcall/attendance/internal/metrics"
	"rollcall/attendance/internal/roster"
)

const (
	ErrInvalidStudentID   = "invalid_student_id"
	ErrStudentNotFound    = "student_not_found"
	ErrStudentInactive    = "student_inactive"
	ErrNoAttendanceToday  = "no_attendance_today"
	ErrConfigMissing      = "config_missing"
	ErrWeekendBlocked     = "weekend_blocked"
	ErrOutsideWindow      = "outside_attendance_window"
	ErrAlreadyMarked      = "already_marked"
	ErrInvalidStatus      = "invalid_status"
	ErrApproverRequired   = "approver_required"
	ErrRecordNotFound     = "record_not_found"
	ErrInvalidConfig      = "invalid_config"
	ErrInvalidDate        = "invalid_date"
	ErrInvalidException   = "invalid_exception_type"
	ErrExceptionExists    = "calendar_exception_exists"
	ErrExceptionNotFound  = "calendar_exception_not_found"
	maxCalendarRangeYears = 2
)

type Service struct {
	ledger   Ledger
	roster   Roster
	configs  ConfigStore
	calendar Calendar
	clock    clock.Clock
	loc      *time.Location
	log      logging.Logger

	mu        sync.Mutex
	observers []func(Config)
}

func NewService(ledger Ledger, roster Roster, configs ConfigStore, calendar Calendar, clk clock.Clock, loc *time.Location, log logging.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		ledger:   ledger,
		roster:   roster,
		configs:  configs,
		calendar: calendar,
		clock:    clk,
		loc:      loc,
		log:      log,
	}
}

func (s *Service) Location() *time.Location { return s.loc }

// Today is the current attendance date.
func (s *Service) Today() time.Time {
	return clock.Date(s.clock.Now(), s.loc)
}

type TapResult struct {
	Record  Record `json:"record"`
	Message string `json:"message"`
}

// MarkAttendance records a tap for the student identified by card id,
// internal id or student number. Preconditions are checked in a fixed order
// and each failure has its own code.
func (s *Service) MarkAttendance(ctx context.Context, identifier string) (TapResult, error) {
	result, err := s.markAttendance(ctx, identifier)
	if err != nil {
		code := "server_error"
		if appErr, ok := apperr.As(err); ok {
			code = appErr.Code
		}
		metrics.TapsRejected.WithLabelValues(code).Inc()
		return TapResult{}, err
	}
	metrics.TapsRecorded.WithLabelValues(string(result.Record.Status)).Inc()
	return result, nil
}

func (s *Service) markAttendance(ctx context.Context, identifier string) (TapResult, error) {
	student, err := s.resolveStudent(ctx, identifier)
	if err != nil {
		return TapResult{}, err
	}
	if !student.Active {
		return TapResult{}, apperr.Policy(ErrStudentInactive, "student is inactive")
	}

	now := s.clock.Now().In(s.loc)
	today := clock.Date(now, s.loc)

	exception, blocked, err := s.calendar.ExceptionOn(ctx, today)
	if err != nil {
		return TapResult{}, apperr.Storage("calendar lookup", err)
	}
	if blocked {
		msg := "no attendance today"
		if exception.Description != "" {
			msg = fmt.Sprintf("no attendance today: %s", exception.Description)
		}
		return TapResult{}, apperr.Policy(ErrNoAttendanceToday, msg)
	}

	cfg, err := s.Config(ctx)
	if err != nil {
		return TapResult{}, err
	}
	if cfg.EnforceWeekend && cfg.IsWeekend(now.Weekday()) {
		return TapResult{}, apperr.Policy(ErrWeekendBlocked, "attendance is not taken on weekends")
	}
	if cfg.EnforceWindow && !cfg.WithinWindow(TimeOfDayOf(now)) {
		return TapResult{}, apperr.Policy(ErrOutsideWindow,
			fmt.Sprintf("attendance is open from %s to %s", cfg.OpenTime, cfg.CloseTime))
	}

	exists, err := s.ledger.Exists(ctx, student.ID, today)
	if err != nil {
		return TapResult{}, apperr.Storage("attendance lookup", err)
	}
	if exists {
		return TapResult{}, alreadyMarked()
	}

	status := Classify(now, cfg)
	tap := now
	record, err := s.ledger.Insert(ctx, Record{
		ID:        uuid.New(),
		StudentID: student.ID,
		ClassID:   student.ClassID,
		CardID:    student.CardID,
		Date:      today,
		Status:    status,
		TapTime:   &tap,
	})
	if err != nil {
		// Lost the race against another tap or the sweep.
		if errors.Is(err, apperr.ErrDuplicate) {
			return TapResult{}, alreadyMarked()
		}
		return TapResult{}, apperr.Storage("insert attendance", err)
	}
	record.StudentNumber = student.StudentNumber
	record.StudentName = student.FullName()
	record.ClassName = student.ClassName

	s.log.Info(ctx, "attendance marked", "student_id", student.ID, "status", status, "date", today.Format(DateLayout))
	return TapResult{
		Record:  record,
		Message: fmt.Sprintf("Attendance marked as %s", status),
	}, nil
}

func alreadyMarked() error {
	return apperr.Conflict(ErrAlreadyMarked, "attendance already marked for today")
}

func (s *Service) resolveStudent(ctx context.Context, identifier string) (roster.Student, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return roster.Student{}, apperr.Validation(ErrInvalidStudentID, "studentId is required")
	}

	var (
		student roster.Student
		err     error
	)
	if id, parseErr := uuid.Parse(identifier); parseErr == nil {
		student, err = s.roster.GetStudentByCard(ctx, id)
		if errors.Is(err, apperr.ErrNotFound) {
			student, err = s.roster.GetStudent(ctx, id)
		}
	} else if number, parseErr := strconv.ParseInt(identifier, 10, 64); parseErr == nil && number > 0 {
		student, err = s.roster.GetStudentByNumber(ctx, number)
	} else {
		return roster.Student{}, apperr.Validation(ErrInvalidStudentID, "studentId must be a student number or card id")
	}
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return roster.Student{}, apperr.NotFound(ErrStudentNotFound, "student not found")
		}
		return roster.Student{}, apperr.Storage("student lookup", err)
	}
	return student, nil
}

type StatusUpdate struct {
	Status   string     `json:"status"`
	Reason   string     `json:"reason"`
	Approver *uuid.UUID `json:"approver"`
}

// UpdateStatus corrects the status of an existing record. EXCUSED requires
// an approver, which is stored with the record.
func (s *Service) UpdateStatus(ctx context.Context, recordID uuid.UUID, in StatusUpdate, actor *uuid.UUID) (Record, error) {
	status, err := ParseStatus(in.Status)
	if err != nil {
		return Record{}, apperr.Validation(ErrInvalidStatus, "status must be one of PRESENT, LATE, ABSENT, EXCUSED")
	}
	change := StatusChange{
		Status:      status,
		Reason:      strings.TrimSpace(in.Reason),
		CorrectedBy: actor,
		At:          s.clock.Now().UTC(),
	}
	if status == StatusExcused {
		if in.Approver == nil || *in.Approver == uuid.Nil {
			return Record{}, apperr.Validation(ErrApproverRequired, "an approver is required to excuse an absence")
		}
		change.ApprovedBy = in.Approver
	}

	record, err := s.ledger.UpdateStatus(ctx, recordID, change)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Record{}, apperr.NotFound(ErrRecordNotFound, "attendance record not found")
		}
		return Record{}, apperr.Storage("update attendance status", err)
	}
	metrics.StatusCorrections.WithLabelValues(string(status)).Inc()
	s.log.Info(ctx, "attendance status corrected", "record_id", recordID, "status", status)
	return record, nil
}

// Config returns the singleton; a missing row is an operational error.
func (s *Service) Config(ctx context.Context) (Config, error) {
	cfg, err := s.configs.Get(ctx)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Config{}, apperr.Configuration(ErrConfigMissing, "attendance configuration is missing", err)
		}
		return Config{}, apperr.Storage("load attendance config", err)
	}
	return cfg, nil
}

type ConfigUpdate struct {
	OpenTime       *TimeOfDay      `json:"openTime"`
	LateThreshold  *TimeOfDay      `json:"lateThreshold"`
	CloseTime      *TimeOfDay      `json:"closeTime"`
	GraceMinutes   *int            `json:"graceMinutes"`
	WeekendDays    *[]time.Weekday `json:"weekendDays"`
	EnforceWindow  *bool           `json:"enforceWindow"`
	EnforceWeekend *bool           `json:"enforceWeekend"`
}

// UpdateConfig merges the update into the current singleton (or the defaults
// when none exists yet), saves it and notifies observers.
func (s *Service) UpdateConfig(ctx context.Context, in ConfigUpdate, actor *uuid.UUID) (Config, error) {
	cfg, err := s.configs.Get(ctx)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			return Config{}, apperr.Storage("load attendance config", err)
		}
		cfg = DefaultConfig()
	}
	if in.OpenTime != nil {
		cfg.OpenTime = *in.OpenTime
	}
	if in.LateThreshold != nil {
		cfg.LateThreshold = *in.LateThreshold
	}
	if in.CloseTime != nil {
		cfg.CloseTime = *in.CloseTime
	}
	if in.GraceMinutes != nil {
		cfg.GraceMinutes = *in.GraceMinutes
	}
	if in.WeekendDays != nil {
		cfg.WeekendDays = append([]time.Weekday(nil), (*in.WeekendDays)...)
	}
	if in.EnforceWindow != nil {
		cfg.EnforceWindow = *in.EnforceWindow
	}
	if in.EnforceWeekend != nil {
		cfg.EnforceWeekend = *in.EnforceWeekend
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, apperr.Validation(ErrInvalidConfig, err.Error())
	}
	cfg.UpdatedAt = s.clock.Now().UTC()
	cfg.UpdatedBy = actor

	saved, err := s.configs.Save(ctx, cfg)
	if err != nil {
		return Config{}, apperr.Storage("save attendance config", err)
	}
	s.log.Info(ctx, "attendance config updated", "close_time", saved.CloseTime.String(), "late_threshold", saved.LateThreshold.String())

	s.mu.Lock()
	observers := append([]func(Config){}, s.observers...)
	s.mu.Unlock()
	for _, fn := range observers {
		fn(saved)
	}
	return saved, nil
}

// OnConfigChange registers fn to run after every successful config update.
func (s *Service) OnConfigChange(fn func(Config)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

type ExceptionInput struct {
	Date        string `json:"date"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

func ParseExceptionKind(value string) (ExceptionKind, error) {
	switch kind := ExceptionKind(strings.ToUpper(strings.TrimSpace(value))); kind {
	case ExceptionHoliday, ExceptionNonInstructional, ExceptionClosure:
		return kind, nil
	case "":
		return ExceptionHoliday, nil
	default:
		return "", fmt.Errorf("unknown calendar exception type %q", value)
	}
}

func (s *Service) AddException(ctx context.Context, in ExceptionInput, actor *uuid.UUID) (CalendarException, error) {
	date, err := time.Parse(DateLayout, strings.TrimSpace(in.Date))
	if err != nil {
		return CalendarException{}, apperr.Validation(ErrInvalidDate, "date must be YYYY-MM-DD")
	}
	kind, err := ParseExceptionKind(in.Type)
	if err != nil {
		return CalendarException{}, apperr.Validation(ErrInvalidException, "type must be HOLIDAY, NON_INSTRUCTIONAL or CLOSURE")
	}
	created, err := s.calendar.AddException(ctx, CalendarException{
		ID:          uuid.New(),
		Date:        date,
		Kind:        kind,
		Description: strings.TrimSpace(in.Description),
		CreatedBy:   actor,
	})
	if err != nil {
		if errors.Is(err, apperr.ErrDuplicate) {
			return CalendarException{}, apperr.Conflict(ErrExceptionExists, "a calendar exception already exists for this date")
		}
		return CalendarException{}, apperr.Storage("add calendar exception", err)
	}
	return created, nil
}

func (s *Service) RemoveException(ctx context.Context, id uuid.UUID) error {
	if err := s.calendar.RemoveException(ctx, id); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.NotFound(ErrExceptionNotFound, "calendar exception not found")
		}
		return apperr.Storage("remove calendar exception", err)
	}
	return nil
}

// ListExceptions returns exceptions in [from, to]. Zero bounds default to the
// current calendar year.
func (s *Service) ListExceptions(ctx context.Context, from, to time.Time) ([]CalendarException, error) {
	today := s.Today()
	if from.IsZero() {
		from = time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	if to.IsZero() {
		to = time.Date(from.Year(), time.December, 31, 0, 0, 0, 0, time.UTC)
	}
	if to.Before(from) {
		return nil, apperr.Validation(ErrInvalidDate, "to must not be before from")
	}
	if to.After(from.AddDate(maxCalendarRangeYears, 0, 0)) {
		return nil, apperr.Validation(ErrInvalidDate, "range must not exceed two years")
	}
	items, err := s.calendar.ListExceptions(ctx, from, to)
	if err != nil {
		return nil, apperr.Storage("list calendar exceptions", err)
	}
	return items, nil
}
