package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"rollcall/attendance/internal/attendance"
	"rollcall/attendance/internal/jobs"
	"rollcall/attendance/internal/reports"
)

type tapRequest struct {
	StudentID studentRef `json:"studentId"`
}

// studentRef accepts a card id or student number sent as a JSON string, or
// a student number sent as a bare integer.
type studentRef string

func (s *studentRef) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		*s = studentRef(raw)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if _, err := n.Int64(); err != nil {
		return fmt.Errorf("studentId %s is not an integer", n)
	}
	*s = studentRef(n.String())
	return nil
}

func (s *Server) handleTap(w http.ResponseWriter, r *http.Request) {
	var req tapRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := s.svc.Attendance.MarkAttendance(r.Context(), string(req.StudentID))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleAttendanceByDate(w http.ResponseWriter, r *http.Request) {
	date, err := reports.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	classID, err := queryUUID(r, "classId")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	records, err := s.svc.Reports.AttendanceByDate(r.Context(), date, classID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": records, "total": len(records)})
}

func (s *Server) handleDailyReport(w http.ResponseWriter, r *http.Request) {
	date, err := reports.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	classID, err := queryUUID(r, "classId")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	report, err := s.svc.Reports.DailyReport(r.Context(), date, classID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleSearchAttendance accepts either date or startDate/endDate.
func (s *Server) handleSearchAttendance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := reports.Query{
		Status:    attendance.Status(q.Get("status")),
		Name:      q.Get("name"),
		Ascending: strings.EqualFold(q.Get("sort"), "asc"),
		Page:      queryInt(r, "page"),
		Limit:     queryInt(r, "limit"),
	}
	var err error
	if query.ClassID, err = queryUUID(r, "classId"); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if query.StudentID, err = queryUUID(r, "studentId"); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if raw := q.Get("date"); raw != "" {
		day, err := reports.ParseDate(raw)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		query.From, query.To = day, day
	} else {
		if query.From, err = reports.ParseDate(q.Get("startDate")); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		if query.To, err = reports.ParseDate(q.Get("endDate")); err != nil {
			s.writeAppError(w, r, err)
			return
		}
	}
	result, err := s.svc.Reports.Search(r.Context(), query)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStudentHistory(w http.ResponseWriter, r *http.Request) {
	studentID, ok := pathUUID(w, r, "studentId")
	if !ok {
		return
	}
	from, to, err := dateRange(r)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	history, err := s.svc.Reports.StudentHistory(r.Context(), studentID, from, to, queryInt(r, "page"), queryInt(r, "limit"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleClassSummary(w http.ResponseWriter, r *http.Request) {
	classID, ok := pathUUID(w, r, "classId")
	if !ok {
		return
	}
	from, to, err := dateRange(r)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	summary, err := s.svc.Reports.ClassSummary(r.Context(), classID, from, to)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func dateRange(r *http.Request) (*time.Time, *time.Time, error) {
	from, err := reports.ParseDate(r.URL.Query().Get("startDate"))
	if err != nil {
		return nil, nil, err
	}
	to, err := reports.ParseDate(r.URL.Query().Get("endDate"))
	if err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	recordID, ok := pathUUID(w, r, "recordId")
	if !ok {
		return
	}
	var req attendance.StatusUpdate
	if !decodeBody(w, r, &req) {
		return
	}
	actor := actorID(r)
	if req.Approver == nil && strings.EqualFold(strings.TrimSpace(req.Status), string(attendance.StatusExcused)) {
		req.Approver = actor
	}
	record, err := s.svc.Attendance.UpdateStatus(r.Context(), recordID, req, actor)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.svc.Attendance.Config(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req attendance.ConfigUpdate
	if !decodeBody(w, r, &req) {
		return
	}
	cfg, err := s.svc.Attendance.UpdateConfig(r.Context(), req, actorID(r))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleListExceptions(w http.ResponseWriter, r *http.Request) {
	from, to, err := dateRange(r)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	var fromDay, toDay time.Time
	if from != nil {
		fromDay = *from
	}
	if to != nil {
		toDay = *to
	}
	items, err := s.svc.Attendance.ListExceptions(r.Context(), fromDay, toDay)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if items == nil {
		items = []attendance.CalendarException{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"exceptions": items})
}

func (s *Server) handleAddException(w http.ResponseWriter, r *http.Request) {
	var req attendance.ExceptionInput
	if !decodeBody(w, r, &req) {
		return
	}
	exception, err := s.svc.Attendance.AddException(r.Context(), req, actorID(r))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, exception)
}

func (s *Server) handleRemoveException(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "exceptionId")
	if !ok {
		return
	}
	if err := s.svc.Attendance.RemoveException(r.Context(), id); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sweepStatusResponse struct {
	Running    bool         `json:"running"`
	LastResult *jobs.Result `json:"lastResult"`
	NextRun    *time.Time   `json:"nextRun,omitempty"`
}

func (s *Server) handleSweepStatus(w http.ResponseWriter, _ *http.Request) {
	resp := sweepStatusResponse{Running: s.svc.Sweeper.IsRunning()}
	if last, ok := s.svc.Sweeper.LastResult(); ok {
		resp.LastResult = &last
	}
	if s.svc.Scheduler != nil {
		if next := s.svc.Scheduler.Next(); !next.IsZero() {
			resp.NextRun = &next
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleForceSweep runs the sweep inline under the same guard as the daily
// trigger. The run is detached from the request so a dropped client does not
// cut it short.
func (s *Server) handleForceSweep(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.sweepTimeout)
	defer cancel()

	result, err := s.svc.Sweeper.Run(ctx)
	if errors.Is(err, jobs.ErrAlreadyRunning) {
		writeError(w, http.StatusConflict, "sweep_running", "an absentee sweep is already running")
		return
	}
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
