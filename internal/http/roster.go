package http

import (
	"net/http"

	"rollcall/attendance/internal/roster"
)

type studentListResponse struct {
	Students    []roster.Student `json:"students"`
	Total       int              `json:"total"`
	TotalPages  int              `json:"totalPages"`
	CurrentPage int              `json:"currentPage"`
	Limit       int              `json:"limit"`
}

func (s *Server) handleRegisterStudent(w http.ResponseWriter, r *http.Request) {
	var req roster.RegisterStudentInput
	if !decodeBody(w, r, &req) {
		return
	}
	student, err := s.svc.Roster.RegisterStudent(r.Context(), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, student)
}

func (s *Server) handleListStudents(w http.ResponseWriter, r *http.Request) {
	filter := roster.StudentFilter{
		Active: queryBool(r, "active"),
		Query:  r.URL.Query().Get("search"),
		Page:   queryInt(r, "page"),
		Limit:  queryInt(r, "limit"),
	}
	var err error
	if filter.ClassID, err = queryUUID(r, "classId"); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if filter.CourseID, err = queryUUID(r, "courseId"); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	students, total, err := s.svc.Roster.ListStudents(r.Context(), filter)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if students == nil {
		students = []roster.Student{}
	}
	page, limit := roster.NormalizePage(filter.Page, filter.Limit)
	writeJSON(w, http.StatusOK, studentListResponse{
		Students:    students,
		Total:       total,
		TotalPages:  (total + limit - 1) / limit,
		CurrentPage: page,
		Limit:       limit,
	})
}

func (s *Server) handleGetStudent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "studentId")
	if !ok {
		return
	}
	student, err := s.svc.Roster.GetStudent(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, student)
}

func (s *Server) handleUpdateStudent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "studentId")
	if !ok {
		return
	}
	var req roster.UpdateStudentInput
	if !decodeBody(w, r, &req) {
		return
	}
	student, err := s.svc.Roster.UpdateStudent(r.Context(), id, req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, student)
}

func (s *Server) handleSetStudentActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "studentId")
		if !ok {
			return
		}
		student, err := s.svc.Roster.SetActive(r.Context(), id, active)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, student)
	}
}

// Classes

func (s *Server) handleCreateClass(w http.ResponseWriter, r *http.Request) {
	var req roster.ClassInput
	if !decodeBody(w, r, &req) {
		return
	}
	class, err := s.svc.Roster.CreateClass(r.Context(), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, class)
}

func (s *Server) handleListClasses(w http.ResponseWriter, r *http.Request) {
	classes, err := s.svc.Roster.ListClasses(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if classes == nil {
		classes = []roster.Class{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"classes": classes})
}

func (s *Server) handleGetClass(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "classId")
	if !ok {
		return
	}
	class, err := s.svc.Roster.GetClass(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, class)
}

func (s *Server) handleUpdateClass(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "classId")
	if !ok {
		return
	}
	var req roster.ClassInput
	if !decodeBody(w, r, &req) {
		return
	}
	class, err := s.svc.Roster.UpdateClass(r.Context(), id, req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, class)
}

func (s *Server) handleDeleteClass(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "classId")
	if !ok {
		return
	}
	if err := s.svc.Roster.DeleteClass(r.Context(), id); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Courses

func (s *Server) handleCreateCourse(w http.ResponseWriter, r *http.Request) {
	var req roster.CourseInput
	if !decodeBody(w, r, &req) {
		return
	}
	course, err := s.svc.Roster.CreateCourse(r.Context(), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, course)
}

func (s *Server) handleListCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := s.svc.Roster.ListCourses(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if courses == nil {
		courses = []roster.Course{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"courses": courses})
}

func (s *Server) handleGetCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "courseId")
	if !ok {
		return
	}
	course, err := s.svc.Roster.GetCourse(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, course)
}

func (s *Server) handleUpdateCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "courseId")
	if !ok {
		return
	}
	var req roster.CourseInput
	if !decodeBody(w, r, &req) {
		return
	}
	course, err := s.svc.Roster.UpdateCourse(r.Context(), id, req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, course)
}

func (s *Server) handleDeleteCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "courseId")
	if !ok {
		return
	}
	if err := s.svc.Roster.DeleteCourse(r.Context(), id); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
