package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rollcall/attendance/internal/apperr"
	"rollcall/attendance/internal/attendance"
	"rollcall/attendance/internal/auth"
	"rollcall/attendance/internal/config"
	"rollcall/attendance/internal/jobs"
	"rollcall/attendance/internal/logging"
	"rollcall/attendance/internal/reports"
	"rollcall/attendance/internal/roster"
	"rollcall/attendance/internal/users"
)

// Services are the domain services the router dispatches to. Scheduler may
// be nil when the sweep is disabled.
type Services struct {
	Attendance *attendance.Service
	Reports    *reports.Service
	Roster     *roster.Service
	Users      *users.Service
	Sweeper    *jobs.Sweeper
	Scheduler  *jobs.Scheduler
}

type Server struct {
	cfg          config.Config
	svc          Services
	log          logging.Logger
	sweepTimeout time.Duration
}

func NewServer(cfg config.Config, svc Services, log logging.Logger) *Server {
	timeout := cfg.SweepTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Server{cfg: cfg, svc: svc, log: log, sweepTimeout: timeout}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/forgot-password", s.handleForgotPassword)
	r.With(s.kioskMiddleware).Post("/attendance/tap", s.handleTap)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/auth/me", s.handleMe)
		r.Post("/auth/change-password", s.handleChangePassword)
		r.Post("/users/me/photo", s.handleUploadPhoto)

		r.With(requireRoles(auth.RoleAdmin, auth.RoleManager)).Post("/users", s.handleCreateUser)
		r.With(requireRoles(auth.RoleAdmin, auth.RoleManager)).Get("/users", s.handleListUsers)
		r.With(requireRoles(auth.RoleAdmin, auth.RoleManager)).Patch("/users/{userId}/role", s.handleUpdateRole)
		r.With(requireRoles(auth.RoleAdmin, auth.RoleManager)).Post("/users/{userId}/disable", s.handleDisableUser)

		r.Get("/attendance/date", s.handleAttendanceByDate)
		r.Get("/attendance/search", s.handleSearchAttendance)
		r.Get("/attendance/students/{studentId}", s.handleStudentHistory)
		r.Get("/attendance/classes/{classId}/summary", s.handleClassSummary)
		r.Get("/attendance/reports/daily", s.handleDailyReport)
		r.Get("/attendance/config", s.handleGetConfig)
		r.Get("/attendance/calendar", s.handleListExceptions)
		r.With(requireRoles(auth.RoleAdmin, auth.RoleManager)).Patch("/attendance/{recordId}/status", s.handleUpdateStatus)
		r.With(requireRoles(auth.RoleAdmin, auth.RoleManager)).Put("/attendance/config", s.handleUpdateConfig)
		r.With(requireRoles(auth.RoleAdmin, auth.RoleManager)).Post("/attendance/calendar", s.handleAddException)
		r.With(requireRoles(auth.RoleAdmin, auth.RoleManager)).Delete("/attendance/calendar/{exceptionId}", s.handleRemoveException)
		r.With(requireRoles(auth.RoleAdmin)).Get("/attendance/sweep", s.handleSweepStatus)
		r.With(requireRoles(auth.RoleAdmin)).Post("/attendance/sweep", s.handleForceSweep)

		rosterWrite := requireRoles(auth.RoleAdmin, auth.RoleManager, auth.RoleAccountant)
		r.Get("/students", s.handleListStudents)
		r.Get("/students/{studentId}", s.handleGetStudent)
		r.With(rosterWrite).Post("/students", s.handleRegisterStudent)
		r.With(rosterWrite).Patch("/students/{studentId}", s.handleUpdateStudent)
		r.With(rosterWrite).Post("/students/{studentId}/deactivate", s.handleSetStudentActive(false))
		r.With(rosterWrite).Post("/students/{studentId}/activate", s.handleSetStudentActive(true))

		r.Get("/classes", s.handleListClasses)
		r.Get("/classes/{classId}", s.handleGetClass)
		r.With(rosterWrite).Post("/classes", s.handleCreateClass)
		r.With(rosterWrite).Put("/classes/{classId}", s.handleUpdateClass)
		r.With(rosterWrite).Delete("/classes/{classId}", s.handleDeleteClass)

		r.Get("/courses", s.handleListCourses)
		r.Get("/courses/{courseId}", s.handleGetCourse)
		r.With(rosterWrite).Post("/courses", s.handleCreateCourse)
		r.With(rosterWrite).Put("/courses/{courseId}", s.handleUpdateCourse)
		r.With(rosterWrite).Delete("/courses/{courseId}", s.handleDeleteCourse)
	})

	return r
}

// Auth

type claimsKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token", "authorization token required")
			return
		}
		claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token", "invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

// actorID is the authenticated user's id, or nil when the subject is not a
// uuid.
func actorID(r *http.Request) *uuid.UUID {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		return nil
	}
	id, err := claims.ID()
	if err != nil {
		return nil
	}
	return &id
}

func requireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := claimsFromContext(r.Context())
			if claims == nil {
				writeError(w, http.StatusUnauthorized, "missing_token", "authorization token required")
				return
			}
			if !claims.HasRole(roles...) {
				writeError(w, http.StatusForbidden, "forbidden", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// kioskMiddleware guards tap-in with the shared kiosk token when one is
// configured. A staff bearer token is accepted as well.
func (s *Server) kioskMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.KioskToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		provided := strings.TrimSpace(r.Header.Get("X-Kiosk-Token"))
		if provided != "" && subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.KioskToken)) == 1 {
			next.ServeHTTP(w, r)
			return
		}
		if token := bearerToken(r.Header.Get("Authorization")); token != "" {
			if _, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token); err == nil {
				next.ServeHTTP(w, r)
				return
			}
		}
		writeError(w, http.StatusUnauthorized, "invalid_kiosk_token", "kiosk token required")
	})
}

// Helpers

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation, apperr.KindPolicy:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeAppError renders a service error. Anything that is not a client error
// is logged and reported without detail.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		appErr = apperr.Storage(r.Method+" "+r.URL.Path, err)
	}
	status := statusFor(appErr.Kind)
	if status >= http.StatusInternalServerError {
		s.log.Error(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"code", appErr.Code,
			"error", err,
		)
	}
	writeError(w, status, appErr.Code, appErr.Message)
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

// decodeBody decodes a JSON request body and writes the 400 itself on
// failure.
func decodeBody(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	if err := decodeJSON(r, out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body is not valid JSON for this endpoint")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

// pathUUID parses a uuid URL parameter and writes the 400 itself on failure.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", name+" must be a uuid")
		return uuid.Nil, false
	}
	return id, true
}

// queryUUID parses an optional uuid query parameter.
func queryUUID(r *http.Request, name string) (*uuid.UUID, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperr.Validation("invalid_id", name+" must be a uuid")
	}
	return &id, nil
}

func queryInt(r *http.Request, name string) int {
	if raw := r.URL.Query().Get(name); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return 0
}

func queryBool(r *http.Request, name string) *bool {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &v
}
