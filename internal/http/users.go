package http

import (
	"net/http"

	"rollcall/attendance/internal/apperr"
	"rollcall/attendance/internal/users"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type roleRequest struct {
	Role string `json:"role"`
}

// multipartOverhead leaves room for form boundaries around the photo part.
const multipartOverhead = 1 << 20

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := s.svc.Users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleForgotPassword always answers 200 so callers cannot probe for
// registered addresses.
func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.svc.Users.ForgotPassword(r.Context(), req.Email)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "if the address is registered, a temporary password has been sent",
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id := actorID(r)
	if id == nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "token subject is not a user")
		return
	}
	user, err := s.svc.Users.Me(r.Context(), *id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	id := actorID(r)
	if id == nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "token subject is not a user")
		return
	}
	var req users.ChangePasswordInput
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.svc.Users.ChangePassword(r.Context(), *id, req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req users.CreateInput
	if !decodeBody(w, r, &req) {
		return
	}
	user, err := s.svc.Users.Create(r.Context(), req, claimsFromContext(r.Context()))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.Users.List(r.Context(), r.URL.Query().Get("role"), queryInt(r, "page"), queryInt(r, "limit"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "userId")
	if !ok {
		return
	}
	var req roleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, err := s.svc.Users.UpdateRole(r.Context(), id, req.Role, claimsFromContext(r.Context()))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleDisableUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "userId")
	if !ok {
		return
	}
	user, err := s.svc.Users.Disable(r.Context(), id, claimsFromContext(r.Context()))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleUploadPhoto(w http.ResponseWriter, r *http.Request) {
	id := actorID(r)
	if id == nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "token subject is not a user")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.PhotoMaxBytes+multipartOverhead)
	file, _, err := r.FormFile("photo")
	if err != nil {
		s.writeAppError(w, r, apperr.Validation(users.ErrPhotoInvalid, "multipart field photo is required"))
		return
	}
	defer file.Close()

	user, err := s.svc.Users.UploadPhoto(r.Context(), *id, file)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
