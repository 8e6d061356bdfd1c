package users

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"rollcall/attendance/internal/apperr"
	"rollcall/attendance/internal/auth"
	"rollcall/attendance/internal/clock"
	"rollcall/attendance/internal/crypto"
	"rollcall/attendance/internal/logging"
	"rollcall/attendance/internal/notify"
	"rollcall/attendance/internal/roster"
	"rollcall/attendance/internal/storage"
	"rollcall/attendance/internal/validation"
)

const (
	ErrInvalidCredentials = "invalid_credentials"
	ErrAccountDisabled    = "account_disabled"
	ErrUserNotFound       = "user_not_found"
	ErrEmailExists        = "email_exists"
	ErrInvalidRole        = "invalid_role"
	ErrProtectedRole      = "protected_role"
	ErrSelfModification   = "self_modification"
	ErrWrongPassword      = "wrong_password"
	ErrSamePassword       = "same_password"
	ErrPhotoTooLarge      = "photo_too_large"
	ErrPhotoInvalid       = "photo_invalid"
	ErrPhotoDisabled      = "photo_storage_disabled"
	ErrWeakPassword       = "weak_password"

	tempPasswordLength = 12
	minPasswordLength  = 8
	maxPasswordLength  = 72
)

type TokenConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

type PhotoLimits struct {
	MaxBytes int64
	Size     int
}

type Service struct {
	repo     Repository
	notifier Notifier
	photos   PhotoStore
	tokens   TokenConfig
	limits   PhotoLimits
	clock    clock.Clock
	log      logging.Logger
}

// NewService builds the account service. photos may be nil, in which case
// photo uploads fail with a configuration error.
func NewService(repo Repository, notifier Notifier, photos PhotoStore, tokens TokenConfig, limits PhotoLimits, clk clock.Clock, log logging.Logger) *Service {
	if limits.MaxBytes <= 0 {
		limits.MaxBytes = 5 << 20
	}
	if limits.Size <= 0 {
		limits.Size = 256
	}
	return &Service{
		repo:     repo,
		notifier: notifier,
		photos:   photos,
		tokens:   tokens,
		limits:   limits,
		clock:    clk,
		log:      log,
	}
}

// privileged roles can only be granted by an admin and never through a role
// update.
func privileged(role string) bool {
	return role == auth.RoleAdmin || role == auth.RoleManager
}

func recipient(u User) notify.Recipient {
	return notify.Recipient{Name: u.FullName(), Email: u.Email}
}

type CreateInput struct {
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"firstName" validate:"required,max=100"`
	LastName  string `json:"lastName" validate:"required,max=100"`
	Role      string `json:"role" validate:"required"`
}

// Create adds an account with a temporary password and emails it to the new
// user. Only admins may create admin or manager accounts.
func (s *Service) Create(ctx context.Context, in CreateInput, actor *auth.Claims) (User, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	if err := validation.Struct(in); err != nil {
		return User{}, err
	}
	role := strings.ToLower(strings.TrimSpace(in.Role))
	if !auth.ValidRole(role) {
		return User{}, apperr.Validation(ErrInvalidRole, "role must be one of "+strings.Join(auth.Roles(), ", "))
	}
	if privileged(role) && !actor.HasRole(auth.RoleAdmin) {
		return User{}, apperr.Forbidden(ErrProtectedRole, "only admins can create admin or manager accounts")
	}

	password, err := crypto.TempPassword(tempPasswordLength)
	if err != nil {
		return User{}, apperr.Storage("generate password", err)
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return User{}, apperr.Storage("hash password", err)
	}
	creator, _ := actor.ID()
	user := User{
		ID:           uuid.New(),
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Role:         role,
		Active:       true,
		PhotoURL:     roster.AvatarURL(in.FirstName, in.LastName, ""),
	}
	if creator != uuid.Nil {
		user.CreatedBy = &creator
	}

	created, err := s.repo.CreateUser(ctx, user)
	if err != nil {
		if errors.Is(err, apperr.ErrDuplicate) {
			return User{}, apperr.Conflict(ErrEmailExists, "email is already registered")
		}
		return User{}, apperr.Storage("create user", err)
	}
	s.notifier.Welcome(recipient(created), created.Role, password)
	s.log.Info(ctx, "user created", "user_id", created.ID, "role", created.Role)
	return created, nil
}

// Bootstrap provisions an admin account with a chosen password. It backs
// the command line tool used to create the first account.
func (s *Service) Bootstrap(ctx context.Context, in CreateInput, password string) (User, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Role = auth.RoleAdmin
	if err := validation.Struct(in); err != nil {
		return User{}, err
	}
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return User{}, apperr.Validation(ErrWeakPassword, fmt.Sprintf("password must be %d to %d characters", minPasswordLength, maxPasswordLength))
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return User{}, apperr.Storage("hash password", err)
	}
	created, err := s.repo.CreateUser(ctx, User{
		ID:           uuid.New(),
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Role:         auth.RoleAdmin,
		Active:       true,
		PhotoURL:     roster.AvatarURL(in.FirstName, in.LastName, ""),
	})
	if err != nil {
		if errors.Is(err, apperr.ErrDuplicate) {
			return User{}, apperr.Conflict(ErrEmailExists, "email is already registered")
		}
		return User{}, apperr.Storage("create user", err)
	}
	s.log.Info(ctx, "admin bootstrapped", "user_id", created.ID)
	return created, nil
}

type ListResult struct {
	Users []User `json:"users"`
	Total int    `json:"total"`
	Page  int    `json:"currentPage"`
	Limit int    `json:"limit"`
}

func (s *Service) List(ctx context.Context, role string, page, limit int) (ListResult, error) {
	page, limit = roster.NormalizePage(page, limit)
	role = strings.ToLower(strings.TrimSpace(role))
	if role != "" && !auth.ValidRole(role) {
		return ListResult{}, apperr.Validation(ErrInvalidRole, "unknown role filter")
	}
	items, total, err := s.repo.ListUsers(ctx, role, page, limit)
	if err != nil {
		return ListResult{}, apperr.Storage("list users", err)
	}
	if items == nil {
		items = []User{}
	}
	return ListResult{Users: items, Total: total, Page: page, Limit: limit}, nil
}

type LoginResult struct {
	Token     string    `json:"access_token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}

func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	user, err := s.repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return LoginResult{}, apperr.Unauthorized(ErrInvalidCredentials, "invalid email or password")
		}
		return LoginResult{}, apperr.Storage("find user", err)
	}
	if crypto.CheckPassword(user.PasswordHash, password) != nil {
		return LoginResult{}, apperr.Unauthorized(ErrInvalidCredentials, "invalid email or password")
	}
	if !user.Active {
		return LoginResult{}, apperr.Forbidden(ErrAccountDisabled, "account is disabled")
	}

	token, err := auth.NewAccessToken(s.tokens.Secret, s.tokens.Issuer, s.tokens.TTL, auth.Claims{
		UserID: user.ID.String(),
		Email:  user.Email,
		Role:   user.Role,
	})
	if err != nil {
		return LoginResult{}, apperr.Storage("sign token", err)
	}
	return LoginResult{Token: token, ExpiresAt: s.clock.Now().UTC().Add(s.tokens.TTL), User: user}, nil
}

func (s *Service) Me(ctx context.Context, id uuid.UUID) (User, error) {
	return s.get(ctx, id)
}

func (s *Service) get(ctx context.Context, id uuid.UUID) (User, error) {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return User{}, apperr.NotFound(ErrUserNotFound, "user not found")
		}
		return User{}, apperr.Storage("get user", err)
	}
	return user, nil
}

type ChangePasswordInput struct {
	Current string `json:"currentPassword" validate:"required"`
	New     string `json:"newPassword" validate:"required,min=8,max=72"`
}

func (s *Service) ChangePassword(ctx context.Context, id uuid.UUID, in ChangePasswordInput) error {
	if err := validation.Struct(in); err != nil {
		return err
	}
	user, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if crypto.CheckPassword(user.PasswordHash, in.Current) != nil {
		return apperr.Validation(ErrWrongPassword, "current password is incorrect")
	}
	if in.Current == in.New {
		return apperr.Validation(ErrSamePassword, "new password must differ from the current one")
	}
	hash, err := crypto.HashPassword(in.New)
	if err != nil {
		return apperr.Storage("hash password", err)
	}
	if err := s.repo.UpdatePassword(ctx, id, hash); err != nil {
		return apperr.Storage("update password", err)
	}
	s.notifier.PasswordChanged(recipient(user), s.clock.Now())
	return nil
}

// ForgotPassword resets an active account to a temporary password and
// emails it. Unknown or disabled accounts are ignored so callers cannot
// probe which emails exist.
func (s *Service) ForgotPassword(ctx context.Context, email string) {
	user, err := s.repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			s.log.Error(ctx, "forgot password lookup", "err", err)
		}
		return
	}
	if !user.Active {
		return
	}
	password, err := crypto.TempPassword(tempPasswordLength)
	if err != nil {
		s.log.Error(ctx, "generate password", "err", err)
		return
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		s.log.Error(ctx, "hash password", "err", err)
		return
	}
	if err := s.repo.UpdatePassword(ctx, user.ID, hash); err != nil {
		s.log.Error(ctx, "reset password", "user_id", user.ID, "err", err)
		return
	}
	s.notifier.PasswordReset(recipient(user), password)
}

// UpdateRole changes a non-privileged account's role to another
// non-privileged role.
func (s *Service) UpdateRole(ctx context.Context, id uuid.UUID, role string, actor *auth.Claims) (User, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	if !auth.ValidRole(role) {
		return User{}, apperr.Validation(ErrInvalidRole, "role must be one of "+strings.Join(auth.Roles(), ", "))
	}
	if privileged(role) {
		return User{}, apperr.Forbidden(ErrProtectedRole, "admin and manager roles cannot be assigned")
	}
	if self, _ := actor.ID(); self == id {
		return User{}, apperr.Forbidden(ErrSelfModification, "you cannot change your own role")
	}
	target, err := s.get(ctx, id)
	if err != nil {
		return User{}, err
	}
	if privileged(target.Role) {
		return User{}, apperr.Forbidden(ErrProtectedRole, "admin and manager accounts cannot be modified")
	}
	updated, err := s.repo.UpdateRole(ctx, id, role)
	if err != nil {
		return User{}, apperr.Storage("update role", err)
	}
	s.log.Info(ctx, "user role updated", "user_id", id, "from", target.Role, "to", role, "by", actor.UserID)
	return updated, nil
}

// Disable deactivates an account. Managers cannot disable privileged
// accounts and nobody can disable themselves.
func (s *Service) Disable(ctx context.Context, id uuid.UUID, actor *auth.Claims) (User, error) {
	if self, _ := actor.ID(); self == id {
		return User{}, apperr.Forbidden(ErrSelfModification, "you cannot disable your own account")
	}
	target, err := s.get(ctx, id)
	if err != nil {
		return User{}, err
	}
	if privileged(target.Role) && !actor.HasRole(auth.RoleAdmin) {
		return User{}, apperr.Forbidden(ErrProtectedRole, "only admins can disable admin or manager accounts")
	}
	updated, err := s.repo.SetUserActive(ctx, id, false)
	if err != nil {
		return User{}, apperr.Storage("disable user", err)
	}
	s.log.Info(ctx, "user disabled", "user_id", id, "by", actor.UserID)
	return updated, nil
}

// UploadPhoto normalises the image and stores it as the user's profile photo.
func (s *Service) UploadPhoto(ctx context.Context, id uuid.UUID, r io.Reader) (User, error) {
	if s.photos == nil {
		return User{}, apperr.Configuration(ErrPhotoDisabled, "photo storage is not configured", nil)
	}
	data, err := storage.NormalizePhoto(r, s.limits.MaxBytes, s.limits.Size)
	switch {
	case errors.Is(err, storage.ErrTooLarge):
		return User{}, apperr.Validation(ErrPhotoTooLarge, fmt.Sprintf("photo must be at most %d bytes", s.limits.MaxBytes))
	case errors.Is(err, storage.ErrNotImage):
		return User{}, apperr.Validation(ErrPhotoInvalid, "photo must be a JPEG, PNG or GIF image")
	case err != nil:
		return User{}, apperr.Storage("normalize photo", err)
	}
	url, err := s.photos.PutPhoto(ctx, storage.PhotoKey(id), data)
	if err != nil {
		return User{}, apperr.Storage("upload photo", err)
	}
	user, err := s.repo.UpdatePhoto(ctx, id, url)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return User{}, apperr.NotFound(ErrUserNotFound, "user not found")
		}
		return User{}, apperr.Storage("save photo url", err)
	}
	return user, nil
}
