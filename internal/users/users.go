// Package users manages staff accounts and their sessions.
package users

import (
	"context"
	"time"

	"github.com/google/uuid"

	"rollcall/attendance/internal/notify"
)

type User struct {
	ID           uuid.UUID  `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	FirstName    string     `json:"firstName"`
	LastName     string     `json:"lastName"`
	Role         string     `json:"role"`
	Active       bool       `json:"active"`
	PhotoURL     string     `json:"profilePhoto,omitempty"`
	CreatedBy    *uuid.UUID `json:"createdBy,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func (u User) FullName() string {
	return u.FirstName + " " + u.LastName
}

type Repository interface {
	CreateUser(ctx context.Context, u User) (User, error)
	GetUser(ctx context.Context, id uuid.UUID) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context, role string, page, limit int) ([]User, int, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
	UpdateRole(ctx context.Context, id uuid.UUID, role string) (User, error)
	SetUserActive(ctx context.Context, id uuid.UUID, active bool) (User, error)
	UpdatePhoto(ctx context.Context, id uuid.UUID, url string) (User, error)
}

// Notifier sends account emails without blocking the caller.
type Notifier interface {
	Welcome(to notify.Recipient, role, password string)
	PasswordChanged(to notify.Recipient, at time.Time)
	PasswordReset(to notify.Recipient, password string)
}

// PhotoStore persists a normalised photo and returns its URL.
type PhotoStore interface {
	PutPhoto(ctx context.Context, key string, data []byte) (string, error)
}
