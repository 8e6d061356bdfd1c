package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"rollcall/attendance/internal/users"
)

const userColumns = `id, email, password_hash, first_name, last_name, role, is_active, photo_url,
	created_by, created_at, updated_at`

func scanUser(row pgx.Row) (users.User, error) {
	var u users.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Role, &u.Active,
		&u.PhotoURL, &u.CreatedBy, &u.CreatedAt, &u.UpdatedAt)
	return u, mapErr(err)
}

func (q *Queries) CreateUser(ctx context.Context, u users.User) (users.User, error) {
	return scanUser(q.db.QueryRow(ctx, `
		INSERT INTO users (id, email, password_hash, first_name, last_name, role, is_active, photo_url, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+userColumns,
		u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Role, u.Active, u.PhotoURL, u.CreatedBy))
}

func (q *Queries) GetUser(ctx context.Context, id uuid.UUID) (users.User, error) {
	return scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (users.User, error) {
	return scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
}

func (q *Queries) ListUsers(ctx context.Context, role string, page, limit int) ([]users.User, int, error) {
	var total int
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE ($1 = '' OR role = $1)`, role).Scan(&total)
	if err != nil {
		return nil, 0, mapErr(err)
	}
	offset := 0
	if page > 1 {
		offset = (page - 1) * limit
	}
	rows, err := q.db.Query(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE ($1 = '' OR role = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, role, limit, offset)
	if err != nil {
		return nil, 0, mapErr(err)
	}
	defer rows.Close()
	var out []users.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, u)
	}
	return out, total, mapErr(rows.Err())
}

func (q *Queries) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	return execOne(q.db.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`, id, hash))
}

func (q *Queries) UpdateRole(ctx context.Context, id uuid.UUID, role string) (users.User, error) {
	return scanUser(q.db.QueryRow(ctx, `
		UPDATE users SET role = $2, updated_at = now() WHERE id = $1 RETURNING `+userColumns, id, role))
}

func (q *Queries) SetUserActive(ctx context.Context, id uuid.UUID, active bool) (users.User, error) {
	return scanUser(q.db.QueryRow(ctx, `
		UPDATE users SET is_active = $2, updated_at = now() WHERE id = $1 RETURNING `+userColumns, id, active))
}

func (q *Queries) UpdatePhoto(ctx context.Context, id uuid.UUID, url string) (users.User, error) {
	return scanUser(q.db.QueryRow(ctx, `
		UPDATE users SET photo_url = $2, updated_at = now() WHERE id = $1 RETURNING `+userColumns, id, url))
}
