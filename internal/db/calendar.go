package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"rollcall/attendance/internal/apperr"
	"rollcall/attendance/internal/attendance"
)

const exceptionColumns = `id, date, type, description, created_by, created_at`

func scanException(row pgx.Row) (attendance.CalendarException, error) {
	var (
		e    attendance.CalendarException
		kind string
	)
	if err := row.Scan(&e.ID, &e.Date, &kind, &e.Description, &e.CreatedBy, &e.CreatedAt); err != nil {
		return attendance.CalendarException{}, mapErr(err)
	}
	e.Kind = attendance.ExceptionKind(kind)
	return e, nil
}

func (q *Queries) ExceptionOn(ctx context.Context, date time.Time) (attendance.CalendarException, bool, error) {
	e, err := scanException(q.db.QueryRow(ctx, `SELECT `+exceptionColumns+` FROM calendar_exceptions WHERE date = $1`, date))
	if errors.Is(err, apperr.ErrNotFound) {
		return attendance.CalendarException{}, false, nil
	}
	if err != nil {
		return attendance.CalendarException{}, false, err
	}
	return e, true, nil
}

func (q *Queries) AddException(ctx context.Context, e attendance.CalendarException) (attendance.CalendarException, error) {
	return scanException(q.db.QueryRow(ctx, `
		INSERT INTO calendar_exceptions (id, date, type, description, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+exceptionColumns,
		e.ID, e.Date, string(e.Kind), e.Description, e.CreatedBy))
}

func (q *Queries) RemoveException(ctx context.Context, id uuid.UUID) error {
	return execOne(q.db.Exec(ctx, `DELETE FROM calendar_exceptions WHERE id = $1`, id))
}

func (q *Queries) ListExceptions(ctx context.Context, from, to time.Time) ([]attendance.CalendarException, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+exceptionColumns+` FROM calendar_exceptions
		WHERE date >= $1 AND date <= $2 ORDER BY date
	`, from, to)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []attendance.CalendarException
	for rows.Next() {
		e, err := scanException(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, mapErr(rows.Err())
}
