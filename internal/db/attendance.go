package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"rollcall/attendance/internal/attendance"
	"rollcall/attendance/internal/reports"
)

const recordColumns = `a.id, a.student_id, a.class_id, a.card_id, a.date, a.status, a.tap_time, a.reason,
	a.approved_by, a.corrected_by, a.corrected_at, a.created_at, a.updated_at`

const recordJoinColumns = recordColumns + `, s.student_number, s.first_name || ' ' || s.last_name, c.name`

const recordJoin = ` FROM attendance_records a
	JOIN students s ON s.id = a.student_id
	JOIN classes c ON c.id = a.class_id`

func recordDest(r *attendance.Record, status *string) []any {
	return []any{
		&r.ID,
		&r.StudentID,
		&r.ClassID,
		&r.CardID,
		&r.Date,
		status,
		&r.TapTime,
		&r.Reason,
		&r.ApprovedBy,
		&r.CorrectedBy,
		&r.CorrectedAt,
		&r.CreatedAt,
		&r.UpdatedAt,
	}
}

func scanRecord(row pgx.Row) (attendance.Record, error) {
	var (
		r      attendance.Record
		status string
	)
	if err := row.Scan(recordDest(&r, &status)...); err != nil {
		return attendance.Record{}, mapErr(err)
	}
	r.Status = attendance.Status(status)
	return r, nil
}

func scanJoinedRecord(row pgx.Row) (attendance.Record, error) {
	var (
		r      attendance.Record
		status string
	)
	dest := append(recordDest(&r, &status), &r.StudentNumber, &r.StudentName, &r.ClassName)
	if err := row.Scan(dest...); err != nil {
		return attendance.Record{}, mapErr(err)
	}
	r.Status = attendance.Status(status)
	return r, nil
}

func collectJoinedRecords(rows pgx.Rows, err error) ([]attendance.Record, error) {
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []attendance.Record
	for rows.Next() {
		r, err := scanJoinedRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, mapErr(rows.Err())
}

func (q *Queries) InsertRecord(ctx context.Context, r attendance.Record) (attendance.Record, error) {
	return scanRecord(q.db.QueryRow(ctx, `
		INSERT INTO attendance_records AS a (id, student_id, class_id, card_id, date, status, tap_time, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+recordColumns,
		r.ID, r.StudentID, r.ClassID, r.CardID, r.Date, string(r.Status), r.TapTime, r.Reason))
}

func (q *Queries) GetRecord(ctx context.Context, id uuid.UUID) (attendance.Record, error) {
	return scanJoinedRecord(q.db.QueryRow(ctx, `SELECT `+recordJoinColumns+recordJoin+` WHERE a.id = $1`, id))
}

func (q *Queries) getRecordForUpdate(ctx context.Context, id uuid.UUID) (attendance.Record, error) {
	return scanRecord(q.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM attendance_records a WHERE a.id = $1 FOR UPDATE`, id))
}

func (q *Queries) RecordExists(ctx context.Context, studentID uuid.UUID, date time.Time) (bool, error) {
	var ok bool
	err := q.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM attendance_records WHERE student_id = $1 AND date = $2)
	`, studentID, date).Scan(&ok)
	return ok, mapErr(err)
}

// SweptOn matches rows only the sweep produces: ABSENT, no tap, never
// corrected.
func (q *Queries) SweptOn(ctx context.Context, date time.Time) (bool, error) {
	var ok bool
	err := q.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM attendance_records
			WHERE date = $1 AND status = 'ABSENT' AND tap_time IS NULL AND corrected_at IS NULL
		)
	`, date).Scan(&ok)
	return ok, mapErr(err)
}

func (q *Queries) StudentIDsWithRecord(ctx context.Context, date time.Time) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, `SELECT student_id FROM attendance_records WHERE date = $1`, date)
	if err != nil {
		return nil, mapErr(err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	return ids, mapErr(err)
}

func (q *Queries) updateRecordStatus(ctx context.Context, id uuid.UUID, change attendance.StatusChange) error {
	return execOne(q.db.Exec(ctx, `
		UPDATE attendance_records
		SET status = $2, reason = $3, approved_by = $4, corrected_by = $5, corrected_at = $6, updated_at = $6
		WHERE id = $1
	`, id, string(change.Status), change.Reason, change.ApprovedBy, change.CorrectedBy, change.At))
}

// RecordsOn returns the day's rows ordered by student number.
func (q *Queries) RecordsOn(ctx context.Context, date time.Time, classID *uuid.UUID) ([]attendance.Record, error) {
	if classID != nil {
		return collectJoinedRecords(q.db.Query(ctx, `SELECT `+recordJoinColumns+recordJoin+`
			WHERE a.date = $1 AND a.class_id = $2 ORDER BY s.student_number`, date, *classID))
	}
	return collectJoinedRecords(q.db.Query(ctx, `SELECT `+recordJoinColumns+recordJoin+`
		WHERE a.date = $1 ORDER BY s.student_number`, date))
}

func (q *Queries) RecordsInRange(ctx context.Context, classID uuid.UUID, from, to *time.Time) ([]attendance.Record, error) {
	return collectJoinedRecords(q.db.Query(ctx, `SELECT `+recordJoinColumns+recordJoin+`
		WHERE a.class_id = $1
			AND ($2::date IS NULL OR a.date >= $2)
			AND ($3::date IS NULL OR a.date <= $3)
		ORDER BY a.date, s.student_number`, classID, from, to))
}

func (q *Queries) SearchRecords(ctx context.Context, rq reports.Query) ([]attendance.Record, int, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if rq.StudentID != nil {
		where = append(where, "a.student_id = "+arg(*rq.StudentID))
	}
	if rq.ClassID != nil {
		where = append(where, "a.class_id = "+arg(*rq.ClassID))
	}
	if rq.Status != "" {
		where = append(where, "a.status = "+arg(string(rq.Status)))
	}
	if rq.From != nil {
		where = append(where, "a.date >= "+arg(*rq.From))
	}
	if rq.To != nil {
		where = append(where, "a.date <= "+arg(*rq.To))
	}
	if rq.Name != "" {
		p := arg("%" + rq.Name + "%")
		where = append(where, fmt.Sprintf("(s.first_name ILIKE %s OR s.last_name ILIKE %s)", p, p))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := q.db.QueryRow(ctx, `SELECT COUNT(*)`+recordJoin+clause, args...).Scan(&total); err != nil {
		return nil, 0, mapErr(err)
	}
	order := " ORDER BY a.date DESC, s.student_number"
	if rq.Ascending {
		order = " ORDER BY a.date, s.student_number"
	}
	limit, offset := arg(rq.Limit), arg(rq.Offset())
	records, err := collectJoinedRecords(q.db.Query(ctx,
		`SELECT `+recordJoinColumns+recordJoin+clause+order+` LIMIT `+limit+` OFFSET `+offset, args...))
	return records, total, err
}

// Ledger adapts the store to attendance.Ledger. Status updates lock the row
// inside a transaction.
type Ledger struct {
	store *Store
}

func (l *Ledger) Insert(ctx context.Context, r attendance.Record) (attendance.Record, error) {
	return l.store.Queries.InsertRecord(ctx, r)
}

func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (attendance.Record, error) {
	return l.store.Queries.GetRecord(ctx, id)
}

func (l *Ledger) Exists(ctx context.Context, studentID uuid.UUID, date time.Time) (bool, error) {
	return l.store.Queries.RecordExists(ctx, studentID, date)
}

func (l *Ledger) SweptOn(ctx context.Context, date time.Time) (bool, error) {
	return l.store.Queries.SweptOn(ctx, date)
}

func (l *Ledger) StudentIDsWithRecord(ctx context.Context, date time.Time) ([]uuid.UUID, error) {
	return l.store.Queries.StudentIDsWithRecord(ctx, date)
}

func (l *Ledger) UpdateStatus(ctx context.Context, id uuid.UUID, change attendance.StatusChange) (attendance.Record, error) {
	err := l.store.WithTx(ctx, func(q *Queries) error {
		if _, err := q.getRecordForUpdate(ctx, id); err != nil {
			return err
		}
		return q.updateRecordStatus(ctx, id, change)
	})
	if err != nil {
		return attendance.Record{}, err
	}
	return l.store.Queries.GetRecord(ctx, id)
}
