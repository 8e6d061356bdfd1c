package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"rollcall/attendance/internal/attendance"
)

// ConfigRepo stores the single attendance_config row.
type ConfigRepo struct {
	q *Queries
}

func (r *ConfigRepo) Get(ctx context.Context) (attendance.Config, error) {
	var (
		cfg                   attendance.Config
		open, late, closeTime pgtype.Time
		weekend               []int16
	)
	err := r.q.db.QueryRow(ctx, `
		SELECT open_time, late_threshold, close_time, grace_minutes, weekend_days,
			enforce_window, enforce_weekend, updated_at, updated_by
		FROM attendance_config WHERE id = 1
	`).Scan(&open, &late, &closeTime, &cfg.GraceMinutes, &weekend,
		&cfg.EnforceWindow, &cfg.EnforceWeekend, &cfg.UpdatedAt, &cfg.UpdatedBy)
	if err != nil {
		return attendance.Config{}, mapErr(err)
	}
	cfg.OpenTime = timeOfDay(open)
	cfg.LateThreshold = timeOfDay(late)
	cfg.CloseTime = timeOfDay(closeTime)
	cfg.WeekendDays = make([]time.Weekday, 0, len(weekend))
	for _, d := range weekend {
		cfg.WeekendDays = append(cfg.WeekendDays, time.Weekday(d))
	}
	return cfg, nil
}

func (r *ConfigRepo) Save(ctx context.Context, cfg attendance.Config) (attendance.Config, error) {
	weekend := make([]int16, 0, len(cfg.WeekendDays))
	for _, d := range cfg.WeekendDays {
		weekend = append(weekend, int16(d))
	}
	updatedAt := cfg.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := r.q.db.Exec(ctx, `
		INSERT INTO attendance_config (id, open_time, late_threshold, close_time, grace_minutes, weekend_days,
			enforce_window, enforce_weekend, updated_at, updated_by)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			open_time = EXCLUDED.open_time,
			late_threshold = EXCLUDED.late_threshold,
			close_time = EXCLUDED.close_time,
			grace_minutes = EXCLUDED.grace_minutes,
			weekend_days = EXCLUDED.weekend_days,
			enforce_window = EXCLUDED.enforce_window,
			enforce_weekend = EXCLUDED.enforce_weekend,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by
	`, pgTime(cfg.OpenTime), pgTime(cfg.LateThreshold), pgTime(cfg.CloseTime), cfg.GraceMinutes, weekend,
		cfg.EnforceWindow, cfg.EnforceWeekend, updatedAt, cfg.UpdatedBy)
	if err != nil {
		return attendance.Config{}, mapErr(err)
	}
	return r.Get(ctx)
}
