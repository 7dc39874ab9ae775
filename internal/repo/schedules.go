package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/LeventeLantos/broadcast-dispatch/internal/model"
)

const scheduleColumns = `
	id, user_id, generation_id, target_channel, scheduled_time, status,
	schedule_name, fail_reason, sent_at, is_public, target_device_ids,
	customer, category, memo, created_at, updated_at`

type PostgresScheduleRepo struct {
	db *sqlx.DB
}

func NewPostgresScheduleRepo(db *sqlx.DB) *PostgresScheduleRepo {
	return &PostgresScheduleRepo{db: db}
}

// FindDue returns scheduled requests inside the window, oldest first.
func (r *PostgresScheduleRepo) FindDue(ctx context.Context, w model.Window) ([]model.ScheduleRequest, error) {
	var out []model.ScheduleRequest
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+scheduleColumns+`
		FROM broadcast_schedules
		WHERE status = 'scheduled'
		  AND scheduled_time >= $1
		  AND scheduled_time <= $2
		ORDER BY scheduled_time ASC, id ASC
	`, w.From.UTC(), w.To.UTC())
	if err != nil {
		return nil, fmt.Errorf("find due schedules: %w", err)
	}
	return out, nil
}

func (r *PostgresScheduleRepo) MarkSent(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE broadcast_schedules
		SET status = 'sent',
		    sent_at = $2,
		    fail_reason = NULL,
		    updated_at = now()
		WHERE id = $1 AND status = 'scheduled'
	`, id, at.UTC())
	if err != nil {
		return err
	}
	return expectOneRow(res.RowsAffected())
}

func (r *PostgresScheduleRepo) MarkFailed(ctx context.Context, id string, reason string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE broadcast_schedules
		SET status = 'failed',
		    fail_reason = $2,
		    updated_at = now()
		WHERE id = $1 AND status = 'scheduled'
	`, id, reason)
	if err != nil {
		return err
	}
	return expectOneRow(res.RowsAffected())
}

// ListRecent returns the most recently scheduled requests of any status.
func (r *PostgresScheduleRepo) ListRecent(ctx context.Context, limit int) ([]model.ScheduleRequest, error) {
	if limit <= 0 {
		limit = 5
	}
	var out []model.ScheduleRequest
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+scheduleColumns+`
		FROM broadcast_schedules
		ORDER BY scheduled_time DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent schedules: %w", err)
	}
	return out, nil
}

func expectOneRow(n int64, err error) error {
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStatusConflict
	}
	return nil
}
