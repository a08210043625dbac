package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evansmunsha/testforpay-sub001/internal/models"
)

type UsageLogRepo struct {
	pool *pgxpool.Pool
}

func NewUsageLogRepo(pool *pgxpool.Pool) *UsageLogRepo {
	return &UsageLogRepo{pool: pool}
}

// InsertBatch bulk-loads usage events with COPY.
func (r *UsageLogRepo) InsertBatch(ctx context.Context, logs []models.UsageLog) (int64, error) {
	if len(logs) == 0 {
		return 0, nil
	}
	return r.pool.CopyFrom(ctx,
		pgx.Identifier{"usage_logs"},
		[]string{"application_id", "event_type", "feature", "duration_seconds", "occurred_at"},
		pgx.CopyFromSlice(len(logs), func(i int) ([]any, error) {
			l := logs[i]
			return []any{l.ApplicationID, l.EventType, l.Feature, l.DurationSeconds, l.OccurredAt}, nil
		}),
	)
}

func (r *UsageLogRepo) ListByApplication(ctx context.Context, applicationID uuid.UUID) ([]models.UsageLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, application_id, event_type, feature, duration_seconds, occurred_at
		FROM usage_logs WHERE application_id = $1
		ORDER BY occurred_at
	`, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []models.UsageLog
	for rows.Next() {
		var l models.UsageLog
		if err := rows.Scan(&l.ID, &l.ApplicationID, &l.EventType, &l.Feature, &l.DurationSeconds, &l.OccurredAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
