package sqlite

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/careline/rtc/internal/domain/models"
)

type CallLogRepository interface {
	Append(ctx context.Context, entry models.CallLogEntry) error
	Recent(ctx context.Context, limit int) ([]models.CallLogEntry, error)
	RecentWithPeer(ctx context.Context, peerID uuid.UUID, limit int) ([]models.CallLogEntry, error)
}

type callLogRepository struct {
	db *sqlx.DB
}

func NewCallLogRepository(db *sqlx.DB) CallLogRepository {
	return &callLogRepository{db: db}
}

func (r *callLogRepository) Append(ctx context.Context, entry models.CallLogEntry) error {
	_, err := r.db.NamedExecContext(
		ctx,
		`INSERT INTO call_log (call_id, peer_id, direction, media_kind, outcome, started_at, ended_at, duration_seconds)
		 VALUES (:call_id, :peer_id, :direction, :media_kind, :outcome, :started_at, :ended_at, :duration_seconds)`,
		entry,
	)
	if err != nil {
		return fmt.Errorf("insert call log entry: %w", err)
	}

	return nil
}

func (r *callLogRepository) Recent(ctx context.Context, limit int) ([]models.CallLogEntry, error) {
	var entries []models.CallLogEntry

	err := r.db.SelectContext(
		ctx,
		&entries,
		`SELECT * FROM call_log ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select call log: %w", err)
	}

	return entries, nil
}

func (r *callLogRepository) RecentWithPeer(ctx context.Context, peerID uuid.UUID, limit int) ([]models.CallLogEntry, error) {
	var entries []models.CallLogEntry

	err := r.db.SelectContext(
		ctx,
		&entries,
		`SELECT * FROM call_log WHERE peer_id = ? ORDER BY started_at DESC LIMIT ?`,
		peerID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select call log by peer: %w", err)
	}

	return entries, nil
}
