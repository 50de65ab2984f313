package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/kmarket/settlement/internal/domain"
)

// SyncRepository persists the reconciler watermark and its dead-letter table.
type SyncRepository struct {
	db *sqlx.DB
}

// NewSyncRepository creates a new SyncRepository.
func NewSyncRepository(db *sqlx.DB) *SyncRepository {
	return &SyncRepository{db: db}
}

// GetWatermark returns the last fully processed slot. A missing row means the
// reconciler has never run; zero is returned so the first poll starts from
// the chain's current head minus the batch window.
func (r *SyncRepository) GetWatermark(ctx context.Context) (uint64, error) {
	var s domain.SyncState
	err := r.db.GetContext(ctx, &s,
		`SELECT last_processed_slot, updated_at FROM sync_state WHERE id = 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("sync_repo.GetWatermark: %w", err)
	}
	return s.LastProcessedSlot, nil
}

// SetWatermark durably advances the watermark. Single-row upsert; the table
// holds exactly one row with id = 1.
func (r *SyncRepository) SetWatermark(ctx context.Context, slot uint64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_state (id, last_processed_slot, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE
		SET last_processed_slot = EXCLUDED.last_processed_slot,
		    updated_at          = now()`, slot)
	if err != nil {
		return fmt.Errorf("sync_repo.SetWatermark: %w", err)
	}
	return nil
}

// RecordFailedEvent stores an event whose replay errored, keeping the raw
// payload for a later explicit retry. Duplicate signatures upsert in place so
// a flapping event does not flood the table.
func (r *SyncRepository) RecordFailedEvent(ctx context.Context, ev domain.ChainEvent, replayErr error) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("sync_repo.RecordFailedEvent marshal: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO failed_events (id, kind, signature, slot, payload, error, retry_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, now())
		ON CONFLICT (signature) DO UPDATE
		SET error       = EXCLUDED.error,
		    payload     = EXCLUDED.payload,
		    retry_count = failed_events.retry_count + 1`,
		uuid.New(), string(ev.Kind), ev.Signature, ev.Slot, payload, replayErr.Error())
	if err != nil {
		return fmt.Errorf("sync_repo.RecordFailedEvent: %w", err)
	}
	return nil
}

// ListFailedEvents returns the dead-letter backlog, oldest first.
func (r *SyncRepository) ListFailedEvents(ctx context.Context, limit int) ([]*domain.FailedEvent, error) {
	var events []*domain.FailedEvent
	err := r.db.SelectContext(ctx, &events,
		`SELECT * FROM failed_events ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("sync_repo.ListFailedEvents: %w", err)
	}
	return events, nil
}

// GetFailedEvent fetches one dead-letter row.
func (r *SyncRepository) GetFailedEvent(ctx context.Context, id uuid.UUID) (*domain.FailedEvent, error) {
	var ev domain.FailedEvent
	err := r.db.GetContext(ctx, &ev, `SELECT * FROM failed_events WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sync_repo.GetFailedEvent: %w", sql.ErrNoRows)
		}
		return nil, fmt.Errorf("sync_repo.GetFailedEvent: %w", err)
	}
	return &ev, nil
}

// DeleteFailedEvent removes a dead-letter row after a successful retry.
func (r *SyncRepository) DeleteFailedEvent(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM failed_events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("sync_repo.DeleteFailedEvent: %w", err)
	}
	return nil
}

// IncrementRetry bumps the retry counter and records the latest error after a
// failed retry attempt.
func (r *SyncRepository) IncrementRetry(ctx context.Context, id uuid.UUID, retryErr error) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE failed_events
		SET retry_count = retry_count + 1, error = $1
		WHERE id = $2`, retryErr.Error(), id)
	if err != nil {
		return fmt.Errorf("sync_repo.IncrementRetry: %w", err)
	}
	return nil
}

// CountFailed returns the dead-letter backlog size for the dashboard.
func (r *SyncRepository) CountFailed(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM failed_events`); err != nil {
		return 0, fmt.Errorf("sync_repo.CountFailed: %w", err)
	}
	return n, nil
}

// LastUpdated reports when the watermark last advanced; the dashboard uses it
// to flag a stalled reconciler.
func (r *SyncRepository) LastUpdated(ctx context.Context) (time.Time, error) {
	var t time.Time
	err := r.db.GetContext(ctx, &t, `SELECT updated_at FROM sync_state WHERE id = 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("sync_repo.LastUpdated: %w", err)
	}
	return t, nil
}
