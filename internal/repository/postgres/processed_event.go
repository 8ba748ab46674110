package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"booking/internal/repository"
)

const (
	eventStatusProcessing = "processing"
	eventStatusDone       = "done"
)

// ProcessedEventRepository is a PostgreSQL implementation of repository.ProcessedEventRepository.
type ProcessedEventRepository struct {
	q Querier
}

// NewProcessedEventRepository creates a new PostgreSQL processed event ledger.
func NewProcessedEventRepository(db *sql.DB) *ProcessedEventRepository {
	return &ProcessedEventRepository{q: db}
}

var _ repository.ProcessedEventRepository = (*ProcessedEventRepository)(nil)

// Claim inserts a processing row for the event, or takes over one whose
// lease has run out. Otherwise the current row decides the result.
func (r *ProcessedEventRepository) Claim(ctx context.Context, eventID, kind string, now, leaseUntil time.Time) (repository.ClaimResult, error) {
	query := `
		INSERT INTO processed_events (event_id, kind, status, lease_until, processed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO UPDATE
		SET lease_until = EXCLUDED.lease_until, processed_at = EXCLUDED.processed_at
		WHERE processed_events.status = $3 AND processed_events.lease_until < $5
		RETURNING event_id
	`

	var claimed string
	err := r.q.QueryRowContext(ctx, query, eventID, kind, eventStatusProcessing, leaseUntil, now).Scan(&claimed)
	if err == nil {
		return repository.ClaimAcquired, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return repository.ClaimInFlight, err
	}

	var status string
	err = r.q.QueryRowContext(ctx, `SELECT status FROM processed_events WHERE event_id = $1`, eventID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		// Released between the two statements.
		return repository.ClaimInFlight, nil
	}
	if err != nil {
		return repository.ClaimInFlight, err
	}
	if status == eventStatusDone {
		return repository.ClaimDone, nil
	}
	return repository.ClaimInFlight, nil
}

// Complete marks the event as processed.
func (r *ProcessedEventRepository) Complete(ctx context.Context, eventID string, at time.Time) error {
	query := `
		UPDATE processed_events
		SET status = $2, lease_until = NULL, processed_at = $3
		WHERE event_id = $1
	`

	result, err := r.q.ExecContext(ctx, query, eventID, eventStatusDone, at)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Release forgets a processing claim so that a redelivery can be processed again.
func (r *ProcessedEventRepository) Release(ctx context.Context, eventID string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM processed_events WHERE event_id = $1 AND status = $2`,
		eventID, eventStatusProcessing)
	return err
}
