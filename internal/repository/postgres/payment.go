package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"booking/internal/domain"
	"booking/internal/repository"
)

const paymentColumns = `id, booking_id, host_id, guest_id, amount, currency, plan,
	platform_fee_amount, host_amount, status, session_id, intent_id, checkout_url,
	metadata, paid_at, failed_at, created_at, updated_at`

// PaymentRepository is a PostgreSQL implementation of repository.PaymentRepository.
type PaymentRepository struct {
	q Querier
}

// NewPaymentRepository creates a new PostgreSQL payment repository.
func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{q: db}
}

var _ repository.PaymentRepository = (*PaymentRepository)(nil)

// Create persists a new payment.
func (r *PaymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	metadata, err := encodeMetadata(p.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`

	_, err = r.q.ExecContext(ctx, query,
		p.ID,
		p.BookingID,
		p.HostID,
		nullString(p.GuestID),
		p.Amount,
		p.Currency,
		p.Plan,
		p.PlatformFeeAmount,
		p.HostAmount,
		p.Status,
		nullString(p.SessionID),
		nullString(p.IntentID),
		nullString(p.CheckoutURL),
		metadata,
		nullTime(p.PaidAt),
		nullTime(p.FailedAt),
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		return err
	}

	return nil
}

// GetByID retrieves a payment by ID.
func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	p, err := scanPayment(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	return p, nil
}

// GetByExternalID retrieves a payment by gateway session id or intent id.
func (r *PaymentRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE session_id = $1 OR intent_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	p, err := scanPayment(r.q.QueryRowContext(ctx, query, externalID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	return p, nil
}

// GetPendingByBookingID returns the pending payment for a booking.
// Returns nil if there is none.
func (r *PaymentRepository) GetPendingByBookingID(ctx context.Context, bookingID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE booking_id = $1 AND status = $2`

	p, err := scanPayment(r.q.QueryRowContext(ctx, query, bookingID, domain.PaymentStatusPending))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return p, nil
}

// SetCheckoutSession stores the gateway session on a pending payment.
func (r *PaymentRepository) SetCheckoutSession(ctx context.Context, id, sessionID, checkoutURL string) error {
	query := `
		UPDATE payments SET session_id = $2, checkout_url = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`

	result, err := r.q.ExecContext(ctx, query, id, sessionID, nullString(checkoutURL))
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return repository.ErrConditionFailed
	}

	return nil
}

// ApplyStatus settles a pending payment in one guarded UPDATE.
func (r *PaymentRepository) ApplyStatus(ctx context.Context, id string, u repository.PaymentStatusUpdate) (*domain.Payment, error) {
	metadata, err := encodeMetadata(u.Metadata)
	if err != nil {
		return nil, err
	}

	var paidAt, failedAt sql.NullTime
	switch u.Status {
	case domain.PaymentStatusPaid:
		paidAt = sql.NullTime{Time: u.At, Valid: true}
	case domain.PaymentStatusFailed, domain.PaymentStatusCancelled:
		failedAt = sql.NullTime{Time: u.At, Valid: true}
	}

	query := `
		UPDATE payments SET
			status = $2,
			intent_id = COALESCE(intent_id, $3),
			metadata = metadata || $4::jsonb,
			paid_at = COALESCE($5, paid_at),
			failed_at = COALESCE($6, failed_at),
			updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + paymentColumns

	p, err := scanPayment(r.q.QueryRowContext(ctx, query,
		id,
		u.Status,
		nullString(u.IntentID),
		metadata,
		paidAt,
		failedAt,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrConditionFailed
		}
		return nil, err
	}

	return p, nil
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var (
		p           domain.Payment
		guestID     sql.NullString
		sessionID   sql.NullString
		intentID    sql.NullString
		checkoutURL sql.NullString
		metadata    []byte
		paidAt      sql.NullTime
		failedAt    sql.NullTime
	)

	err := row.Scan(
		&p.ID,
		&p.BookingID,
		&p.HostID,
		&guestID,
		&p.Amount,
		&p.Currency,
		&p.Plan,
		&p.PlatformFeeAmount,
		&p.HostAmount,
		&p.Status,
		&sessionID,
		&intentID,
		&checkoutURL,
		&metadata,
		&paidAt,
		&failedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.GuestID = guestID.String
	p.SessionID = sessionID.String
	p.IntentID = intentID.String
	p.CheckoutURL = checkoutURL.String
	p.PaidAt = timePtr(paidAt)
	p.FailedAt = timePtr(failedAt)

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}

	return &p, nil
}

func encodeMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return b, nil
}
