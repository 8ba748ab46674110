package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"booking/internal/domain"
	"booking/internal/repository"
)

const bookingColumns = `id, property_id, host_id, guest_id, check_in, check_out, guests, segments,
	subtotal, cleaning_fee, service_fee, taxes, total, currency,
	customer_name, customer_email, customer_phone, payment_method, status,
	approval_date, rejection_date, confirmation_date, cancellation_date, completion_date,
	payment_expiration_date, created_at, updated_at`

// BookingRepository is a PostgreSQL implementation of repository.BookingRepository.
type BookingRepository struct {
	q Querier
}

// NewBookingRepository creates a new PostgreSQL booking repository.
func NewBookingRepository(db *sql.DB) *BookingRepository {
	return &BookingRepository{q: db}
}

var _ repository.BookingRepository = (*BookingRepository)(nil)

// Create persists a new booking.
func (r *BookingRepository) Create(ctx context.Context, b *domain.Booking) error {
	guests, err := json.Marshal(b.Guests)
	if err != nil {
		return fmt.Errorf("encode guests: %w", err)
	}
	segments, err := json.Marshal(b.Segments)
	if err != nil {
		return fmt.Errorf("encode segments: %w", err)
	}

	query := `
		INSERT INTO bookings (` + bookingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19,
			$20, $21, $22, $23, $24, $25, $26, $27)
	`

	_, err = r.q.ExecContext(ctx, query,
		b.ID,
		b.PropertyID,
		b.HostID,
		nullString(b.GuestID),
		b.CheckIn,
		b.CheckOut,
		guests,
		segments,
		b.Pricing.Subtotal,
		b.Pricing.CleaningFee,
		b.Pricing.ServiceFee,
		b.Pricing.Taxes,
		b.Pricing.Total,
		b.Pricing.Currency,
		b.Customer.Name,
		domain.NormalizeEmail(b.Customer.Email),
		b.Customer.Phone,
		nullString(string(b.PaymentMethod)),
		b.Status,
		nullTime(b.ApprovalDate),
		nullTime(b.RejectionDate),
		nullTime(b.ConfirmationDate),
		nullTime(b.CancellationDate),
		nullTime(b.CompletionDate),
		nullTime(b.PaymentExpirationDate),
		b.CreatedAt,
		b.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		return err
	}

	return nil
}

// GetByID retrieves a booking by ID.
func (r *BookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	b, err := scanBooking(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	return b, nil
}

// ExistsActiveForEmail reports whether the email holds an active booking.
func (r *BookingRepository) ExistsActiveForEmail(ctx context.Context, email string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM bookings WHERE customer_email = $1 AND status = ANY($2))`

	var exists bool
	err := r.q.QueryRowContext(ctx, query,
		domain.NormalizeEmail(email),
		pq.Array(statusStrings(domain.ActiveBookingStatuses)),
	).Scan(&exists)
	return exists, err
}

// Transition applies change in a single guarded UPDATE.
func (r *BookingRepository) Transition(ctx context.Context, id string, from []domain.BookingStatus, change domain.BookingChange) (*domain.Booking, error) {
	query := `
		UPDATE bookings SET
			status = COALESCE(NULLIF($3, ''), status),
			payment_method = COALESCE($4, payment_method),
			approval_date = COALESCE($5, approval_date),
			rejection_date = COALESCE($6, rejection_date),
			confirmation_date = COALESCE($7, confirmation_date),
			cancellation_date = COALESCE($8, cancellation_date),
			completion_date = COALESCE($9, completion_date),
			payment_expiration_date = COALESCE($10, payment_expiration_date),
			updated_at = NOW()
		WHERE id = $1
			AND status = ANY($2)
			AND ($11::timestamptz IS NULL OR payment_expiration_date < $11)
			AND ($12::timestamptz IS NULL OR check_out <= $12)
		RETURNING ` + bookingColumns

	b, err := scanBooking(r.q.QueryRowContext(ctx, query,
		id,
		pq.Array(statusStrings(from)),
		string(change.Status),
		nullString(string(change.PaymentMethod)),
		nullTime(change.ApprovalDate),
		nullTime(change.RejectionDate),
		nullTime(change.ConfirmationDate),
		nullTime(change.CancellationDate),
		nullTime(change.CompletionDate),
		nullTime(change.PaymentExpirationDate),
		nullTime(change.ExpiredBefore),
		nullTime(change.EndedBefore),
	))
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	var exists bool
	if err := r.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM bookings WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, repository.ErrNotFound
	}
	return nil, repository.ErrConditionFailed
}

// ListExpiredApprovals returns approved bookings past their payment deadline,
// paged by keyset on (payment_expiration_date, id).
func (r *BookingRepository) ListExpiredApprovals(ctx context.Context, now time.Time, after *repository.ExpiryCursor, limit int) ([]*domain.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = $1 AND payment_expiration_date < $2
		ORDER BY payment_expiration_date, id
		LIMIT $3
	`
	args := []any{domain.BookingStatusApproved, now, limit}

	if after != nil {
		query = `
			SELECT ` + bookingColumns + `
			FROM bookings
			WHERE status = $1 AND payment_expiration_date < $2
				AND (payment_expiration_date, id) > ($3, $4)
			ORDER BY payment_expiration_date, id
			LIMIT $5
		`
		args = []any{domain.BookingStatusApproved, now, after.Deadline, after.ID, limit}
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []*domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}

	return bookings, rows.Err()
}

func scanBooking(row rowScanner) (*domain.Booking, error) {
	var (
		b             domain.Booking
		guestID       sql.NullString
		guests        []byte
		segments      []byte
		paymentMethod sql.NullString
		approval      sql.NullTime
		rejection     sql.NullTime
		confirmation  sql.NullTime
		cancellation  sql.NullTime
		completion    sql.NullTime
		expiration    sql.NullTime
	)

	err := row.Scan(
		&b.ID,
		&b.PropertyID,
		&b.HostID,
		&guestID,
		&b.CheckIn,
		&b.CheckOut,
		&guests,
		&segments,
		&b.Pricing.Subtotal,
		&b.Pricing.CleaningFee,
		&b.Pricing.ServiceFee,
		&b.Pricing.Taxes,
		&b.Pricing.Total,
		&b.Pricing.Currency,
		&b.Customer.Name,
		&b.Customer.Email,
		&b.Customer.Phone,
		&paymentMethod,
		&b.Status,
		&approval,
		&rejection,
		&confirmation,
		&cancellation,
		&completion,
		&expiration,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(guests) > 0 {
		if err := json.Unmarshal(guests, &b.Guests); err != nil {
			return nil, fmt.Errorf("decode guests: %w", err)
		}
	}
	if len(segments) > 0 {
		if err := json.Unmarshal(segments, &b.Segments); err != nil {
			return nil, fmt.Errorf("decode segments: %w", err)
		}
	}

	b.GuestID = guestID.String
	b.PaymentMethod = domain.PaymentMethod(paymentMethod.String)
	b.ApprovalDate = timePtr(approval)
	b.RejectionDate = timePtr(rejection)
	b.ConfirmationDate = timePtr(confirmation)
	b.CancellationDate = timePtr(cancellation)
	b.CompletionDate = timePtr(completion)
	b.PaymentExpirationDate = timePtr(expiration)

	return &b, nil
}

func statusStrings(statuses []domain.BookingStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
