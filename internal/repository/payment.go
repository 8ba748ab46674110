package repository

import (
	"context"
	"time"

	"booking/internal/domain"
)

// PaymentRepository defines the persistence operations for payments.
type PaymentRepository interface {
	// Create persists a new payment.
	// Returns ErrDuplicate if a pending payment already exists for the booking.
	Create(ctx context.Context, payment *domain.Payment) error

	// GetByID retrieves a payment by ID.
	GetByID(ctx context.Context, id string) (*domain.Payment, error)

	// GetByExternalID retrieves a payment by gateway session id or intent id.
	GetByExternalID(ctx context.Context, externalID string) (*domain.Payment, error)

	// GetPendingByBookingID returns the pending payment for a booking.
	// Returns nil if there is none.
	GetPendingByBookingID(ctx context.Context, bookingID string) (*domain.Payment, error)

	// SetCheckoutSession stores the gateway session on a pending payment.
	SetCheckoutSession(ctx context.Context, id, sessionID, checkoutURL string) error

	// ApplyStatus moves a pending payment to status, merging metadata and
	// recording the intent id. Returns ErrConditionFailed if the payment was
	// no longer pending.
	ApplyStatus(ctx context.Context, id string, update PaymentStatusUpdate) (*domain.Payment, error)
}

// PaymentStatusUpdate carries the fields written when a payment settles.
type PaymentStatusUpdate struct {
	Status   domain.PaymentStatus
	IntentID string
	Metadata map[string]string
	At       time.Time
}
