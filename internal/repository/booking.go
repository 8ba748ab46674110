package repository

import (
	"context"
	"time"

	"booking/internal/domain"
)

// BookingRepository defines the persistence operations for bookings.
type BookingRepository interface {
	// Create persists a new booking.
	// Returns ErrDuplicate if the customer already holds an active booking.
	Create(ctx context.Context, booking *domain.Booking) error

	// GetByID retrieves a booking by ID.
	GetByID(ctx context.Context, id string) (*domain.Booking, error)

	// ExistsActiveForEmail reports whether the customer email holds a
	// pending, approved or confirmed booking.
	ExistsActiveForEmail(ctx context.Context, email string) (bool, error)

	// Transition atomically applies change to the booking only if its
	// current status is one of from. Returns the updated booking, or
	// ErrConditionFailed when the guard did not match and ErrNotFound when
	// the booking does not exist.
	Transition(ctx context.Context, id string, from []domain.BookingStatus, change domain.BookingChange) (*domain.Booking, error)

	// ListExpiredApprovals returns approved bookings whose payment deadline
	// is before now, ordered by (deadline, id). A non-nil after starts the
	// page past that position.
	ListExpiredApprovals(ctx context.Context, now time.Time, after *ExpiryCursor, limit int) ([]*domain.Booking, error)
}

// ExpiryCursor is the keyset position of the last booking of a page.
type ExpiryCursor struct {
	Deadline time.Time
	ID       string
}

// CursorAfter returns the position of b for the next page.
func CursorAfter(b *domain.Booking) *ExpiryCursor {
	c := &ExpiryCursor{ID: b.ID}
	if b.PaymentExpirationDate != nil {
		c.Deadline = *b.PaymentExpirationDate
	}
	return c
}
