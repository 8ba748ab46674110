package domain

import (
	"strings"
	"time"
)

// BookingStatus represents the current status of a booking.
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusApproved  BookingStatus = "approved"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusRejected  BookingStatus = "rejected"
	BookingStatusCanceled  BookingStatus = "canceled"
	BookingStatusCompleted BookingStatus = "completed"
)

// ActiveBookingStatuses are the statuses that count toward the one-active-booking-per-customer rule.
var ActiveBookingStatuses = []BookingStatus{
	BookingStatusPending,
	BookingStatusApproved,
	BookingStatusConfirmed,
}

// transitions is the booking state graph. pending -> confirmed exists for
// payments and offline methods settled before a host decision.
var transitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:   {BookingStatusApproved, BookingStatusRejected, BookingStatusCanceled, BookingStatusConfirmed},
	BookingStatusApproved:  {BookingStatusConfirmed, BookingStatusRejected},
	BookingStatusConfirmed: {BookingStatusCompleted},
}

// CanTransition reports whether a booking may move from one status to another.
func CanTransition(from, to BookingStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsValid reports whether s is a known booking status.
func (s BookingStatus) IsValid() bool {
	switch s {
	case BookingStatusPending, BookingStatusApproved, BookingStatusConfirmed,
		BookingStatusRejected, BookingStatusCanceled, BookingStatusCompleted:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s BookingStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// PaymentMethod is how the guest settles a booking.
type PaymentMethod string

const (
	PaymentMethodCash  PaymentMethod = "cash"
	PaymentMethodCheck PaymentMethod = "check"
	PaymentMethodCard  PaymentMethod = "card"
)

// IsOffline reports whether the method is settled outside the payment gateway.
func (m PaymentMethod) IsOffline() bool {
	return m == PaymentMethodCash || m == PaymentMethodCheck
}

// ParsePaymentMethod normalizes a method name. ok is false for unknown methods.
func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	m := PaymentMethod(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case PaymentMethodCash, PaymentMethodCheck, PaymentMethodCard:
		return m, true
	}
	return "", false
}

// Guests holds head counts for a stay.
type Guests struct {
	Adults   int `json:"adults" validate:"gte=1"`
	Children int `json:"children" validate:"gte=0"`
	Infants  int `json:"infants" validate:"gte=0"`
	Pets     int `json:"pets" validate:"gte=0"`
}

// PriceSegment is a contiguous run of nights sharing one nightly rate.
type PriceSegment struct {
	StartDate   time.Time `json:"start_date" validate:"required"`
	EndDate     time.Time `json:"end_date" validate:"required,gtfield=StartDate"`
	Nights      int       `json:"nights" validate:"gte=1"`
	NightlyRate int64     `json:"nightly_rate" validate:"gte=0"`
	Subtotal    int64     `json:"subtotal" validate:"gte=0"`
}

// Pricing holds the booking totals in minor currency units.
type Pricing struct {
	Subtotal    int64  `json:"subtotal" validate:"gte=0"`
	CleaningFee int64  `json:"cleaning_fee" validate:"gte=0"`
	ServiceFee  int64  `json:"service_fee" validate:"gte=0"`
	Taxes       int64  `json:"taxes" validate:"gte=0"`
	Total       int64  `json:"total" validate:"gt=0"`
	Currency    string `json:"currency" validate:"required,len=3"`
}

// Customer is the contact who placed the booking.
type Customer struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone"`
}

// Booking represents a reservation of a property for a date range.
type Booking struct {
	ID                    string
	PropertyID            string
	HostID                string
	GuestID               string
	CheckIn               time.Time
	CheckOut              time.Time
	Guests                Guests
	Segments              []PriceSegment
	Pricing               Pricing
	Customer              Customer
	PaymentMethod         PaymentMethod // empty until chosen
	Status                BookingStatus
	ApprovalDate          *time.Time
	RejectionDate         *time.Time
	ConfirmationDate      *time.Time
	CancellationDate      *time.Time
	CompletionDate        *time.Time
	PaymentExpirationDate *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Nights returns the length of the stay.
func (b *Booking) Nights() int {
	return int(b.CheckOut.Sub(b.CheckIn).Hours() / 24)
}

// PaymentOverdue reports whether an approved booking has passed its payment deadline.
func (b *Booking) PaymentOverdue(now time.Time) bool {
	return b.Status == BookingStatusApproved &&
		b.PaymentExpirationDate != nil &&
		b.PaymentExpirationDate.Before(now)
}

// BookingChange describes the fields written by a guarded status transition.
// Zero values leave the stored column untouched.
type BookingChange struct {
	Status                BookingStatus
	PaymentMethod         PaymentMethod
	ApprovalDate          *time.Time
	RejectionDate         *time.Time
	ConfirmationDate      *time.Time
	CancellationDate      *time.Time
	CompletionDate        *time.Time
	PaymentExpirationDate *time.Time
	// ExpiredBefore additionally requires payment_expiration_date < ExpiredBefore.
	ExpiredBefore *time.Time
	// EndedBefore additionally requires check_out <= EndedBefore.
	EndedBefore *time.Time
}

// NormalizeEmail lowercases and trims an email for uniqueness checks.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
