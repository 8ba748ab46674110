package service

import (
	"errors"
	"fmt"

	"booking/internal/domain"
)

var (
	// ErrValidation is returned when input is malformed or incomplete.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidBookingID is returned when booking ID is empty.
	ErrInvalidBookingID = errors.New("invalid booking id")

	// ErrInvalidPaymentID is returned when payment ID is empty.
	ErrInvalidPaymentID = errors.New("invalid payment id")

	// ErrInvalidStatus is returned when a requested status is not a host decision.
	ErrInvalidStatus = errors.New("status must be approved or rejected")

	// ErrInvalidPaymentMethod is returned when payment method is unknown.
	ErrInvalidPaymentMethod = errors.New("invalid payment method")

	// ErrInvalidPlan is returned when the host plan is unknown.
	ErrInvalidPlan = errors.New("invalid plan")

	// ErrInvalidPaymentAmount is returned when payment amount is not positive.
	ErrInvalidPaymentAmount = errors.New("invalid payment amount")

	// ErrInvalidTransition is returned when the booking is not in a status
	// that allows the requested operation.
	ErrInvalidTransition = errors.New("booking status does not allow this operation")

	// ErrActiveBookingExists is returned when the customer already holds a
	// pending, approved or confirmed booking.
	ErrActiveBookingExists = errors.New("customer already has an active booking")

	// ErrNotOfflinePayment is returned when an offline confirmation is
	// requested for a booking paid through the gateway.
	ErrNotOfflinePayment = errors.New("booking does not use an offline payment method")

	// ErrStayNotEnded is returned when completing a stay before check-out.
	ErrStayNotEnded = errors.New("stay has not ended yet")

	// ErrPayoutsDisabled is returned when the host's payout account cannot receive funds.
	ErrPayoutsDisabled = errors.New("host payout account cannot receive payouts")

	// ErrPaymentAlreadyPending is returned when a checkout is already open for the booking.
	ErrPaymentAlreadyPending = errors.New("booking already has a pending payment")

	// ErrGatewayUnavailable is returned when the payment gateway cannot be reached.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrEventInFlight is returned when another worker holds the lease on a
	// gateway event. The gateway is expected to redeliver it.
	ErrEventInFlight = errors.New("gateway event is already being processed")
)

// ValidationError lists the fields that failed validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", ErrValidation, e.Fields)
}

// Unwrap allows errors.Is(err, ErrValidation).
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// PolicyError reports an operation refused because of the booking's current status.
type PolicyError struct {
	Op      string
	Current domain.BookingStatus
	Err     error
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("%s: %v (current status %s)", e.Op, e.Err, e.Current)
}

func (e *PolicyError) Unwrap() error {
	return e.Err
}

func policyError(op string, current domain.BookingStatus) *PolicyError {
	return &PolicyError{Op: op, Current: current, Err: ErrInvalidTransition}
}
