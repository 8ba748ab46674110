package domain

import "time"

// PaymentStatus represents the current status of a payment.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusPaid      PaymentStatus = "paid"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// IsTerminal reports whether the payment can no longer change.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusPaid || s == PaymentStatusFailed || s == PaymentStatusCancelled
}

// Plan is the host's subscription tier, which decides the platform fee.
type Plan string

const (
	PlanStandard Plan = "Standard"
	PlanPremium  Plan = "Premium"
)

// IsValid reports whether p is a known plan.
func (p Plan) IsValid() bool {
	return p == PlanStandard || p == PlanPremium
}

// Payment represents a guest payment for a booking, split between platform and host.
type Payment struct {
	ID                string
	BookingID         string
	HostID            string
	GuestID           string
	Amount            int64
	Currency          string
	Plan              Plan
	PlatformFeeAmount int64
	HostAmount        int64
	Status            PaymentStatus
	SessionID         string
	IntentID          string
	CheckoutURL       string
	Metadata          map[string]string
	PaidAt            *time.Time
	FailedAt          *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SplitBalanced reports whether the fee and host share add up to the charged amount.
func (p *Payment) SplitBalanced() bool {
	return p.PlatformFeeAmount+p.HostAmount == p.Amount
}

// ComputeSplit divides amount between the platform and the host.
// feeBPS is the Standard plan fee in basis points; Premium pays no fee.
func ComputeSplit(amount int64, plan Plan, feeBPS int64) (fee, host int64) {
	if plan == PlanStandard && feeBPS > 0 {
		// round half up
		fee = (amount*feeBPS + 5000) / 10000
	}
	if fee > amount {
		fee = amount
	}
	return fee, amount - fee
}

// ConnectAccount is a host's payout destination at the payment gateway.
type ConnectAccount struct {
	HostID         string
	AccountID      string
	PayoutsEnabled bool
	OnboardingURL  string
	UpdatedAt      time.Time
}

// PaymentEventKind is a normalized gateway notification kind.
type PaymentEventKind string

const (
	PaymentEventCheckoutCompleted PaymentEventKind = "checkout_completed"
	PaymentEventPaymentSucceeded  PaymentEventKind = "payment_succeeded"
	PaymentEventPaymentFailed     PaymentEventKind = "payment_failed"
	PaymentEventCheckoutExpired   PaymentEventKind = "checkout_expired"
)

// TargetStatus maps an event kind to the payment status it drives. ok is false
// for kinds that carry no status change.
func (k PaymentEventKind) TargetStatus() (PaymentStatus, bool) {
	switch k {
	case PaymentEventCheckoutCompleted, PaymentEventPaymentSucceeded:
		return PaymentStatusPaid, true
	case PaymentEventPaymentFailed:
		return PaymentStatusFailed, true
	case PaymentEventCheckoutExpired:
		return PaymentStatusCancelled, true
	}
	return "", false
}

// BillingDetails is what the gateway collected from the payer.
type BillingDetails struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
	Method string `json:"method"`
}

// PaymentEvent is a verified, normalized gateway notification.
type PaymentEvent struct {
	EventID    string
	Kind       PaymentEventKind
	SessionID  string
	IntentID   string
	BookingID  string
	AmountPaid int64
	Currency   string
	Billing    BillingDetails
	Metadata   map[string]string
	OccurredAt time.Time
}

// ExternalID returns the identifier used to look up the payment.
func (e PaymentEvent) ExternalID() string {
	if e.SessionID != "" {
		return e.SessionID
	}
	return e.IntentID
}

// PaymentConfirmation is the booking_paid payload sent once a payment reaches paid.
type PaymentConfirmation struct {
	BookingID  string         `json:"booking_id"`
	PaymentID  string         `json:"payment_id"`
	SessionID  string         `json:"session_id,omitempty"`
	IntentID   string         `json:"intent_id,omitempty"`
	AmountPaid int64          `json:"amount_paid"`
	Currency   string         `json:"currency"`
	Billing    BillingDetails `json:"billing"`
	PaidAt     time.Time      `json:"paid_at"`
}
