package stripe

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"booking/internal/domain"
)

// ErrInvalidSignature is returned when a webhook payload fails signature
// verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

const (
	eventCheckoutCompleted = "checkout.session.completed"
	eventCheckoutExpired   = "checkout.session.expired"
	eventIntentSucceeded   = "payment_intent.succeeded"
	eventIntentFailed      = "payment_intent.payment_failed"
)

// WebhookVerifier authenticates and normalizes Stripe webhook deliveries.
type WebhookVerifier struct {
	secret    string
	tolerance time.Duration
}

// NewWebhookVerifier creates a verifier for the endpoint signing secret.
func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: secret, tolerance: webhook.DefaultTolerance}
}

// Parse verifies the Stripe-Signature header against the raw payload and
// converts the event into a PaymentEvent. Event types the ledger does not
// consume keep their raw type as Kind. Nothing in the payload is trusted
// before the signature checks out.
func (v *WebhookVerifier) Parse(payload []byte, signature string) (domain.PaymentEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return domain.PaymentEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := domain.PaymentEvent{
		EventID:    event.ID,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}

	switch string(event.Type) {
	case eventCheckoutCompleted, eventCheckoutExpired:
		var s stripeapi.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return domain.PaymentEvent{}, fmt.Errorf("decode checkout session: %w", err)
		}
		out.Kind = domain.PaymentEventCheckoutCompleted
		if string(event.Type) == eventCheckoutExpired {
			out.Kind = domain.PaymentEventCheckoutExpired
		}
		out.SessionID = s.ID
		if s.PaymentIntent != nil {
			out.IntentID = s.PaymentIntent.ID
		}
		out.AmountPaid = s.AmountTotal
		out.Currency = string(s.Currency)
		out.Metadata = s.Metadata
		out.BookingID = s.Metadata["booking_id"]
		if s.CustomerDetails != nil {
			out.Billing = domain.BillingDetails{
				Name:  s.CustomerDetails.Name,
				Email: s.CustomerDetails.Email,
				Phone: s.CustomerDetails.Phone,
			}
		}
		if len(s.PaymentMethodTypes) > 0 {
			out.Billing.Method = s.PaymentMethodTypes[0]
		}

	case eventIntentSucceeded, eventIntentFailed:
		var pi stripeapi.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return domain.PaymentEvent{}, fmt.Errorf("decode payment intent: %w", err)
		}
		out.Kind = domain.PaymentEventPaymentSucceeded
		if string(event.Type) == eventIntentFailed {
			out.Kind = domain.PaymentEventPaymentFailed
		}
		out.IntentID = pi.ID
		out.AmountPaid = pi.AmountReceived
		out.Currency = string(pi.Currency)
		out.Metadata = pi.Metadata
		out.BookingID = pi.Metadata["booking_id"]
		if pi.LatestCharge != nil && pi.LatestCharge.BillingDetails != nil {
			bd := pi.LatestCharge.BillingDetails
			out.Billing = domain.BillingDetails{Name: bd.Name, Email: bd.Email, Phone: bd.Phone}
		}
		if len(pi.PaymentMethodTypes) > 0 {
			out.Billing.Method = pi.PaymentMethodTypes[0]
		}

	default:
		// Passed through so the ledger can acknowledge it.
		out.Kind = domain.PaymentEventKind(event.Type)
	}

	return out, nil
}
