package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking/internal/domain"
)

const testSecret = "whsec_test_secret"

func sign(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func eventPayload(id, typ, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"object":"event","api_version":"2023-10-16","created":1767225600,"type":%q,"data":{"object":%s}}`, id, typ, object))
}

const checkoutObject = `{
	"id": "cs_test_1",
	"object": "checkout.session",
	"amount_total": 30000,
	"currency": "usd",
	"payment_intent": "pi_1",
	"payment_method_types": ["card"],
	"metadata": {"booking_id": "booking-1", "payment_id": "pay-1"},
	"customer_details": {"name": "Ada Guest", "email": "ada@example.com", "phone": "+15550100"}
}`

func TestParse_CheckoutCompleted(t *testing.T) {
	v := NewWebhookVerifier(testSecret)
	payload := eventPayload("evt_1", "checkout.session.completed", checkoutObject)

	ev, err := v.Parse(payload, sign(payload, testSecret, time.Now()))
	require.NoError(t, err)

	assert.Equal(t, "evt_1", ev.EventID)
	assert.Equal(t, domain.PaymentEventCheckoutCompleted, ev.Kind)
	assert.Equal(t, "cs_test_1", ev.SessionID)
	assert.Equal(t, "pi_1", ev.IntentID)
	assert.Equal(t, "booking-1", ev.BookingID)
	assert.Equal(t, int64(30000), ev.AmountPaid)
	assert.Equal(t, "ada@example.com", ev.Billing.Email)
	assert.Equal(t, "card", ev.Billing.Method)
	assert.Equal(t, "cs_test_1", ev.ExternalID())
}

func TestParse_CheckoutExpired(t *testing.T) {
	v := NewWebhookVerifier(testSecret)
	payload := eventPayload("evt_2", "checkout.session.expired", `{"id":"cs_test_1","object":"checkout.session"}`)

	ev, err := v.Parse(payload, sign(payload, testSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentEventCheckoutExpired, ev.Kind)
}

func TestParse_PaymentIntentFailed(t *testing.T) {
	v := NewWebhookVerifier(testSecret)
	payload := eventPayload("evt_3", "payment_intent.payment_failed",
		`{"id":"pi_1","object":"payment_intent","amount_received":0,"currency":"usd","metadata":{"booking_id":"booking-1"}}`)

	ev, err := v.Parse(payload, sign(payload, testSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentEventPaymentFailed, ev.Kind)
	assert.Equal(t, "pi_1", ev.IntentID)
	assert.Equal(t, "pi_1", ev.ExternalID())
}

func TestParse_UnknownTypePassesThrough(t *testing.T) {
	v := NewWebhookVerifier(testSecret)
	payload := eventPayload("evt_4", "charge.refunded", `{"id":"ch_1","object":"charge"}`)

	ev, err := v.Parse(payload, sign(payload, testSecret, time.Now()))
	require.NoError(t, err)
	_, ok := ev.Kind.TargetStatus()
	assert.False(t, ok)
}

func TestParse_RejectsBadSignatures(t *testing.T) {
	v := NewWebhookVerifier(testSecret)
	payload := eventPayload("evt_1", "checkout.session.completed", checkoutObject)

	testCases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong secret", sign(payload, "whsec_other", time.Now())},
		{"too old", sign(payload, testSecret, time.Now().Add(-time.Hour))},
		{"garbage", "not-a-signature"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Parse(payload, tc.header)
			assert.ErrorIs(t, err, ErrInvalidSignature)
		})
	}
}

func TestParse_RejectsTamperedPayload(t *testing.T) {
	v := NewWebhookVerifier(testSecret)
	payload := eventPayload("evt_1", "checkout.session.completed", checkoutObject)
	header := sign(payload, testSecret, time.Now())

	tampered := eventPayload("evt_1", "checkout.session.completed", `{"id":"cs_other","object":"checkout.session"}`)
	_, err := v.Parse(tampered, header)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}
