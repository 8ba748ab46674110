package stripe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking/internal/service"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger, _ := test.NewNullLogger()
	return NewClient(Config{
		SecretKey:  "sk_test_123",
		BaseURL:    srv.URL,
		Timeout:    2 * time.Second,
		SuccessURL: "https://app.test/bookings/{BOOKING_ID}/paid",
		CancelURL:  "https://app.test/bookings/{BOOKING_ID}",
		RefreshURL: "https://app.test/refresh",
		ReturnURL:  "https://app.test/return",
	}, logger)
}

func TestCreateCheckoutSession_SendsSplit(t *testing.T) {
	var form map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.Equal(t, "checkout-pay-1", r.Header.Get("Idempotency-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.test/cs_test_1"}`))
	})

	s, err := c.CreateCheckoutSession(context.Background(), service.CheckoutSessionParams{
		PaymentID:            "pay-1",
		BookingID:            "booking-1",
		Amount:               30000,
		Currency:             "USD",
		ApplicationFeeAmount: 1500,
		DestinationAccountID: "acct_1",
		Metadata:             map[string]string{"booking_id": "booking-1", "payment_id": "pay-1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "cs_test_1", s.ID)
	assert.Equal(t, "https://checkout.stripe.test/cs_test_1", s.URL)
	assert.Equal(t, "1500", form["payment_intent_data[application_fee_amount]"])
	assert.Equal(t, "acct_1", form["payment_intent_data[transfer_data][destination]"])
	assert.Equal(t, "30000", form["line_items[0][price_data][unit_amount]"])
	assert.Equal(t, "usd", form["line_items[0][price_data][currency]"])
	assert.Equal(t, "https://app.test/bookings/booking-1/paid", form["success_url"])
	assert.Equal(t, "booking-1", form["metadata[booking_id]"])
}

func TestRetrieveAccount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts/acct_1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"acct_1","object":"account","payouts_enabled":true}`))
	})

	status, err := c.RetrieveAccount(context.Background(), "acct_1")
	require.NoError(t, err)
	assert.True(t, status.PayoutsEnabled)
}

func TestCreateOnboardingLink(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "account_onboarding", r.PostForm.Get("type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"account_link","url":"https://connect.stripe.test/setup/acct_1"}`))
	})

	url, err := c.CreateOnboardingLink(context.Background(), "acct_1")
	require.NoError(t, err)
	assert.Equal(t, "https://connect.stripe.test/setup/acct_1", url)
}

func TestGatewayErrorsMapToUnavailable(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"No such account"}}`))
	})

	_, err := c.RetrieveAccount(context.Background(), "acct_missing")
	assert.ErrorIs(t, err, service.ErrGatewayUnavailable)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"nope"}}`))
	})

	for i := 0; i < 5; i++ {
		_, _ = c.RetrieveAccount(context.Background(), "acct_1")
	}
	before := atomic.LoadInt32(&calls)

	_, err := c.RetrieveAccount(context.Background(), "acct_1")
	assert.ErrorIs(t, err, service.ErrGatewayUnavailable)
	assert.Equal(t, before, atomic.LoadInt32(&calls), "open breaker must not reach the API")
}
