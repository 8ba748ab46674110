package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking/internal/domain"
	"booking/internal/gateway/stripe"
	"booking/internal/repository"
	"booking/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var checkIn = time.Date(2026, 4, 10, 15, 0, 0, 0, time.UTC)

func sampleBooking(status domain.BookingStatus) *domain.Booking {
	return &domain.Booking{
		ID:         "b-1",
		PropertyID: "prop-1",
		HostID:     "host-1",
		CheckIn:    checkIn,
		CheckOut:   checkIn.Add(72 * time.Hour),
		Pricing:    domain.Pricing{Subtotal: 30000, Total: 30000, Currency: "USD"},
		Customer:   domain.Customer{Name: "Ada", Email: "ada@example.com"},
		Status:     status,
	}
}

type fakeBookings struct {
	booking    *domain.Booking
	err        error
	lastStatus domain.BookingStatus
	lastMethod string
	lastCreate service.CreateBookingRequest
	confirm    *service.ConfirmPaymentResult
}

func (f *fakeBookings) result() (*domain.Booking, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.booking, nil
}

func (f *fakeBookings) Create(_ context.Context, req service.CreateBookingRequest) (*domain.Booking, error) {
	f.lastCreate = req
	return f.result()
}

func (f *fakeBookings) Get(context.Context, string) (*domain.Booking, error) { return f.result() }

func (f *fakeBookings) UpdateStatus(_ context.Context, _ string, status domain.BookingStatus) (*domain.Booking, error) {
	f.lastStatus = status
	return f.result()
}

func (f *fakeBookings) Cancel(context.Context, string) (*domain.Booking, error) { return f.result() }

func (f *fakeBookings) UpdatePaymentMethod(_ context.Context, _ string, method string) (*domain.Booking, error) {
	f.lastMethod = method
	return f.result()
}

func (f *fakeBookings) ConfirmOfflinePayment(context.Context, string) (*domain.Booking, error) {
	return f.result()
}

func (f *fakeBookings) CompleteStay(context.Context, string) (*domain.Booking, error) {
	return f.result()
}

func (f *fakeBookings) ConfirmPayment(context.Context, domain.PaymentConfirmation) (*service.ConfirmPaymentResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.confirm, nil
}

type fakePayments struct {
	payment *domain.Payment
	account *domain.ConnectAccount
	err     error
	events  []domain.PaymentEvent
}

func (f *fakePayments) CreateCheckoutSession(context.Context, service.CreateCheckoutSessionRequest) (*domain.Payment, error) {
	return f.payment, f.err
}

func (f *fakePayments) GetPayment(context.Context, string) (*domain.Payment, error) {
	return f.payment, f.err
}

func (f *fakePayments) RefreshConnectAccount(context.Context, string) (*domain.ConnectAccount, error) {
	return f.account, f.err
}

func (f *fakePayments) HandleGatewayEvent(_ context.Context, event domain.PaymentEvent) error {
	f.events = append(f.events, event)
	return f.err
}

type fakeParser struct {
	event domain.PaymentEvent
	err   error
}

func (f fakeParser) Parse([]byte, string) (domain.PaymentEvent, error) { return f.event, f.err }

func newTestRouter(bookings *fakeBookings, payments *fakePayments, parser WebhookParser) *gin.Engine {
	logger, _ := test.NewNullLogger()
	bh := NewBookingHandler(bookings)
	ph := NewPaymentHandler(payments)
	wh := NewWebhookHandler(parser, payments, logger)

	r := gin.New()
	v1 := r.Group("/v1")
	v1.POST("/bookings", bh.CreateBooking)
	v1.POST("/bookings/paid", bh.BookingPaid)
	v1.GET("/bookings/:id", bh.GetBooking)
	v1.PATCH("/bookings/:id/status", bh.UpdateStatus)
	v1.POST("/bookings/:id/cancel", bh.CancelBooking)
	v1.PATCH("/bookings/:id/payment-method", bh.UpdatePaymentMethod)
	v1.POST("/bookings/:id/confirm-offline", bh.ConfirmOfflinePayment)
	v1.POST("/bookings/:id/complete", bh.CompleteStay)
	v1.POST("/payments/checkout-session", ph.CreateCheckoutSession)
	v1.GET("/payments/:id", ph.GetPayment)
	v1.POST("/connect-accounts/:hostId/refresh", ph.RefreshConnectAccount)
	v1.POST("/webhooks/stripe", wh.Stripe)
	return r
}

func do(r http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestCreateBooking(t *testing.T) {
	bookings := &fakeBookings{booking: sampleBooking(domain.BookingStatusPending)}
	r := newTestRouter(bookings, &fakePayments{}, fakeParser{})

	body := `{
		"property_id": "prop-1",
		"host_id": "host-1",
		"check_in": "2026-04-10T15:00:00Z",
		"check_out": "2026-04-13T11:00:00Z",
		"guests": {"adults": 2},
		"customer": {"name": "Ada", "email": "ada@example.com"}
	}`
	w, out := do(r, http.MethodPost, "/v1/bookings", body)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "success", out["status"])
	booking := out["booking"].(map[string]any)
	assert.Equal(t, "b-1", booking["id"])
	assert.Equal(t, "pending", booking["status"])
	assert.Equal(t, float64(3), booking["nights"])
	assert.Equal(t, "prop-1", bookings.lastCreate.PropertyID)
	require.NotNil(t, bookings.lastCreate.Guests)
	assert.Equal(t, 2, bookings.lastCreate.Guests.Adults)
}

func TestCreateBooking_MalformedBody(t *testing.T) {
	r := newTestRouter(&fakeBookings{}, &fakePayments{}, fakeParser{})

	w, out := do(r, http.MethodPost, "/v1/bookings", `{"property_id":`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "error", out["status"])
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"not found", fmt.Errorf("get booking: %w", repository.ErrNotFound), http.StatusNotFound},
		{"validation", &service.ValidationError{Fields: map[string]string{"customer": "required"}}, http.StatusBadRequest},
		{"invalid status", service.ErrInvalidStatus, http.StatusBadRequest},
		{"policy", &service.PolicyError{Op: "cancel", Current: domain.BookingStatusConfirmed, Err: service.ErrInvalidTransition}, http.StatusConflict},
		{"active booking", service.ErrActiveBookingExists, http.StatusConflict},
		{"stay not ended", service.ErrStayNotEnded, http.StatusConflict},
		{"event in flight", fmt.Errorf("handle event: %w", service.ErrEventInFlight), http.StatusConflict},
		{"gateway", fmt.Errorf("create session: %w", service.ErrGatewayUnavailable), http.StatusBadGateway},
		{"persistence", fmt.Errorf("update booking: %w", fmt.Errorf("connection reset")), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&fakeBookings{err: tt.err}, &fakePayments{}, fakeParser{})

			w, out := do(r, http.MethodPost, "/v1/bookings/b-1/cancel", "")

			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, "error", out["status"])
		})
	}
}

func TestPolicyErrorCarriesCurrentStatus(t *testing.T) {
	err := &service.PolicyError{Op: "update status", Current: domain.BookingStatusCanceled, Err: service.ErrInvalidTransition}
	r := newTestRouter(&fakeBookings{err: err}, &fakePayments{}, fakeParser{})

	w, out := do(r, http.MethodPatch, "/v1/bookings/b-1/status", `{"status":"approved"}`)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "canceled", out["current_status"])
}

func TestValidationErrorListsFields(t *testing.T) {
	err := &service.ValidationError{Fields: map[string]string{"pricing": "required"}}
	r := newTestRouter(&fakeBookings{err: err}, &fakePayments{}, fakeParser{})

	w, out := do(r, http.MethodPost, "/v1/bookings", `{}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, map[string]any{"pricing": "required"}, out["fields"])
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	r := newTestRouter(&fakeBookings{err: fmt.Errorf("pq: password authentication failed")}, &fakePayments{}, fakeParser{})

	w, out := do(r, http.MethodGet, "/v1/bookings/b-1", "")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Internal Server Error", out["error"])
}

func TestUpdateStatusAndPaymentMethod(t *testing.T) {
	bookings := &fakeBookings{booking: sampleBooking(domain.BookingStatusApproved)}
	r := newTestRouter(bookings, &fakePayments{}, fakeParser{})

	w, _ := do(r, http.MethodPatch, "/v1/bookings/b-1/status", `{"status":"approved"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.BookingStatusApproved, bookings.lastStatus)

	w, _ = do(r, http.MethodPatch, "/v1/bookings/b-1/payment-method", `{"payment_method":"Cash"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Cash", bookings.lastMethod)
}

func TestBookingPaid(t *testing.T) {
	confirmed := sampleBooking(domain.BookingStatusConfirmed)
	bookings := &fakeBookings{confirm: &service.ConfirmPaymentResult{
		Booking: confirmed,
		Invoice: &domain.Invoice{Number: "INV-20260301-ABCDEF12", BookingID: "b-1"},
		Applied: true,
	}}
	r := newTestRouter(bookings, &fakePayments{}, fakeParser{})

	w, out := do(r, http.MethodPost, "/v1/bookings/paid", `{"booking_id":"b-1","payment_id":"p-1","amount_paid":30000,"currency":"usd"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "confirmed", out["booking"].(map[string]any)["status"])
	assert.Equal(t, "INV-20260301-ABCDEF12", out["invoice"].(map[string]any)["number"])
}

func TestBookingPaid_RequiresBookingID(t *testing.T) {
	r := newTestRouter(&fakeBookings{}, &fakePayments{}, fakeParser{})

	w, _ := do(r, http.MethodPost, "/v1/bookings/paid", `{"payment_id":"p-1"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateCheckoutSession(t *testing.T) {
	payments := &fakePayments{payment: &domain.Payment{
		ID: "p-1", BookingID: "b-1", Amount: 10000, Currency: "usd", Plan: domain.PlanStandard,
		PlatformFeeAmount: 500, HostAmount: 9500, Status: domain.PaymentStatusPending,
		SessionID: "cs_1", CheckoutURL: "https://checkout.example.com/cs_1",
	}}
	r := newTestRouter(&fakeBookings{}, payments, fakeParser{})

	w, out := do(r, http.MethodPost, "/v1/payments/checkout-session",
		`{"booking_id":"b-1","host_id":"host-1","guest_id":"guest-1","amount":10000,"plan":"Standard","currency":"usd"}`)

	assert.Equal(t, http.StatusCreated, w.Code)
	payment := out["payment"].(map[string]any)
	assert.Equal(t, float64(500), payment["platform_fee_amount"])
	assert.Equal(t, "https://checkout.example.com/cs_1", payment["checkout_url"])
}

func TestCreateCheckoutSession_PayoutsDisabled(t *testing.T) {
	r := newTestRouter(&fakeBookings{}, &fakePayments{err: service.ErrPayoutsDisabled}, fakeParser{})

	w, _ := do(r, http.MethodPost, "/v1/payments/checkout-session", `{"booking_id":"b-1"}`)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRefreshConnectAccount(t *testing.T) {
	payments := &fakePayments{account: &domain.ConnectAccount{HostID: "host-1", AccountID: "acct_1", PayoutsEnabled: true}}
	r := newTestRouter(&fakeBookings{}, payments, fakeParser{})

	w, out := do(r, http.MethodPost, "/v1/connect-accounts/host-1/refresh", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, out["account"].(map[string]any)["payouts_enabled"])
}

func TestStripeWebhook(t *testing.T) {
	event := domain.PaymentEvent{EventID: "evt_1", Kind: domain.PaymentEventCheckoutCompleted, SessionID: "cs_1"}

	t.Run("bad signature is rejected before processing", func(t *testing.T) {
		payments := &fakePayments{}
		r := newTestRouter(&fakeBookings{}, payments, fakeParser{err: fmt.Errorf("%w: no match", stripe.ErrInvalidSignature)})

		w, _ := do(r, http.MethodPost, "/v1/webhooks/stripe", `{}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, payments.events)
	})

	t.Run("verified event is handled", func(t *testing.T) {
		payments := &fakePayments{}
		r := newTestRouter(&fakeBookings{}, payments, fakeParser{event: event})

		w, out := do(r, http.MethodPost, "/v1/webhooks/stripe", `{}`)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, out["received"])
		require.Len(t, payments.events, 1)
		assert.Equal(t, "evt_1", payments.events[0].EventID)
	})

	t.Run("processing failure asks for redelivery", func(t *testing.T) {
		payments := &fakePayments{err: fmt.Errorf("mark paid: %w", fmt.Errorf("db down"))}
		r := newTestRouter(&fakeBookings{}, payments, fakeParser{event: event})

		w, _ := do(r, http.MethodPost, "/v1/webhooks/stripe", `{}`)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}
