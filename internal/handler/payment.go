package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"booking/internal/domain"
	"booking/internal/service"
)

// PaymentService is the payment ledger as seen by HTTP.
type PaymentService interface {
	CreateCheckoutSession(ctx context.Context, req service.CreateCheckoutSessionRequest) (*domain.Payment, error)
	GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error)
	RefreshConnectAccount(ctx context.Context, hostID string) (*domain.ConnectAccount, error)
	HandleGatewayEvent(ctx context.Context, event domain.PaymentEvent) error
}

// PaymentHandler handles HTTP requests for payments.
type PaymentHandler struct {
	paymentService PaymentService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(paymentService PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService}
}

// CheckoutSessionRequest is the HTTP request body for opening a checkout.
type CheckoutSessionRequest struct {
	BookingID     string `json:"booking_id"`
	HostID        string `json:"host_id"`
	GuestID       string `json:"guest_id"`
	Amount        int64  `json:"amount"`
	Plan          string `json:"plan"`
	Currency      string `json:"currency"`
	CustomerEmail string `json:"customer_email,omitempty"`
}

// PaymentResponse is the HTTP response for payment operations.
type PaymentResponse struct {
	ID                string     `json:"id"`
	BookingID         string     `json:"booking_id"`
	HostID            string     `json:"host_id"`
	GuestID           string     `json:"guest_id"`
	Amount            int64      `json:"amount"`
	Currency          string     `json:"currency"`
	Plan              string     `json:"plan"`
	PlatformFeeAmount int64      `json:"platform_fee_amount"`
	HostAmount        int64      `json:"host_amount"`
	Status            string     `json:"status"`
	SessionID         string     `json:"session_id,omitempty"`
	CheckoutURL       string     `json:"checkout_url,omitempty"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// ConnectAccountResponse is the HTTP response for a host payout account.
type ConnectAccountResponse struct {
	HostID         string `json:"host_id"`
	AccountID      string `json:"account_id"`
	PayoutsEnabled bool   `json:"payouts_enabled"`
	OnboardingURL  string `json:"onboarding_url,omitempty"`
}

type paymentEnvelope struct {
	Status  string           `json:"status"`
	Payment *PaymentResponse `json:"payment"`
}

func toPaymentResponse(p *domain.Payment) *PaymentResponse {
	return &PaymentResponse{
		ID:                p.ID,
		BookingID:         p.BookingID,
		HostID:            p.HostID,
		GuestID:           p.GuestID,
		Amount:            p.Amount,
		Currency:          p.Currency,
		Plan:              string(p.Plan),
		PlatformFeeAmount: p.PlatformFeeAmount,
		HostAmount:        p.HostAmount,
		Status:            string(p.Status),
		SessionID:         p.SessionID,
		CheckoutURL:       p.CheckoutURL,
		PaidAt:            p.PaidAt,
		CreatedAt:         p.CreatedAt,
	}
}

// CreateCheckoutSession handles POST /v1/payments/checkout-session
func (h *PaymentHandler) CreateCheckoutSession(c *gin.Context) {
	var req CheckoutSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}

	payment, err := h.paymentService.CreateCheckoutSession(c.Request.Context(), service.CreateCheckoutSessionRequest{
		BookingID:     req.BookingID,
		HostID:        req.HostID,
		GuestID:       req.GuestID,
		Amount:        req.Amount,
		Plan:          domain.Plan(req.Plan),
		Currency:      req.Currency,
		CustomerEmail: req.CustomerEmail,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, paymentEnvelope{Status: statusSuccess, Payment: toPaymentResponse(payment)})
}

// GetPayment handles GET /v1/payments/:id
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	payment, err := h.paymentService.GetPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, paymentEnvelope{Status: statusSuccess, Payment: toPaymentResponse(payment)})
}

// RefreshConnectAccount handles POST /v1/connect-accounts/:hostId/refresh
func (h *PaymentHandler) RefreshConnectAccount(c *gin.Context) {
	account, err := h.paymentService.RefreshConnectAccount(c.Request.Context(), c.Param("hostId"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, gin.H{
		"status": statusSuccess,
		"account": ConnectAccountResponse{
			HostID:         account.HostID,
			AccountID:      account.AccountID,
			PayoutsEnabled: account.PayoutsEnabled,
			OnboardingURL:  account.OnboardingURL,
		},
	})
}
