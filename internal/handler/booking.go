package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"booking/internal/domain"
	"booking/internal/service"
)

// BookingService is the booking state machine as seen by HTTP.
type BookingService interface {
	Create(ctx context.Context, req service.CreateBookingRequest) (*domain.Booking, error)
	Get(ctx context.Context, id string) (*domain.Booking, error)
	UpdateStatus(ctx context.Context, id string, status domain.BookingStatus) (*domain.Booking, error)
	Cancel(ctx context.Context, id string) (*domain.Booking, error)
	UpdatePaymentMethod(ctx context.Context, id, method string) (*domain.Booking, error)
	ConfirmOfflinePayment(ctx context.Context, id string) (*domain.Booking, error)
	CompleteStay(ctx context.Context, id string) (*domain.Booking, error)
	ConfirmPayment(ctx context.Context, conf domain.PaymentConfirmation) (*service.ConfirmPaymentResult, error)
}

// BookingHandler handles HTTP requests for bookings.
type BookingHandler struct {
	bookingService BookingService
}

// NewBookingHandler creates a new BookingHandler.
func NewBookingHandler(bookingService BookingService) *BookingHandler {
	return &BookingHandler{bookingService: bookingService}
}

// CreateBookingRequest is the HTTP request body for creating a booking.
type CreateBookingRequest struct {
	PropertyID string                `json:"property_id"`
	HostID     string                `json:"host_id"`
	GuestID    string                `json:"guest_id"`
	CheckIn    time.Time             `json:"check_in"`
	CheckOut   time.Time             `json:"check_out"`
	Guests     *domain.Guests        `json:"guests"`
	Segments   []domain.PriceSegment `json:"segments"`
	Pricing    *domain.Pricing       `json:"pricing"`
	Customer   *domain.Customer      `json:"customer"`
}

// UpdateStatusRequest is the HTTP request body for a host decision.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// UpdatePaymentMethodRequest is the HTTP request body for choosing a payment method.
type UpdatePaymentMethodRequest struct {
	PaymentMethod string `json:"payment_method"`
}

// BookingResponse is the HTTP representation of a booking.
type BookingResponse struct {
	ID                    string                `json:"id"`
	PropertyID            string                `json:"property_id"`
	HostID                string                `json:"host_id"`
	GuestID               string                `json:"guest_id,omitempty"`
	CheckIn               time.Time             `json:"check_in"`
	CheckOut              time.Time             `json:"check_out"`
	Nights                int                   `json:"nights"`
	Guests                domain.Guests         `json:"guests"`
	Segments              []domain.PriceSegment `json:"segments"`
	Pricing               domain.Pricing        `json:"pricing"`
	Customer              domain.Customer       `json:"customer"`
	PaymentMethod         string                `json:"payment_method,omitempty"`
	Status                string                `json:"status"`
	ApprovalDate          *time.Time            `json:"approval_date,omitempty"`
	RejectionDate         *time.Time            `json:"rejection_date,omitempty"`
	ConfirmationDate      *time.Time            `json:"confirmation_date,omitempty"`
	CancellationDate      *time.Time            `json:"cancellation_date,omitempty"`
	CompletionDate        *time.Time            `json:"completion_date,omitempty"`
	PaymentExpirationDate *time.Time            `json:"payment_expiration_date,omitempty"`
	CreatedAt             time.Time             `json:"created_at"`
	UpdatedAt             time.Time             `json:"updated_at"`
}

type bookingEnvelope struct {
	Status  string           `json:"status"`
	Booking *BookingResponse `json:"booking"`
	Invoice *domain.Invoice  `json:"invoice,omitempty"`
}

func toBookingResponse(b *domain.Booking) *BookingResponse {
	return &BookingResponse{
		ID:                    b.ID,
		PropertyID:            b.PropertyID,
		HostID:                b.HostID,
		GuestID:               b.GuestID,
		CheckIn:               b.CheckIn,
		CheckOut:              b.CheckOut,
		Nights:                b.Nights(),
		Guests:                b.Guests,
		Segments:              b.Segments,
		Pricing:               b.Pricing,
		Customer:              b.Customer,
		PaymentMethod:         string(b.PaymentMethod),
		Status:                string(b.Status),
		ApprovalDate:          b.ApprovalDate,
		RejectionDate:         b.RejectionDate,
		ConfirmationDate:      b.ConfirmationDate,
		CancellationDate:      b.CancellationDate,
		CompletionDate:        b.CompletionDate,
		PaymentExpirationDate: b.PaymentExpirationDate,
		CreatedAt:             b.CreatedAt,
		UpdatedAt:             b.UpdatedAt,
	}
}

func respondBooking(c *gin.Context, code int, b *domain.Booking) {
	respondJSON(c, code, bookingEnvelope{Status: statusSuccess, Booking: toBookingResponse(b)})
}

// CreateBooking handles POST /v1/bookings
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	var req CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}

	booking, err := h.bookingService.Create(c.Request.Context(), service.CreateBookingRequest{
		PropertyID: req.PropertyID,
		HostID:     req.HostID,
		GuestID:    req.GuestID,
		CheckIn:    req.CheckIn,
		CheckOut:   req.CheckOut,
		Guests:     req.Guests,
		Segments:   req.Segments,
		Pricing:    req.Pricing,
		Customer:   req.Customer,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondBooking(c, http.StatusCreated, booking)
}

// GetBooking handles GET /v1/bookings/:id
func (h *BookingHandler) GetBooking(c *gin.Context) {
	booking, err := h.bookingService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondBooking(c, http.StatusOK, booking)
}

// UpdateStatus handles PATCH /v1/bookings/:id/status
func (h *BookingHandler) UpdateStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}

	booking, err := h.bookingService.UpdateStatus(c.Request.Context(), c.Param("id"), domain.BookingStatus(req.Status))
	if err != nil {
		respondError(c, err)
		return
	}
	respondBooking(c, http.StatusOK, booking)
}

// CancelBooking handles POST /v1/bookings/:id/cancel
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	booking, err := h.bookingService.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondBooking(c, http.StatusOK, booking)
}

// UpdatePaymentMethod handles PATCH /v1/bookings/:id/payment-method
func (h *BookingHandler) UpdatePaymentMethod(c *gin.Context) {
	var req UpdatePaymentMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}

	booking, err := h.bookingService.UpdatePaymentMethod(c.Request.Context(), c.Param("id"), req.PaymentMethod)
	if err != nil {
		respondError(c, err)
		return
	}
	respondBooking(c, http.StatusOK, booking)
}

// ConfirmOfflinePayment handles POST /v1/bookings/:id/confirm-offline
func (h *BookingHandler) ConfirmOfflinePayment(c *gin.Context) {
	booking, err := h.bookingService.ConfirmOfflinePayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondBooking(c, http.StatusOK, booking)
}

// CompleteStay handles POST /v1/bookings/:id/complete
func (h *BookingHandler) CompleteStay(c *gin.Context) {
	booking, err := h.bookingService.CompleteStay(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondBooking(c, http.StatusOK, booking)
}

// BookingPaid handles POST /v1/bookings/paid. Replays of an applied
// confirmation succeed with the current booking.
func (h *BookingHandler) BookingPaid(c *gin.Context) {
	var conf domain.PaymentConfirmation
	if err := c.ShouldBindJSON(&conf); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}
	if conf.BookingID == "" {
		respondBadRequest(c, "booking_id is required")
		return
	}

	res, err := h.bookingService.ConfirmPayment(c.Request.Context(), conf)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, bookingEnvelope{
		Status:  statusSuccess,
		Booking: toBookingResponse(res.Booking),
		Invoice: res.Invoice,
	})
}
