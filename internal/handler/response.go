package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"booking/internal/gateway/stripe"
	"booking/internal/repository"
	"booking/internal/service"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Status        string            `json:"status"`
	Error         string            `json:"error"`
	Fields        map[string]string `json:"fields,omitempty"`
	CurrentStatus string            `json:"current_status,omitempty"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	body := ErrorResponse{Status: statusError, Error: err.Error()}

	var verr *service.ValidationError
	if errors.As(err, &verr) {
		body.Fields = verr.Fields
	}
	var perr *service.PolicyError
	if errors.As(err, &perr) {
		body.CurrentStatus = string(perr.Current)
	}

	if code >= http.StatusInternalServerError {
		_ = c.Error(err)
		body.Error = http.StatusText(code)
		if code == http.StatusBadGateway {
			body.Error = service.ErrGatewayUnavailable.Error()
		}
	}
	c.JSON(code, body)
}

func respondBadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Status: statusError, Error: msg})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrInvalidBookingID),
		errors.Is(err, service.ErrInvalidPaymentID),
		errors.Is(err, service.ErrInvalidStatus),
		errors.Is(err, service.ErrInvalidPaymentMethod),
		errors.Is(err, service.ErrInvalidPlan),
		errors.Is(err, service.ErrInvalidPaymentAmount),
		errors.Is(err, stripe.ErrInvalidSignature):
		return http.StatusBadRequest

	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrActiveBookingExists),
		errors.Is(err, service.ErrPaymentAlreadyPending),
		errors.Is(err, service.ErrPayoutsDisabled),
		errors.Is(err, service.ErrNotOfflinePayment),
		errors.Is(err, service.ErrStayNotEnded),
		errors.Is(err, service.ErrEventInFlight):
		return http.StatusConflict

	case errors.Is(err, service.ErrGatewayUnavailable):
		return http.StatusBadGateway

	default:
		return http.StatusInternalServerError
	}
}
