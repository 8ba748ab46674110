package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"booking/internal/domain"
	"booking/internal/gateway/stripe"
)

const maxWebhookBody = 64 << 10

// WebhookParser verifies and normalizes a gateway delivery.
type WebhookParser interface {
	Parse(payload []byte, signature string) (domain.PaymentEvent, error)
}

// WebhookHandler receives payment gateway notifications.
type WebhookHandler struct {
	parser   WebhookParser
	payments PaymentService
	logger   logrus.FieldLogger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(parser WebhookParser, payments PaymentService, logger logrus.FieldLogger) *WebhookHandler {
	return &WebhookHandler{parser: parser, payments: payments, logger: logger}
}

// Stripe handles POST /v1/webhooks/stripe. The signature is checked before
// anything in the payload is looked up. Any processing error returns 500 so
// the gateway redelivers.
func (h *WebhookHandler) Stripe(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil || len(payload) > maxWebhookBody {
		respondBadRequest(c, "invalid request body")
		return
	}

	event, err := h.parser.Parse(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, stripe.ErrInvalidSignature) {
			h.logger.WithError(err).Warn("rejected webhook with bad signature")
			respondError(c, err)
			return
		}
		respondBadRequest(c, "malformed event")
		return
	}

	if err := h.payments.HandleGatewayEvent(c.Request.Context(), event); err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"event_id": event.EventID,
			"kind":     event.Kind,
		}).Error("webhook processing failed")
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
