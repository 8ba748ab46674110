package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"booking/internal/domain"
)

// NotificationAudience is who a notification is addressed to.
type NotificationAudience string

const (
	AudienceHost  NotificationAudience = "host"
	AudienceGuest NotificationAudience = "guest"
)

// Notification represents a notification to be sent.
type Notification struct {
	ID          string                  `json:"id"`
	Type        domain.BookingEventType `json:"type"`
	Audience    NotificationAudience    `json:"audience"`
	RecipientID string                  `json:"recipient_id"` // host ID or guest email
	Title       string                  `json:"title"`
	Message     string                  `json:"message"`
	Data        map[string]interface{}  `json:"data"`
	CreatedAt   time.Time               `json:"created_at"`
}

// NotificationPublisher delivers a rendered notification. routingKey is
// notification.<event type>.
type NotificationPublisher interface {
	Publish(ctx context.Context, routingKey string, body interface{}) error
}

// NotificationService turns booking events into host alerts and guest
// status emails.
type NotificationService struct {
	publisher NotificationPublisher
	invoices  *InvoiceService
	logger    logrus.FieldLogger
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(publisher NotificationPublisher, invoices *InvoiceService, logger logrus.FieldLogger) *NotificationService {
	return &NotificationService{
		publisher: publisher,
		invoices:  invoices,
		logger:    logger,
	}
}

// Deliver sends every notification derived from event. It stops at the
// first publish error so the caller can retry the event.
func (s *NotificationService) Deliver(ctx context.Context, event domain.BookingEvent) error {
	for _, n := range s.Build(event) {
		if err := s.send(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// Build returns the notifications for event. The host is told about every
// lifecycle change; the guest only about changes to their booking status.
func (s *NotificationService) Build(event domain.BookingEvent) []Notification {
	data := map[string]interface{}{
		"booking_id":  event.BookingID,
		"property_id": event.PropertyID,
		"status":      event.Status,
		"check_in":    event.CheckIn,
		"check_out":   event.CheckOut,
	}

	var hostTitle, hostMsg, guestTitle, guestMsg string
	stay := fmt.Sprintf("%s to %s", event.CheckIn.Format("Jan 02"), event.CheckOut.Format("Jan 02, 2006"))

	switch event.Type {
	case domain.EventNewBookingCreated:
		hostTitle = "New Booking Request"
		hostMsg = fmt.Sprintf("%s requested your property for %s", event.GuestName, stay)
	case domain.EventBookingApproved:
		hostTitle = "Booking Approved"
		hostMsg = fmt.Sprintf("You approved the booking for %s. Waiting for payment.", stay)
		guestTitle = "Your Booking Was Approved"
		guestMsg = fmt.Sprintf("Your booking for %s was approved. Complete payment to confirm it.", stay)
	case domain.EventBookingRejected:
		hostTitle = "Booking Rejected"
		hostMsg = fmt.Sprintf("The booking for %s was rejected", stay)
		guestTitle = "Your Booking Was Declined"
		guestMsg = fmt.Sprintf("Your booking for %s was declined.", stay)
		if event.Reason == "payment_expired" {
			hostMsg = fmt.Sprintf("The booking for %s expired without payment", stay)
			guestMsg = fmt.Sprintf("Your booking for %s expired because payment was not received in time.", stay)
		}
		data["reason"] = event.Reason
	case domain.EventBookingCanceled:
		hostTitle = "Booking Canceled"
		hostMsg = fmt.Sprintf("%s canceled the booking for %s", event.GuestName, stay)
		guestTitle = "Booking Canceled"
		guestMsg = fmt.Sprintf("Your booking for %s was canceled.", stay)
	case domain.EventBookingConfirmed:
		hostTitle = "Booking Confirmed"
		hostMsg = fmt.Sprintf("The booking for %s is confirmed. Total %s", stay, formatAmount(event.Total, event.Currency))
		guestTitle = "Booking Confirmed"
		guestMsg = fmt.Sprintf("Your booking for %s is confirmed.", stay)
		if event.Invoice != nil && s.invoices != nil {
			data["invoice_number"] = event.Invoice.Number
			guestMsg += "\n\n" + s.invoices.Format(event.Invoice)
		}
	case domain.EventBookingCompleted:
		hostTitle = "Stay Completed"
		hostMsg = fmt.Sprintf("The stay for %s has ended", stay)
	default:
		return nil
	}

	out := []Notification{{
		ID:          uuid.New().String(),
		Type:        event.Type,
		Audience:    AudienceHost,
		RecipientID: event.HostID,
		Title:       hostTitle,
		Message:     hostMsg,
		Data:        data,
		CreatedAt:   event.OccurredAt,
	}}
	if guestTitle != "" && event.GuestEmail != "" {
		out = append(out, Notification{
			ID:          uuid.New().String(),
			Type:        event.Type,
			Audience:    AudienceGuest,
			RecipientID: event.GuestEmail,
			Title:       guestTitle,
			Message:     guestMsg,
			Data:        data,
			CreatedAt:   event.OccurredAt,
		})
	}
	return out
}

func (s *NotificationService) send(ctx context.Context, n Notification) error {
	if err := s.publisher.Publish(ctx, "notification."+string(n.Type), n); err != nil {
		return fmt.Errorf("publish %s notification: %w", n.Audience, err)
	}

	s.logger.WithFields(logrus.Fields{
		"type":      n.Type,
		"audience":  n.Audience,
		"recipient": n.RecipientID,
	}).Debug("notification sent")
	return nil
}
