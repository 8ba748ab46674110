// Package consumer runs the booking_paid leg of the payment saga over AMQP.
package consumer

import (
	"context"
	"encoding/json"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"booking/internal/domain"
	"booking/internal/mq"
	"booking/internal/repository"
	"booking/internal/service"
)

// BookingPaidKey is the routing key of payment confirmations.
const BookingPaidKey = "booking.paid"

// PaymentConfirmer applies a payment confirmation to a booking.
type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, conf domain.PaymentConfirmation) (*service.ConfirmPaymentResult, error)
}

// DeliverySource yields broker deliveries.
type DeliverySource interface {
	Deliveries(ctx context.Context) (<-chan amqp.Delivery, error)
}

// BookingPaidConsumer confirms bookings from booking.paid messages.
type BookingPaidConsumer struct {
	source    DeliverySource
	confirmer PaymentConfirmer
	logger    logrus.FieldLogger
}

// NewBookingPaidConsumer creates a new BookingPaidConsumer.
func NewBookingPaidConsumer(source DeliverySource, confirmer PaymentConfirmer, logger logrus.FieldLogger) *BookingPaidConsumer {
	return &BookingPaidConsumer{source: source, confirmer: confirmer, logger: logger}
}

// Run consumes until ctx is done or the delivery channel closes.
func (c *BookingPaidConsumer) Run(ctx context.Context) error {
	msgs, err := c.source.Deliveries(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			c.Handle(ctx, d)
		}
	}
}

// Handle processes a single delivery and acknowledges it. Confirmation is
// idempotent, so redelivery after a crash is safe.
func (c *BookingPaidConsumer) Handle(ctx context.Context, d amqp.Delivery) {
	log := c.logger.WithFields(logrus.Fields{
		"routing_key": d.RoutingKey,
		"message_id":  d.MessageId,
		"redelivered": d.Redelivered,
	})

	if d.RoutingKey != BookingPaidKey {
		_ = d.Ack(false)
		return
	}

	var conf domain.PaymentConfirmation
	if err := json.Unmarshal(d.Body, &conf); err != nil {
		log.WithError(err).Error("unmarshal booking.paid")
		_ = d.Nack(false, false)
		return
	}
	if conf.BookingID == "" {
		log.Error("booking.paid without booking id")
		_ = d.Ack(false)
		return
	}

	ctx = mq.ExtractContext(ctx, d.Headers)
	res, err := c.confirmer.ConfirmPayment(ctx, conf)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		log.WithField("booking_id", conf.BookingID).Error("booking.paid for unknown booking")
		_ = d.Ack(false)
	case err != nil:
		log.WithError(err).WithField("booking_id", conf.BookingID).Warn("confirm booking, requeueing")
		_ = d.Nack(false, true)
	default:
		log.WithFields(logrus.Fields{
			"booking_id": conf.BookingID,
			"applied":    res.Applied,
		}).Info("booking.paid processed")
		_ = d.Ack(false)
	}
}

// Publisher publishes a JSON body under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body any) error
}

// PaidPublisher is the AMQP transport for the saga: instead of calling the
// state machine directly, the ledger publishes booking.paid.
type PaidPublisher struct {
	Publisher Publisher
}

var _ service.BookingConfirmer = (*PaidPublisher)(nil)

// ConfirmBooking publishes conf for the booking_paid consumer.
func (p *PaidPublisher) ConfirmBooking(ctx context.Context, conf domain.PaymentConfirmation) error {
	return p.Publisher.Publish(ctx, BookingPaidKey, conf)
}
