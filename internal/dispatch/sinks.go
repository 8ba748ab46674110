package dispatch

import (
	"context"

	"booking/internal/domain"
)

// Publisher publishes a JSON body under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body any) error
}

// PropertySink tells the property service to restore or commit inventory.
// Only events that change availability are published; the routing key is the
// event type.
type PropertySink struct {
	Publisher Publisher
}

func (s *PropertySink) Name() string { return "property" }

func (s *PropertySink) Deliver(ctx context.Context, event domain.BookingEvent) error {
	if !event.Type.AffectsAvailability() {
		return nil
	}
	return s.Publisher.Publish(ctx, string(event.Type), event)
}

// Notifier turns an event into host and guest notifications.
type Notifier interface {
	Deliver(ctx context.Context, event domain.BookingEvent) error
}

// HostSink forwards every lifecycle event to the notifier.
type HostSink struct {
	Notifier Notifier
}

func (s *HostSink) Name() string { return "host" }

func (s *HostSink) Deliver(ctx context.Context, event domain.BookingEvent) error {
	return s.Notifier.Deliver(ctx, event)
}
