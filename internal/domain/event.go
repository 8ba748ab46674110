package domain

import "time"

// BookingEventType names an outbound booking lifecycle event.
type BookingEventType string

const (
	EventNewBookingCreated BookingEventType = "new_booking_created"
	EventBookingApproved   BookingEventType = "booking_approved"
	EventBookingCanceled   BookingEventType = "booking_canceled"
	EventBookingRejected   BookingEventType = "booking_rejected"
	EventBookingConfirmed  BookingEventType = "booking_confirmed"
	EventBookingCompleted  BookingEventType = "booking_completed"
)

// AffectsAvailability reports whether the property service must restore or
// commit inventory for this event.
func (t BookingEventType) AffectsAvailability() bool {
	switch t {
	case EventBookingCanceled, EventBookingRejected, EventBookingConfirmed:
		return true
	}
	return false
}

// BookingEvent is emitted after a booking transition commits.
type BookingEvent struct {
	EventID    string           `json:"event_id"`
	Type       BookingEventType `json:"type"`
	BookingID  string           `json:"booking_id"`
	PropertyID string           `json:"property_id"`
	HostID     string           `json:"host_id"`
	GuestEmail string           `json:"guest_email"`
	GuestName  string           `json:"guest_name"`
	Status     BookingStatus    `json:"status"`
	CheckIn    time.Time        `json:"check_in"`
	CheckOut   time.Time        `json:"check_out"`
	Segments   []PriceSegment   `json:"segments"`
	Total      int64            `json:"total"`
	Currency   string           `json:"currency"`
	Invoice    *Invoice         `json:"invoice,omitempty"`
	// Reason is set for rejections driven by the expiration sweep.
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
