package kafka

import (
	"fmt"
	"time"
)

// Informational events published by the seat engine (topic seat-events).
// At-least-once; consumers such as live seat maps must treat them as
// eventually consistent.
const (
	EventSeatLocked   = "seat.locked"
	EventSeatReleased = "seat.released"
	EventSeatBooked   = "seat.booked"
)

// Payment results consumed by the saga (topic payment-events).
const (
	EventPaymentSuccess  = "payment.success"
	EventPaymentFailed   = "payment.failed"
	EventPaymentRefunded = "payment.refunded"
)

// Saga lifecycle events (topic booking-events). booking.confirmed doubles as
// the trigger for ticket-artifact generation downstream.
const (
	EventBookingRequested = "booking.requested"
)

// Published on booking-events and, for the user-facing ones, mirrored to
// notification-events.
const (
	EventBookingConfirmed = "booking.confirmed"
	EventBookingFailed    = "booking.failed"
)

type SeatEvent struct {
	EventType string    `json:"eventType"`
	EventID   string    `json:"eventId"`
	UserID    string    `json:"userId,omitempty"`
	SeatIDs   []string  `json:"seatIds"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentResultEvent is the asynchronous answer to a payment.initiate
// command.
type PaymentResultEvent struct {
	EventType string    `json:"eventType"`
	BookingID string    `json:"bookingId"`
	PaymentID string    `json:"paymentId,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (e PaymentResultEvent) Validate() error {
	switch e.EventType {
	case EventPaymentSuccess, EventPaymentFailed, EventPaymentRefunded:
	default:
		return fmt.Errorf("unknown payment event type %q", e.EventType)
	}

	if e.BookingID == "" {
		return fmt.Errorf("payment event %s: bookingId is required", e.EventType)
	}
	if e.EventType == EventPaymentSuccess && e.PaymentID == "" {
		return fmt.Errorf("payment event %s: paymentId is required", e.EventType)
	}

	return nil
}

type BookingEvent struct {
	EventType   string    `json:"eventType"`
	BookingID   string    `json:"bookingId"`
	EventID     string    `json:"eventId"`
	UserID      string    `json:"userId"`
	SagaState   string    `json:"sagaState"`
	TotalAmount int64     `json:"totalAmount"`
	Currency    string    `json:"currency"`
	SeatCount   int       `json:"seatCount"`
	Timestamp   time.Time `json:"timestamp"`
}

type NotificationEvent struct {
	EventType string    `json:"eventType"`
	BookingID string    `json:"bookingId"`
	UserID    string    `json:"userId"`
	EventID   string    `json:"eventId"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
