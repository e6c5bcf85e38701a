package kafka

import (
	"fmt"
	"time"
)

// Commands consumed by the seat inventory engine (topic seat-commands).
const (
	CommandSeatsConfirm = "seats.confirm"
	CommandSeatsRelease = "seats.release"
	CommandSeatsCancel  = "seats.cancel"
)

// Commands addressed to the payment capability (topic payment-commands).
const (
	CommandPaymentInitiate = "payment.initiate"
	CommandPaymentCancel   = "payment.cancel"
	CommandPaymentRefund   = "payment.refund"
)

// SeatCommand instructs the seat engine to confirm, release or cancel a set
// of seats on behalf of a booking. Field names follow the platform wire
// format shared with the other capabilities.
type SeatCommand struct {
	CommandType string    `json:"commandType"`
	EventID     string    `json:"eventId"`
	BookingID   string    `json:"bookingId"`
	UserID      string    `json:"userId,omitempty"`
	SeatIDs     []string  `json:"seatIds"`
	Timestamp   time.Time `json:"timestamp"`
}

func (c SeatCommand) Validate() error {
	switch c.CommandType {
	case CommandSeatsConfirm, CommandSeatsRelease, CommandSeatsCancel:
	default:
		return fmt.Errorf("unknown seat command type %q", c.CommandType)
	}

	if c.EventID == "" {
		return fmt.Errorf("seat command %s: eventId is required", c.CommandType)
	}
	if c.BookingID == "" {
		return fmt.Errorf("seat command %s: bookingId is required", c.CommandType)
	}
	if len(c.SeatIDs) == 0 {
		return fmt.Errorf("seat command %s: seatIds is required", c.CommandType)
	}
	if c.CommandType != CommandSeatsCancel && c.UserID == "" {
		return fmt.Errorf("seat command %s: userId is required", c.CommandType)
	}

	return nil
}

// PaymentCommand drives the payment capability. Initiate carries the full
// charge description; cancel and refund reference a previously created
// payment.
type PaymentCommand struct {
	CommandType    string    `json:"commandType"`
	BookingID      string    `json:"bookingId"`
	UserID         string    `json:"userId,omitempty"`
	PaymentID      string    `json:"paymentId,omitempty"`
	Amount         int64     `json:"amount,omitempty"`
	Currency       string    `json:"currency,omitempty"`
	Gateway        string    `json:"gateway,omitempty"`
	ReturnURL      string    `json:"returnUrl,omitempty"`
	IdempotencyKey string    `json:"idempotencyKey,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
