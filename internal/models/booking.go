package models

import (
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "PENDING"
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
)

// SagaState tracks where a booking sits in its workflow. States only advance
// forward along the happy path; any non-terminal state may jump to
// COMPENSATING.
type SagaState string

const (
	SagaStateInitiated        SagaState = "INITIATED"
	SagaStateSeatsLocked      SagaState = "SEATS_LOCKED"
	SagaStatePaymentPending   SagaState = "PAYMENT_PENDING"
	SagaStatePaymentCompleted SagaState = "PAYMENT_COMPLETED"
	SagaStateTicketIssued     SagaState = "TICKET_ISSUED"
	SagaStateCompleted        SagaState = "COMPLETED"
	SagaStateCompensating     SagaState = "COMPENSATING"
	SagaStateCompensated      SagaState = "COMPENSATION_COMPLETED"

	// SagaStatePaymentProcessing is reported by some payment gateways between
	// initiation and the final result. It is an alias of PAYMENT_PENDING, not
	// a distinct step.
	SagaStatePaymentProcessing SagaState = "PAYMENT_PROCESSING"
)

func (s SagaState) Terminal() bool {
	return s == SagaStateCompleted || s == SagaStateCompensated
}

// AwaitingPayment covers PAYMENT_PENDING and its gateway-reported alias.
func (s SagaState) AwaitingPayment() bool {
	return s == SagaStatePaymentPending || s == SagaStatePaymentProcessing
}

// BookedSeat is the snapshot of one reserved seat captured when the booking
// is initiated. Prices are frozen here; later price changes on the Seat row
// do not affect an in-flight booking.
type BookedSeat struct {
	SeatID   uuid.UUID `json:"seat_id"`
	Section  string    `json:"section"`
	Row      string    `json:"row"`
	Number   int       `json:"number"`
	Price    int64     `json:"price"`
	Currency string    `json:"currency"`
}

type Booking struct {
	ID             uuid.UUID     `json:"id"`
	EventID        uuid.UUID     `json:"event_id"`
	UserID         uuid.UUID     `json:"user_id"`
	IdempotencyKey string        `json:"idempotency_key"`
	Status         BookingStatus `json:"status"`
	SagaState      SagaState     `json:"saga_state"`
	Seats          []BookedSeat  `json:"seats"`
	TotalAmount    int64         `json:"total_amount"`
	Currency       string        `json:"currency"`
	PaymentID      *uuid.UUID    `json:"payment_id,omitempty"`
	TicketCode     string        `json:"ticket_code,omitempty"`
	FailureReason  string        `json:"failure_reason,omitempty"`
	ExpiresAt      *time.Time    `json:"expires_at,omitempty"`
	ConfirmedAt    *time.Time    `json:"confirmed_at,omitempty"`
	CancelledAt    *time.Time    `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

func (b *Booking) SeatIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(b.Seats))
	for _, s := range b.Seats {
		ids = append(ids, s.SeatID)
	}
	return ids
}

func (b *Booking) Expired(now time.Time) bool {
	return b.ExpiresAt != nil && now.After(*b.ExpiresAt)
}
