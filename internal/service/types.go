package service

import (
	"time"

	"github.com/google/uuid"
)

type LockSeatsInput struct {
	EventID uuid.UUID
	SeatIDs []uuid.UUID
	UserID  uuid.UUID
}

type LockSeatsOutput struct {
	LockID    string      `json:"lock_id"`
	SeatIDs   []uuid.UUID `json:"seat_ids"`
	ExpiresAt time.Time   `json:"expires_at"`
}

type ReleaseSeatsInput struct {
	EventID uuid.UUID
	SeatIDs []uuid.UUID
	UserID  uuid.UUID
}

type ConfirmSeatsInput struct {
	EventID   uuid.UUID
	SeatIDs   []uuid.UUID
	UserID    uuid.UUID
	BookingID uuid.UUID
}

type CancelSeatsInput struct {
	EventID   uuid.UUID
	SeatIDs   []uuid.UUID
	BookingID uuid.UUID
}

type SectionAvailability struct {
	Section   string `json:"section"`
	Available int64  `json:"available"`
	Total     int64  `json:"total"`
	MinPrice  int64  `json:"min_price"`
	Currency  string `json:"currency"`
}

type AvailabilityOutput struct {
	EventID     uuid.UUID             `json:"event_id"`
	Sections    []SectionAvailability `json:"sections"`
	LastUpdated time.Time             `json:"last_updated"`
}

type InitiateBookingInput struct {
	EventID        uuid.UUID
	UserID         uuid.UUID
	IdempotencyKey string
	Seats          []BookingSeatInput
	Currency       string
}

type BookingSeatInput struct {
	SeatID  uuid.UUID
	Section string
	Row     string
	Number  int
	Price   int64
}

type RequestPaymentInput struct {
	BookingID uuid.UUID
	Gateway   string
	ReturnURL string
}
