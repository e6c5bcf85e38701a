package models

import (
	"time"

	"github.com/google/uuid"
)

type SeatStatus string

const (
	SeatStatusAvailable SeatStatus = "AVAILABLE"
	SeatStatusLocked    SeatStatus = "LOCKED"
	SeatStatusBooked    SeatStatus = "BOOKED"
)

// Seat is the durable inventory row. Exactly one of these holds at any time:
// no holder, LOCKED with holder+expiry, or BOOKED with a booking id. The
// version counter guards concurrent writers; a mismatch means reload-and-retry.
type Seat struct {
	ID       uuid.UUID  `json:"id"`
	EventID  uuid.UUID  `json:"event_id"`
	Section  string     `json:"section"`
	Row      string     `json:"row"`
	Number   int        `json:"number"`
	Status   SeatStatus `json:"status"`
	Price    int64      `json:"price"` // minor currency units
	Currency string     `json:"currency"`

	LockedBy      *uuid.UUID `json:"locked_by,omitempty"`
	LockedAt      *time.Time `json:"locked_at,omitempty"`
	LockExpiresAt *time.Time `json:"lock_expires_at,omitempty"`

	BookedBy  *uuid.UUID `json:"booked_by,omitempty"`
	BookingID *uuid.UUID `json:"booking_id,omitempty"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Seat) IsLockExpired(now time.Time) bool {
	return s.Status == SeatStatusLocked && s.LockExpiresAt != nil && now.After(*s.LockExpiresAt)
}

// LockableBy reports whether userID may take or extend the lock on this seat.
func (s *Seat) LockableBy(userID uuid.UUID, now time.Time) bool {
	switch s.Status {
	case SeatStatusAvailable:
		return true
	case SeatStatusLocked:
		if s.IsLockExpired(now) {
			return true
		}
		return s.LockedBy != nil && *s.LockedBy == userID
	default:
		return false
	}
}

// HeldBy reports whether the seat is currently LOCKED by userID and the lock
// has not lapsed.
func (s *Seat) HeldBy(userID uuid.UUID, now time.Time) bool {
	return s.Status == SeatStatusLocked && !s.IsLockExpired(now) &&
		s.LockedBy != nil && *s.LockedBy == userID
}
