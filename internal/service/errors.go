package service

import "errors"

var (
	// Not found.
	ErrBookingNotFound = errors.New("booking not found")
	ErrSeatNotFound    = errors.New("one or more seats do not exist for this event")

	// Conflicts: a guard was violated.
	ErrSeatUnavailable  = errors.New("one or more seats are no longer available")
	ErrMaxSeatsExceeded = errors.New("maximum seat limit exceeded")
	ErrSeatsNotHeld     = errors.New("seats are not locked by this user")
	ErrWrongSagaState   = errors.New("booking is not in the correct state for this operation")

	// Forbidden.
	ErrNotBookingOwner = errors.New("booking belongs to another user")

	// Unavailable: the lock layer or a store could not be reached. Locking
	// fails closed on this rather than guessing at availability.
	ErrLockUnavailable = errors.New("lock service temporarily unavailable")

	// Invalid input.
	ErrInvalidInput = errors.New("invalid input")
)
