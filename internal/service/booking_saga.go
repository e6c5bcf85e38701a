package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eventhub/ticketing-core/config"
	kafka "github.com/eventhub/ticketing-core/internal/delivery/kafka"
	"github.com/eventhub/ticketing-core/internal/delivery/kafka/producer"
	"github.com/eventhub/ticketing-core/internal/models"
	pgrepo "github.com/eventhub/ticketing-core/internal/repository/postgres"
	pkgLog "github.com/eventhub/ticketing-core/pkg/logger"
)

// BookingSagaService drives a booking through its workflow. The saga state on
// the booking row is the single source of truth; every handler checks it
// before acting, so redelivered or out-of-order messages degrade to no-ops
// instead of double applications.
type BookingSagaService interface {
	Initiate(ctx context.Context, in InitiateBookingInput) (*models.Booking, error)
	RequestPayment(ctx context.Context, in RequestPaymentInput) (*models.Booking, error)
	GetBooking(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error)
	Cancel(ctx context.Context, bookingID, userID uuid.UUID) (*models.Booking, error)

	// HandlePaymentSuccess and HandlePaymentFailure consume the asynchronous
	// payment results. Both tolerate redelivery.
	HandlePaymentSuccess(ctx context.Context, bookingID, paymentID uuid.UUID) error
	HandlePaymentFailure(ctx context.Context, bookingID uuid.UUID, reason string) error

	// ExpireStaleBookings compensates bookings that sat past their expiry
	// window without reaching a terminal state.
	ExpireStaleBookings(ctx context.Context) (int, error)
}

type bookingSagaService struct {
	bookings pgrepo.BookingRepository
	prod     producer.Producer
	cfg      config.BookingConfig
	l        pkgLog.Logger
}

func NewBookingSagaService(
	bookings pgrepo.BookingRepository,
	prod producer.Producer,
	cfg config.BookingConfig,
	l pkgLog.Logger,
) BookingSagaService {
	return &bookingSagaService{
		bookings: bookings,
		prod:     prod,
		cfg:      cfg,
		l:        l,
	}
}

// Initiate records a new booking for seats the user already holds locks on.
// The idempotency key makes retries safe: a second call with the same key
// returns the original booking untouched.
func (s *bookingSagaService) Initiate(ctx context.Context, in InitiateBookingInput) (*models.Booking, error) {
	if err := validateInitiateInput(in); err != nil {
		return nil, err
	}

	existing, err := s.bookings.GetByIdempotencyKey(ctx, in.IdempotencyKey)
	if err == nil {
		s.l.Infof(ctx, "booking replayed via idempotency key: id=%s", existing.ID)
		return existing, nil
	}
	if !errors.Is(err, pgrepo.ErrBookingNotFound) {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}

	now := time.Now().UTC()
	expiresAt := now.Add(s.cfg.ExpiryWindow)

	b := &models.Booking{
		ID:             uuid.New(),
		EventID:        in.EventID,
		UserID:         in.UserID,
		IdempotencyKey: in.IdempotencyKey,
		Status:         models.BookingStatusPending,
		SagaState:      models.SagaStateSeatsLocked,
		Seats:          make([]models.BookedSeat, 0, len(in.Seats)),
		Currency:       in.Currency,
		ExpiresAt:      &expiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, seat := range in.Seats {
		b.Seats = append(b.Seats, models.BookedSeat{
			SeatID:   seat.SeatID,
			Section:  seat.Section,
			Row:      seat.Row,
			Number:   seat.Number,
			Price:    seat.Price,
			Currency: in.Currency,
		})
		b.TotalAmount += seat.Price
	}

	if err := s.bookings.Create(ctx, b); err != nil {
		if errors.Is(err, pgrepo.ErrDuplicateIdempotencyKey) {
			// Lost the insert race; the other writer owns the booking.
			return s.bookings.GetByIdempotencyKey(ctx, in.IdempotencyKey)
		}
		return nil, fmt.Errorf("create booking: %w", err)
	}

	s.publishBookingEvent(ctx, kafka.EventBookingRequested, b)

	s.l.Infof(ctx, "booking initiated: id=%s event=%s user=%s seats=%d total=%d %s",
		b.ID, b.EventID, b.UserID, len(b.Seats), b.TotalAmount, b.Currency)

	return b, nil
}

func (s *bookingSagaService) RequestPayment(ctx context.Context, in RequestPaymentInput) (*models.Booking, error) {
	b, err := s.loadBooking(ctx, in.BookingID)
	if err != nil {
		return nil, err
	}

	if b.SagaState != models.SagaStateSeatsLocked {
		return nil, fmt.Errorf("%w: saga state is %s", ErrWrongSagaState, b.SagaState)
	}

	b.SagaState = models.SagaStatePaymentPending
	if err := s.bookings.Update(ctx, b); err != nil {
		return nil, fmt.Errorf("update booking: %w", err)
	}

	err = s.prod.PublishPaymentCommand(ctx, kafka.PaymentCommand{
		CommandType:    kafka.CommandPaymentInitiate,
		BookingID:      b.ID.String(),
		UserID:         b.UserID.String(),
		Amount:         b.TotalAmount,
		Currency:       b.Currency,
		Gateway:        in.Gateway,
		ReturnURL:      in.ReturnURL,
		IdempotencyKey: b.IdempotencyKey,
	})
	if err != nil {
		// The command never left; revert so the client can retry.
		b.SagaState = models.SagaStateSeatsLocked
		if uerr := s.bookings.Update(ctx, b); uerr != nil {
			s.l.Errorf(ctx, "bookingSagaService.RequestPayment: revert state: %v", uerr)
		}
		return nil, fmt.Errorf("publish payment command: %w", err)
	}

	s.l.Infof(ctx, "payment requested: booking=%s amount=%d %s gateway=%s", b.ID, b.TotalAmount, b.Currency, in.Gateway)
	return b, nil
}

func (s *bookingSagaService) GetBooking(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	return s.loadBooking(ctx, bookingID)
}

// Cancel is the user-initiated exit. Confirmed bookings are refunded before
// the seats are compensated; in-flight bookings are compensated directly.
func (s *bookingSagaService) Cancel(ctx context.Context, bookingID, userID uuid.UUID) (*models.Booking, error) {
	b, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.UserID != userID {
		return nil, ErrNotBookingOwner
	}

	if b.SagaState == models.SagaStateCompensated {
		return b, nil
	}

	// Money was captured once the booking is CONFIRMED, even when the saga
	// stalled short of COMPLETED, so the refund keys on status.
	if b.Status == models.BookingStatusConfirmed && b.PaymentID != nil {
		err := s.prod.PublishPaymentCommand(ctx, kafka.PaymentCommand{
			CommandType: kafka.CommandPaymentRefund,
			BookingID:   b.ID.String(),
			UserID:      b.UserID.String(),
			PaymentID:   b.PaymentID.String(),
			Amount:      b.TotalAmount,
			Currency:    b.Currency,
		})
		if err != nil {
			return nil, fmt.Errorf("publish refund command: %w", err)
		}
	}

	if err := s.compensate(ctx, b, "cancelled by user"); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *bookingSagaService) HandlePaymentSuccess(ctx context.Context, bookingID, paymentID uuid.UUID) error {
	b, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return err
	}

	switch {
	case b.SagaState.AwaitingPayment():
		b.PaymentID = &paymentID
		b.SagaState = models.SagaStatePaymentCompleted
		if err := s.bookings.Update(ctx, b); err != nil {
			return fmt.Errorf("record payment: %w", err)
		}
		return s.confirm(ctx, b)

	case b.SagaState == models.SagaStatePaymentCompleted,
		b.SagaState == models.SagaStateTicketIssued:
		// A crash or publish failure left the booking short of COMPLETED.
		// Redelivery re-drives the remaining steps; seats.confirm is
		// dedup-gated downstream so a repeat is harmless.
		s.l.Infof(ctx, "resuming confirmation for booking %s from state %s", b.ID, b.SagaState)
		return s.confirm(ctx, b)

	default:
		// Success arriving after the booking already compensated or
		// completed. Dropping is the safe move either way.
		s.l.Warnf(ctx, "dropping payment success for booking %s in state %s", b.ID, b.SagaState)
		return nil
	}
}

// confirm finishes the happy path: the booking becomes CONFIRMED with a
// ticket code, the seats are confirmed via the bus, and the user is notified.
func (s *bookingSagaService) confirm(ctx context.Context, b *models.Booking) error {
	switch b.SagaState {
	case models.SagaStatePaymentCompleted:
		now := time.Now().UTC()
		b.Status = models.BookingStatusConfirmed
		b.SagaState = models.SagaStateTicketIssued
		b.TicketCode = newTicketCode()
		b.ConfirmedAt = &now
		if err := s.bookings.Update(ctx, b); err != nil {
			return fmt.Errorf("issue ticket: %w", err)
		}
	case models.SagaStateTicketIssued:
		// Resuming; the ticket is already issued and only the downstream
		// effects are outstanding.
	default:
		return fmt.Errorf("%w: saga state is %s", ErrWrongSagaState, b.SagaState)
	}

	err := s.prod.PublishSeatCommand(ctx, kafka.SeatCommand{
		CommandType: kafka.CommandSeatsConfirm,
		EventID:     b.EventID.String(),
		BookingID:   b.ID.String(),
		UserID:      b.UserID.String(),
		SeatIDs:     seatIDStrings(b),
	})
	if err != nil {
		// The ticket stays issued and the seats stay locked by the user.
		// Surfacing the error leaves the payment event unmarked, and its
		// redelivery re-drives confirm from TICKET_ISSUED.
		return fmt.Errorf("publish seats confirm: %w", err)
	}

	// The ticket capability renders the artifact from this event; it carries
	// the booking, event, user and seat count.
	s.publishBookingEvent(ctx, kafka.EventBookingConfirmed, b)
	s.publishNotification(ctx, kafka.EventBookingConfirmed, b, "")

	b.SagaState = models.SagaStateCompleted
	if err := s.bookings.Update(ctx, b); err != nil {
		return fmt.Errorf("complete booking: %w", err)
	}

	s.l.Infof(ctx, "booking completed: id=%s ticket=%s", b.ID, b.TicketCode)
	return nil
}

func (s *bookingSagaService) HandlePaymentFailure(ctx context.Context, bookingID uuid.UUID, reason string) error {
	b, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return err
	}

	if b.SagaState.Terminal() {
		s.l.Warnf(ctx, "dropping payment failure for booking %s in state %s", b.ID, b.SagaState)
		return nil
	}

	if reason == "" {
		reason = "payment failed"
	}
	return s.compensate(ctx, b, reason)
}

// compensate unwinds a booking: seats go back to the pool, an in-flight
// payment is cancelled, the user is told. Safe to call more than once; a
// finished compensation is a no-op, so the payment.cancel command is emitted
// at most once per booking.
func (s *bookingSagaService) compensate(ctx context.Context, b *models.Booking, reason string) error {
	if b.SagaState == models.SagaStateCompensated {
		return nil
	}

	wasConfirmed := b.Status == models.BookingStatusConfirmed

	b.SagaState = models.SagaStateCompensating
	b.FailureReason = reason
	if err := s.bookings.Update(ctx, b); err != nil {
		return fmt.Errorf("mark compensating: %w", err)
	}

	if len(b.Seats) > 0 {
		cmd := kafka.SeatCommand{
			CommandType: kafka.CommandSeatsRelease,
			EventID:     b.EventID.String(),
			BookingID:   b.ID.String(),
			UserID:      b.UserID.String(),
			SeatIDs:     seatIDStrings(b),
		}
		if wasConfirmed {
			// Confirmed seats are BOOKED, not LOCKED; they need the
			// unconditional cancel path.
			cmd.CommandType = kafka.CommandSeatsCancel
		}
		if err := s.prod.PublishSeatCommand(ctx, cmd); err != nil {
			return fmt.Errorf("publish %s: %w", cmd.CommandType, err)
		}
	}

	if !wasConfirmed && b.PaymentID != nil {
		err := s.prod.PublishPaymentCommand(ctx, kafka.PaymentCommand{
			CommandType: kafka.CommandPaymentCancel,
			BookingID:   b.ID.String(),
			UserID:      b.UserID.String(),
			PaymentID:   b.PaymentID.String(),
		})
		if err != nil {
			return fmt.Errorf("publish payment cancel: %w", err)
		}
	}

	s.publishNotification(ctx, kafka.EventBookingFailed, b, reason)

	now := time.Now().UTC()
	b.Status = models.BookingStatusCancelled
	b.SagaState = models.SagaStateCompensated
	b.CancelledAt = &now
	if err := s.bookings.Update(ctx, b); err != nil {
		return fmt.Errorf("mark compensated: %w", err)
	}

	s.l.Infof(ctx, "booking compensated: id=%s reason=%q", b.ID, reason)
	return nil
}

func (s *bookingSagaService) ExpireStaleBookings(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	expired := 0

	for state, reason := range map[models.SagaState]string{
		models.SagaStateSeatsLocked:    "booking expired",
		models.SagaStatePaymentPending: "payment timeout",
	} {
		stale, err := s.bookings.FindExpired(ctx, state, now)
		if err != nil {
			return expired, fmt.Errorf("find expired %s bookings: %w", state, err)
		}

		for i := range stale {
			b := &stale[i]
			if err := s.compensate(ctx, b, reason); err != nil {
				s.l.Errorf(ctx, "bookingSagaService.ExpireStaleBookings: booking=%s: %v", b.ID, err)
				continue
			}
			expired++
		}
	}

	return expired, nil
}

func (s *bookingSagaService) loadBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgrepo.ErrBookingNotFound) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("load booking: %w", err)
	}
	return b, nil
}

func (s *bookingSagaService) publishBookingEvent(ctx context.Context, eventType string, b *models.Booking) {
	err := s.prod.PublishBookingEvent(ctx, kafka.BookingEvent{
		EventType:   eventType,
		BookingID:   b.ID.String(),
		EventID:     b.EventID.String(),
		UserID:      b.UserID.String(),
		SagaState:   string(b.SagaState),
		TotalAmount: b.TotalAmount,
		Currency:    b.Currency,
		SeatCount:   len(b.Seats),
	})
	if err != nil {
		s.l.Warnf(ctx, "bookingSagaService.publishBookingEvent: %s: %v", eventType, err)
	}
}

func (s *bookingSagaService) publishNotification(ctx context.Context, eventType string, b *models.Booking, reason string) {
	err := s.prod.PublishNotification(ctx, kafka.NotificationEvent{
		EventType: eventType,
		BookingID: b.ID.String(),
		UserID:    b.UserID.String(),
		EventID:   b.EventID.String(),
		Reason:    reason,
	})
	if err != nil {
		s.l.Warnf(ctx, "bookingSagaService.publishNotification: %s: %v", eventType, err)
	}
}

func validateInitiateInput(in InitiateBookingInput) error {
	switch {
	case in.EventID == uuid.Nil:
		return fmt.Errorf("%w: event id is required", ErrInvalidInput)
	case in.UserID == uuid.Nil:
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	case in.IdempotencyKey == "":
		return fmt.Errorf("%w: idempotency key is required", ErrInvalidInput)
	case len(in.Seats) == 0:
		return fmt.Errorf("%w: at least one seat is required", ErrInvalidInput)
	case in.Currency == "":
		return fmt.Errorf("%w: currency is required", ErrInvalidInput)
	}

	for _, seat := range in.Seats {
		if seat.SeatID == uuid.Nil {
			return fmt.Errorf("%w: seat id is required", ErrInvalidInput)
		}
		if seat.Price < 0 {
			return fmt.Errorf("%w: seat price must not be negative", ErrInvalidInput)
		}
	}

	return nil
}

func seatIDStrings(b *models.Booking) []string {
	ids := make([]string, 0, len(b.Seats))
	for _, s := range b.Seats {
		ids = append(ids, s.SeatID.String())
	}
	return ids
}

func newTicketCode() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "TKT-" + strings.ToUpper(raw[:12])
}
