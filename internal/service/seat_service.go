package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eventhub/ticketing-core/config"
	kafka "github.com/eventhub/ticketing-core/internal/delivery/kafka"
	"github.com/eventhub/ticketing-core/internal/delivery/kafka/producer"
	"github.com/eventhub/ticketing-core/internal/models"
	pgrepo "github.com/eventhub/ticketing-core/internal/repository/postgres"
	redisrepo "github.com/eventhub/ticketing-core/internal/repository/redis"
	pkgLog "github.com/eventhub/ticketing-core/pkg/logger"
)

// SeatInventoryService guarantees at most one holder per seat. Contention is
// arbitrated by the fast lock layer first; the durable rows are then advanced
// under the optimistic version counter. Unrelated seats never serialize
// against each other.
type SeatInventoryService interface {
	LockSeats(ctx context.Context, in LockSeatsInput) (*LockSeatsOutput, error)
	ReleaseSeats(ctx context.Context, in ReleaseSeatsInput) error
	ConfirmSeats(ctx context.Context, in ConfirmSeatsInput) error
	CancelSeats(ctx context.Context, in CancelSeatsInput) error
	Availability(ctx context.Context, eventID uuid.UUID) (*AvailabilityOutput, error)

	// ReleaseExpiredLocks reclaims durable rows whose lock lapsed. The fast
	// lock self-expires via TTL; this corrects durable-store drift, e.g.
	// after a crash between the two writes.
	ReleaseExpiredLocks(ctx context.Context) (int64, error)
}

type seatInventoryService struct {
	locks redisrepo.SeatLockRepository
	seats pgrepo.SeatRepository
	prod  producer.Producer
	cfg   config.SeatConfig
	l     pkgLog.Logger
}

func NewSeatInventoryService(
	locks redisrepo.SeatLockRepository,
	seats pgrepo.SeatRepository,
	prod producer.Producer,
	cfg config.SeatConfig,
	l pkgLog.Logger,
) SeatInventoryService {
	return &seatInventoryService{
		locks: locks,
		seats: seats,
		prod:  prod,
		cfg:   cfg,
		l:     l,
	}
}

func (s *seatInventoryService) LockSeats(ctx context.Context, in LockSeatsInput) (*LockSeatsOutput, error) {
	seatIDs := dedupeIDs(in.SeatIDs)
	if len(seatIDs) == 0 {
		return nil, fmt.Errorf("%w: no seats requested", ErrInvalidInput)
	}

	res, err := s.locks.LockSeats(ctx, in.EventID, seatIDs, in.UserID, s.cfg.LockTTL, s.cfg.MaxSeatsPerUser)
	if err != nil {
		// Fail closed: an unreachable lock layer must never report seats as
		// available.
		return nil, fmt.Errorf("%w: %v", ErrLockUnavailable, err)
	}

	switch {
	case res.MaxSeatsExceeded:
		return nil, ErrMaxSeatsExceeded
	case !res.Acquired:
		s.l.Infof(ctx, "seat lock rejected: event=%s user=%s seat=%s", in.EventID, in.UserID, res.UnavailableSeatKey)
		return nil, ErrSeatUnavailable
	}

	expiresAt, err := s.advanceDurableLocks(ctx, in.EventID, seatIDs, in.UserID)
	if err != nil {
		s.rollbackLocks(ctx, in.EventID, seatIDs, in.UserID)
		return nil, err
	}

	s.publishSeatEvent(ctx, kafka.EventSeatLocked, in.EventID, seatIDs, in.UserID.String())

	s.l.Infof(ctx, "locked %d seats for user %s on event %s, expires at %s",
		len(seatIDs), in.UserID, in.EventID, expiresAt.Format(time.RFC3339))

	return &LockSeatsOutput{
		LockID:    uuid.NewString(),
		SeatIDs:   seatIDs,
		ExpiresAt: expiresAt,
	}, nil
}

// advanceDurableLocks moves the durable rows to LOCKED(userID) under the
// version counter. A version mismatch means another writer (usually the
// sweep) touched the row between load and update, so the whole set is
// reloaded and retried. A row BOOKED or validly LOCKED by someone else is a
// divergence from the fast lock and aborts the call.
func (s *seatInventoryService) advanceDurableLocks(ctx context.Context, eventID uuid.UUID, seatIDs []uuid.UUID, userID uuid.UUID) (time.Time, error) {
	var expiresAt time.Time

	for attempt := 0; ; attempt++ {
		now := time.Now().UTC()
		expiresAt = now.Add(s.cfg.LockTTL)

		seats, err := s.seats.FindByEventAndIDs(ctx, eventID, seatIDs)
		if err != nil {
			return time.Time{}, fmt.Errorf("load seats: %w", err)
		}
		if len(seats) != len(seatIDs) {
			return time.Time{}, ErrSeatNotFound
		}

		conflicted := false
		for i := range seats {
			seat := &seats[i]
			if !seat.LockableBy(userID, now) {
				s.l.Warnf(ctx, "durable row diverged from fast lock: seat=%s status=%s", seat.ID, seat.Status)
				return time.Time{}, ErrSeatUnavailable
			}

			seat.Status = models.SeatStatusLocked
			seat.LockedBy = &userID
			seat.LockedAt = &now
			seat.LockExpiresAt = &expiresAt

			if err := s.seats.UpdateLock(ctx, seat); err != nil {
				if errors.Is(err, pgrepo.ErrVersionConflict) {
					conflicted = true
					break
				}
				return time.Time{}, fmt.Errorf("update seat %s: %w", seat.ID, err)
			}
		}

		if !conflicted {
			return expiresAt, nil
		}

		if attempt >= s.cfg.LockUpdateRetries {
			s.l.Warnf(ctx, "seat lock retries exhausted: event=%s user=%s", eventID, userID)
			return time.Time{}, ErrSeatUnavailable
		}
	}
}

// rollbackLocks undoes a partially applied lock so the request leaves no
// trace: fast-lock claims and any durable rows already advanced are reverted.
func (s *seatInventoryService) rollbackLocks(ctx context.Context, eventID uuid.UUID, seatIDs []uuid.UUID, userID uuid.UUID) {
	if _, err := s.locks.ReleaseSeats(ctx, eventID, seatIDs, userID); err != nil {
		s.l.Errorf(ctx, "seatInventoryService.rollbackLocks: release fast locks: %v", err)
	}
	if _, err := s.seats.ReleaseLocksByUser(ctx, seatIDs, userID); err != nil {
		s.l.Errorf(ctx, "seatInventoryService.rollbackLocks: release durable locks: %v", err)
	}
}

func (s *seatInventoryService) ReleaseSeats(ctx context.Context, in ReleaseSeatsInput) error {
	seatIDs := dedupeIDs(in.SeatIDs)
	if len(seatIDs) == 0 {
		return fmt.Errorf("%w: no seats requested", ErrInvalidInput)
	}

	released, err := s.locks.ReleaseSeats(ctx, in.EventID, seatIDs, in.UserID)
	if err != nil {
		// The fast lock self-expires; still revert the durable rows.
		s.l.Errorf(ctx, "seatInventoryService.ReleaseSeats: fast lock release: %v", err)
	}

	reverted, err := s.seats.ReleaseLocksByUser(ctx, seatIDs, in.UserID)
	if err != nil {
		return fmt.Errorf("release durable locks: %w", err)
	}

	if released > 0 || reverted > 0 {
		s.publishSeatEvent(ctx, kafka.EventSeatReleased, in.EventID, seatIDs, in.UserID.String())
	}

	s.l.Infof(ctx, "released seats: event=%s user=%s fast=%d durable=%d", in.EventID, in.UserID, released, reverted)
	return nil
}

func (s *seatInventoryService) ConfirmSeats(ctx context.Context, in ConfirmSeatsInput) error {
	seatIDs := dedupeIDs(in.SeatIDs)
	if len(seatIDs) == 0 {
		return fmt.Errorf("%w: no seats requested", ErrInvalidInput)
	}

	if err := s.seats.ConfirmSeats(ctx, in.EventID, seatIDs, in.UserID, in.BookingID); err != nil {
		if errors.Is(err, pgrepo.ErrSeatsNotHeld) {
			return ErrSeatsNotHeld
		}
		return fmt.Errorf("confirm seats: %w", err)
	}

	// The booking now owns the seats; the fast locks are redundant.
	if _, err := s.locks.ReleaseSeats(ctx, in.EventID, seatIDs, in.UserID); err != nil {
		s.l.Errorf(ctx, "seatInventoryService.ConfirmSeats: clear fast locks: %v", err)
	}

	s.publishSeatEvent(ctx, kafka.EventSeatBooked, in.EventID, seatIDs, in.UserID.String())

	s.l.Infof(ctx, "confirmed %d seats for booking %s on event %s", len(seatIDs), in.BookingID, in.EventID)
	return nil
}

// CancelSeats is the compensation path. It must be callable during failure
// recovery, so anomalies are logged and swallowed rather than returned.
func (s *seatInventoryService) CancelSeats(ctx context.Context, in CancelSeatsInput) error {
	seatIDs := dedupeIDs(in.SeatIDs)
	if len(seatIDs) == 0 {
		return nil
	}

	reverted, err := s.seats.CancelSeats(ctx, in.EventID, seatIDs)
	if err != nil {
		s.l.Errorf(ctx, "seatInventoryService.CancelSeats: booking=%s: %v", in.BookingID, err)
		return nil
	}

	if reverted != int64(len(seatIDs)) {
		s.l.Warnf(ctx, "cancel touched %d of %d seats for booking %s", reverted, len(seatIDs), in.BookingID)
	}

	s.publishSeatEvent(ctx, kafka.EventSeatReleased, in.EventID, seatIDs, "")

	s.l.Infof(ctx, "cancelled %d seats for booking %s on event %s", len(seatIDs), in.BookingID, in.EventID)
	return nil
}

func (s *seatInventoryService) Availability(ctx context.Context, eventID uuid.UUID) (*AvailabilityOutput, error) {
	// Cache errors count as a miss.
	if data, ok, err := s.locks.CachedAvailability(ctx, eventID); err == nil && ok {
		var cached AvailabilityOutput
		if err := json.Unmarshal(data, &cached); err == nil {
			return &cached, nil
		}
	}

	seats, err := s.seats.FindByEventID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("load seats: %w", err)
	}

	now := time.Now().UTC()
	bySections := make(map[string][]models.Seat)
	for _, seat := range seats {
		bySections[seat.Section] = append(bySections[seat.Section], seat)
	}

	out := &AvailabilityOutput{
		EventID:     eventID,
		Sections:    make([]SectionAvailability, 0, len(bySections)),
		LastUpdated: now,
	}

	for section, sectionSeats := range bySections {
		var available int64
		minPrice := int64(-1)
		currency := ""
		for _, seat := range sectionSeats {
			if seat.Status == models.SeatStatusAvailable || seat.IsLockExpired(now) {
				available++
			}
			if minPrice < 0 || seat.Price < minPrice {
				minPrice = seat.Price
				currency = seat.Currency
			}
		}

		out.Sections = append(out.Sections, SectionAvailability{
			Section:   section,
			Available: available,
			Total:     int64(len(sectionSeats)),
			MinPrice:  minPrice,
			Currency:  currency,
		})
	}

	if data, err := json.Marshal(out); err == nil {
		if err := s.locks.CacheAvailability(ctx, eventID, data, s.cfg.AvailabilityCacheTTL); err != nil {
			s.l.Warnf(ctx, "seatInventoryService.Availability: cache snapshot: %v", err)
		}
	}

	return out, nil
}

func (s *seatInventoryService) ReleaseExpiredLocks(ctx context.Context) (int64, error) {
	released, err := s.seats.ReleaseExpiredLocks(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("release expired locks: %w", err)
	}

	if released > 0 {
		s.l.Infof(ctx, "reclaimed %d expired seat locks", released)
	}

	return released, nil
}

func (s *seatInventoryService) publishSeatEvent(ctx context.Context, eventType string, eventID uuid.UUID, seatIDs []uuid.UUID, userID string) {
	ids := make([]string, 0, len(seatIDs))
	for _, id := range seatIDs {
		ids = append(ids, id.String())
	}

	err := s.prod.PublishSeatEvent(ctx, kafka.SeatEvent{
		EventType: eventType,
		EventID:   eventID.String(),
		UserID:    userID,
		SeatIDs:   ids,
	})
	if err != nil {
		// Informational traffic; observers tolerate gaps.
		s.l.Warnf(ctx, "seatInventoryService.publishSeatEvent: %s: %v", eventType, err)
	}
}

func dedupeIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
