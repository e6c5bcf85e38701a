package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	kafka "github.com/eventhub/ticketing-core/internal/delivery/kafka"
	"github.com/eventhub/ticketing-core/internal/models"
	pgrepo "github.com/eventhub/ticketing-core/internal/repository/postgres"
	redisrepo "github.com/eventhub/ticketing-core/internal/repository/redis"
)

// fakeLockRepo mimics the atomicity of the Lua scripts with a mutex: a
// multi-seat lock either fully applies or not at all.
type fakeLockRepo struct {
	mu        sync.Mutex
	holders   map[string]uuid.UUID
	snapshots map[uuid.UUID][]byte

	lockErr     error
	maxExceeded bool
}

func newFakeLockRepo() *fakeLockRepo {
	return &fakeLockRepo{
		holders:   make(map[string]uuid.UUID),
		snapshots: make(map[uuid.UUID][]byte),
	}
}

func lockKey(eventID, seatID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", eventID, seatID)
}

func (f *fakeLockRepo) LockSeats(_ context.Context, eventID uuid.UUID, seatIDs []uuid.UUID, userID uuid.UUID, _ time.Duration, maxSeatsPerUser int) (redisrepo.LockResult, error) {
	if f.lockErr != nil {
		return redisrepo.LockResult{}, f.lockErr
	}
	if f.maxExceeded || len(seatIDs) > maxSeatsPerUser {
		return redisrepo.LockResult{MaxSeatsExceeded: true}, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, id := range seatIDs {
		if holder, ok := f.holders[lockKey(eventID, id)]; ok && holder != userID {
			return redisrepo.LockResult{UnavailableSeatKey: lockKey(eventID, id)}, nil
		}
	}
	for _, id := range seatIDs {
		f.holders[lockKey(eventID, id)] = userID
	}

	return redisrepo.LockResult{Acquired: true}, nil
}

func (f *fakeLockRepo) ReleaseSeats(_ context.Context, eventID uuid.UUID, seatIDs []uuid.UUID, userID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var released int64
	for _, id := range seatIDs {
		key := lockKey(eventID, id)
		if f.holders[key] == userID {
			delete(f.holders, key)
			released++
		}
	}
	return released, nil
}

func (f *fakeLockRepo) CacheAvailability(_ context.Context, eventID uuid.UUID, snapshot []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[eventID] = snapshot
	return nil
}

func (f *fakeLockRepo) CachedAvailability(_ context.Context, eventID uuid.UUID) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.snapshots[eventID]
	return data, ok, nil
}

func (f *fakeLockRepo) heldCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.holders)
}

// fakeSeatRepo is an in-memory durable store with the same version-guard
// semantics as the SQL implementation.
type fakeSeatRepo struct {
	mu    sync.Mutex
	seats map[uuid.UUID]*models.Seat

	conflictsLeft int
	confirmErr    error
	cancelErr     error
}

func newFakeSeatRepo(seats ...*models.Seat) *fakeSeatRepo {
	r := &fakeSeatRepo{seats: make(map[uuid.UUID]*models.Seat)}
	for _, s := range seats {
		cp := *s
		r.seats[s.ID] = &cp
	}
	return r
}

func (f *fakeSeatRepo) FindByEventID(_ context.Context, eventID uuid.UUID) ([]models.Seat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.Seat
	for _, s := range f.seats {
		if s.EventID == eventID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeSeatRepo) FindByEventAndIDs(_ context.Context, eventID uuid.UUID, seatIDs []uuid.UUID) ([]models.Seat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.Seat
	for _, id := range seatIDs {
		if s, ok := f.seats[id]; ok && s.EventID == eventID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeSeatRepo) UpdateLock(_ context.Context, seat *models.Seat) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conflictsLeft > 0 {
		f.conflictsLeft--
		return pgrepo.ErrVersionConflict
	}

	stored, ok := f.seats[seat.ID]
	if !ok || stored.Version != seat.Version {
		return pgrepo.ErrVersionConflict
	}

	cp := *seat
	cp.Version++
	f.seats[seat.ID] = &cp
	seat.Version++
	return nil
}

func (f *fakeSeatRepo) ConfirmSeats(_ context.Context, eventID uuid.UUID, seatIDs []uuid.UUID, userID, bookingID uuid.UUID) error {
	if f.confirmErr != nil {
		return f.confirmErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now().UTC()
	for _, id := range seatIDs {
		s, ok := f.seats[id]
		if !ok || s.EventID != eventID || !s.HeldBy(userID, now) {
			return pgrepo.ErrSeatsNotHeld
		}
	}
	for _, id := range seatIDs {
		s := f.seats[id]
		s.Status = models.SeatStatusBooked
		s.BookedBy = &userID
		s.BookingID = &bookingID
		s.LockedBy, s.LockedAt, s.LockExpiresAt = nil, nil, nil
		s.Version++
	}
	return nil
}

func (f *fakeSeatRepo) ReleaseLocksByUser(_ context.Context, seatIDs []uuid.UUID, userID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int64
	for _, id := range seatIDs {
		s, ok := f.seats[id]
		if ok && s.Status == models.SeatStatusLocked && s.LockedBy != nil && *s.LockedBy == userID {
			s.Status = models.SeatStatusAvailable
			s.LockedBy, s.LockedAt, s.LockExpiresAt = nil, nil, nil
			s.Version++
			n++
		}
	}
	return n, nil
}

func (f *fakeSeatRepo) CancelSeats(_ context.Context, eventID uuid.UUID, seatIDs []uuid.UUID) (int64, error) {
	if f.cancelErr != nil {
		return 0, f.cancelErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var n int64
	for _, id := range seatIDs {
		s, ok := f.seats[id]
		if ok && s.EventID == eventID {
			s.Status = models.SeatStatusAvailable
			s.LockedBy, s.LockedAt, s.LockExpiresAt = nil, nil, nil
			s.BookedBy, s.BookingID = nil, nil
			s.Version++
			n++
		}
	}
	return n, nil
}

func (f *fakeSeatRepo) ReleaseExpiredLocks(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int64
	for _, s := range f.seats {
		if s.IsLockExpired(now) {
			s.Status = models.SeatStatusAvailable
			s.LockedBy, s.LockedAt, s.LockExpiresAt = nil, nil, nil
			s.Version++
			n++
		}
	}
	return n, nil
}

func (f *fakeSeatRepo) get(id uuid.UUID) models.Seat {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.seats[id]
}

// fakeProducer records everything published.
type fakeProducer struct {
	mu sync.Mutex

	seatCommands    []kafka.SeatCommand
	paymentCommands []kafka.PaymentCommand
	seatEvents      []kafka.SeatEvent
	bookingEvents   []kafka.BookingEvent
	notifications   []kafka.NotificationEvent

	seatCommandErr    error
	paymentCommandErr error
}

func (f *fakeProducer) PublishSeatCommand(_ context.Context, cmd kafka.SeatCommand) error {
	if f.seatCommandErr != nil {
		return f.seatCommandErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seatCommands = append(f.seatCommands, cmd)
	return nil
}

func (f *fakeProducer) PublishPaymentCommand(_ context.Context, cmd kafka.PaymentCommand) error {
	if f.paymentCommandErr != nil {
		return f.paymentCommandErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paymentCommands = append(f.paymentCommands, cmd)
	return nil
}

func (f *fakeProducer) PublishSeatEvent(_ context.Context, e kafka.SeatEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seatEvents = append(f.seatEvents, e)
	return nil
}

func (f *fakeProducer) PublishBookingEvent(_ context.Context, e kafka.BookingEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bookingEvents = append(f.bookingEvents, e)
	return nil
}

func (f *fakeProducer) PublishNotification(_ context.Context, e kafka.NotificationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, e)
	return nil
}

func (f *fakeProducer) Close() error { return nil }

func (f *fakeProducer) paymentCommandsOfType(commandType string) []kafka.PaymentCommand {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []kafka.PaymentCommand
	for _, cmd := range f.paymentCommands {
		if cmd.CommandType == commandType {
			out = append(out, cmd)
		}
	}
	return out
}

func (f *fakeProducer) seatCommandsOfType(commandType string) []kafka.SeatCommand {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []kafka.SeatCommand
	for _, cmd := range f.seatCommands {
		if cmd.CommandType == commandType {
			out = append(out, cmd)
		}
	}
	return out
}

// fakeBookingRepo stores deep copies so only Update persists service-side
// mutations, matching the real repository.
type fakeBookingRepo struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]models.Booking
	byKey map[string]uuid.UUID

	createCalls int
	createErr   error
	updateErr   error

	// missLookups makes GetByIdempotencyKey report not-found that many
	// times, simulating an insert racing the pre-insert lookup.
	missLookups int
}

func newFakeBookingRepo() *fakeBookingRepo {
	return &fakeBookingRepo{
		byID:  make(map[uuid.UUID]models.Booking),
		byKey: make(map[string]uuid.UUID),
	}
}

func copyBooking(b models.Booking) models.Booking {
	cp := b
	cp.Seats = append([]models.BookedSeat(nil), b.Seats...)
	return cp
}

func (f *fakeBookingRepo) Create(_ context.Context, b *models.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.createCalls++
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.byKey[b.IdempotencyKey]; ok {
		return pgrepo.ErrDuplicateIdempotencyKey
	}

	f.byID[b.ID] = copyBooking(*b)
	f.byKey[b.IdempotencyKey] = b.ID
	return nil
}

func (f *fakeBookingRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.byID[id]
	if !ok {
		return nil, pgrepo.ErrBookingNotFound
	}
	cp := copyBooking(b)
	return &cp, nil
}

func (f *fakeBookingRepo) GetByIdempotencyKey(_ context.Context, key string) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.missLookups > 0 {
		f.missLookups--
		return nil, pgrepo.ErrBookingNotFound
	}

	id, ok := f.byKey[key]
	if !ok {
		return nil, pgrepo.ErrBookingNotFound
	}
	cp := copyBooking(f.byID[id])
	return &cp, nil
}

func (f *fakeBookingRepo) Update(_ context.Context, b *models.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.updateErr != nil {
		return f.updateErr
	}
	if _, ok := f.byID[b.ID]; !ok {
		return pgrepo.ErrBookingNotFound
	}

	b.UpdatedAt = time.Now().UTC()
	f.byID[b.ID] = copyBooking(*b)
	return nil
}

func (f *fakeBookingRepo) FindExpired(_ context.Context, state models.SagaState, now time.Time) ([]models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.Booking
	for _, b := range f.byID {
		if b.SagaState == state && b.ExpiresAt != nil && now.After(*b.ExpiresAt) {
			out = append(out, copyBooking(b))
		}
	}
	return out, nil
}

func (f *fakeBookingRepo) stored(id uuid.UUID) models.Booking {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyBooking(f.byID[id])
}
