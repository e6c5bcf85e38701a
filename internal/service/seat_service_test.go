package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventhub/ticketing-core/config"
	kafka "github.com/eventhub/ticketing-core/internal/delivery/kafka"
	"github.com/eventhub/ticketing-core/internal/models"
	pkgLog "github.com/eventhub/ticketing-core/pkg/logger"
)

func testSeatConfig() config.SeatConfig {
	return config.SeatConfig{
		LockTTL:              time.Minute,
		MaxSeatsPerUser:      4,
		LockUpdateRetries:    3,
		SweepInterval:        time.Minute,
		AvailabilityCacheTTL: 30 * time.Second,
	}
}

func newSeat(eventID uuid.UUID, section string, number int, price int64) *models.Seat {
	return &models.Seat{
		ID:       uuid.New(),
		EventID:  eventID,
		Section:  section,
		Row:      "A",
		Number:   number,
		Status:   models.SeatStatusAvailable,
		Price:    price,
		Currency: "USD",
	}
}

func newSeatService(locks *fakeLockRepo, seats *fakeSeatRepo, prod *fakeProducer) SeatInventoryService {
	return NewSeatInventoryService(locks, seats, prod, testSeatConfig(), pkgLog.InitializeTestZapLogger())
}

func TestLockSeats_HappyPath(t *testing.T) {
	eventID := uuid.New()
	userID := uuid.New()
	s1 := newSeat(eventID, "GA", 1, 5000)
	s2 := newSeat(eventID, "GA", 2, 5000)

	locks := newFakeLockRepo()
	seats := newFakeSeatRepo(s1, s2)
	prod := &fakeProducer{}
	svc := newSeatService(locks, seats, prod)

	out, err := svc.LockSeats(context.Background(), LockSeatsInput{
		EventID: eventID,
		SeatIDs: []uuid.UUID{s1.ID, s2.ID},
		UserID:  userID,
	})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.NotEmpty(t, out.LockID)
	assert.Len(t, out.SeatIDs, 2)
	assert.True(t, out.ExpiresAt.After(time.Now()))

	for _, id := range []uuid.UUID{s1.ID, s2.ID} {
		stored := seats.get(id)
		assert.Equal(t, models.SeatStatusLocked, stored.Status)
		require.NotNil(t, stored.LockedBy)
		assert.Equal(t, userID, *stored.LockedBy)
	}

	require.Len(t, prod.seatEvents, 1)
	assert.Equal(t, kafka.EventSeatLocked, prod.seatEvents[0].EventType)
}

func TestLockSeats_SingleWinnerUnderContention(t *testing.T) {
	eventID := uuid.New()
	s1 := newSeat(eventID, "GA", 1, 5000)
	s2 := newSeat(eventID, "GA", 2, 5000)

	locks := newFakeLockRepo()
	seats := newFakeSeatRepo(s1, s2)
	svc := newSeatService(locks, seats, &fakeProducer{})

	const contenders = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.LockSeats(context.Background(), LockSeatsInput{
				EventID: eventID,
				SeatIDs: []uuid.UUID{s1.ID, s2.ID},
				UserID:  uuid.New(),
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrSeatUnavailable)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 2, locks.heldCount())
}

func TestLockSeats_AllOrNothing(t *testing.T) {
	eventID := uuid.New()
	rival := uuid.New()
	s1 := newSeat(eventID, "GA", 1, 5000)
	s2 := newSeat(eventID, "GA", 2, 5000)

	locks := newFakeLockRepo()
	seats := newFakeSeatRepo(s1, s2)
	svc := newSeatService(locks, seats, &fakeProducer{})

	// Rival already holds the second seat.
	_, err := locks.LockSeats(context.Background(), eventID, []uuid.UUID{s2.ID}, rival, time.Minute, 4)
	require.NoError(t, err)

	_, err = svc.LockSeats(context.Background(), LockSeatsInput{
		EventID: eventID,
		SeatIDs: []uuid.UUID{s1.ID, s2.ID},
		UserID:  uuid.New(),
	})
	assert.ErrorIs(t, err, ErrSeatUnavailable)

	// Only the rival's claim remains.
	assert.Equal(t, 1, locks.heldCount())
	assert.Equal(t, models.SeatStatusAvailable, seats.get(s1.ID).Status)
}

func TestLockSeats_MaxSeatsExceeded(t *testing.T) {
	eventID := uuid.New()
	s1 := newSeat(eventID, "GA", 1, 5000)

	locks := newFakeLockRepo()
	locks.maxExceeded = true
	svc := newSeatService(locks, newFakeSeatRepo(s1), &fakeProducer{})

	_, err := svc.LockSeats(context.Background(), LockSeatsInput{
		EventID: eventID,
		SeatIDs: []uuid.UUID{s1.ID},
		UserID:  uuid.New(),
	})
	assert.ErrorIs(t, err, ErrMaxSeatsExceeded)
}

func TestLockSeats_FailsClosedWhenLockLayerDown(t *testing.T) {
	eventID := uuid.New()
	s1 := newSeat(eventID, "GA", 1, 5000)

	locks := newFakeLockRepo()
	locks.lockErr = errors.New("connection refused")
	svc := newSeatService(locks, newFakeSeatRepo(s1), &fakeProducer{})

	_, err := svc.LockSeats(context.Background(), LockSeatsInput{
		EventID: eventID,
		SeatIDs: []uuid.UUID{s1.ID},
		UserID:  uuid.New(),
	})
	assert.ErrorIs(t, err, ErrLockUnavailable)
}

func TestLockSeats_RetriesOnVersionConflict(t *testing.T) {
	eventID := uuid.New()
	s1 := newSeat(eventID, "GA", 1, 5000)

	locks := newFakeLockRepo()
	seats := newFakeSeatRepo(s1)
	seats.conflictsLeft = 2
	svc := newSeatService(locks, seats, &fakeProducer{})

	out, err := svc.LockSeats(context.Background(), LockSeatsInput{
		EventID: eventID,
		SeatIDs: []uuid.UUID{s1.ID},
		UserID:  uuid.New(),
	})
	require.NoError(t, err)
	assert.Len(t, out.SeatIDs, 1)
	assert.Equal(t, models.SeatStatusLocked, seats.get(s1.ID).Status)
}

func TestLockSeats_DivergedDurableRowRollsBackFastLocks(t *testing.T) {
	eventID := uuid.New()
	s1 := newSeat(eventID, "GA", 1, 5000)
	// Durable row already BOOKED while the fast lock layer thinks it is free.
	other := uuid.New()
	s1.Status = models.SeatStatusBooked
	s1.BookedBy = &other

	locks := newFakeLockRepo()
	seats := newFakeSeatRepo(s1)
	svc := newSeatService(locks, seats, &fakeProducer{})

	_, err := svc.LockSeats(context.Background(), LockSeatsInput{
		EventID: eventID,
		SeatIDs: []uuid.UUID{s1.ID},
		UserID:  uuid.New(),
	})
	assert.ErrorIs(t, err, ErrSeatUnavailable)
	assert.Equal(t, 0, locks.heldCount())
}

func TestLockSeats_UnknownSeat(t *testing.T) {
	eventID := uuid.New()
	s1 := newSeat(eventID, "GA", 1, 5000)

	locks := newFakeLockRepo()
	svc := newSeatService(locks, newFakeSeatRepo(s1), &fakeProducer{})

	_, err := svc.LockSeats(context.Background(), LockSeatsInput{
		EventID: eventID,
		SeatIDs: []uuid.UUID{s1.ID, uuid.New()},
		UserID:  uuid.New(),
	})
	assert.ErrorIs(t, err, ErrSeatNotFound)
	assert.Equal(t, 0, locks.heldCount())
}

func TestReleaseSeats_Idempotent(t *testing.T) {
	eventID := uuid.New()
	userID := uuid.New()
	s1 := newSeat(eventID, "GA", 1, 5000)

	locks := newFakeLockRepo()
	seats := newFakeSeatRepo(s1)
	prod := &fakeProducer{}
	svc := newSeatService(locks, seats, prod)

	_, err := svc.LockSeats(context.Background(), LockSeatsInput{
		EventID: eventID, SeatIDs: []uuid.UUID{s1.ID}, UserID: userID,
	})
	require.NoError(t, err)

	in := ReleaseSeatsInput{EventID: eventID, SeatIDs: []uuid.UUID{s1.ID}, UserID: userID}
	require.NoError(t, svc.ReleaseSeats(context.Background(), in))
	require.NoError(t, svc.ReleaseSeats(context.Background(), in))

	assert.Equal(t, models.SeatStatusAvailable, seats.get(s1.ID).Status)
	assert.Equal(t, 0, locks.heldCount())
}

func TestConfirmSeats(t *testing.T) {
	eventID := uuid.New()
	userID := uuid.New()
	bookingID := uuid.New()
	s1 := newSeat(eventID, "GA", 1, 5000)

	locks := newFakeLockRepo()
	seats := newFakeSeatRepo(s1)
	prod := &fakeProducer{}
	svc := newSeatService(locks, seats, prod)

	_, err := svc.LockSeats(context.Background(), LockSeatsInput{
		EventID: eventID, SeatIDs: []uuid.UUID{s1.ID}, UserID: userID,
	})
	require.NoError(t, err)

	err = svc.ConfirmSeats(context.Background(), ConfirmSeatsInput{
		EventID: eventID, SeatIDs: []uuid.UUID{s1.ID}, UserID: userID, BookingID: bookingID,
	})
	require.NoError(t, err)

	stored := seats.get(s1.ID)
	assert.Equal(t, models.SeatStatusBooked, stored.Status)
	require.NotNil(t, stored.BookingID)
	assert.Equal(t, bookingID, *stored.BookingID)

	// Fast locks cleared after confirm.
	assert.Equal(t, 0, locks.heldCount())

	require.Len(t, prod.seatEvents, 2)
	assert.Equal(t, kafka.EventSeatBooked, prod.seatEvents[1].EventType)
}

func TestConfirmSeats_NotHeld(t *testing.T) {
	eventID := uuid.New()
	s1 := newSeat(eventID, "GA", 1, 5000)

	svc := newSeatService(newFakeLockRepo(), newFakeSeatRepo(s1), &fakeProducer{})

	err := svc.ConfirmSeats(context.Background(), ConfirmSeatsInput{
		EventID: eventID, SeatIDs: []uuid.UUID{s1.ID}, UserID: uuid.New(), BookingID: uuid.New(),
	})
	assert.ErrorIs(t, err, ErrSeatsNotHeld)
}

func TestCancelSeats_NeverFails(t *testing.T) {
	eventID := uuid.New()
	s1 := newSeat(eventID, "GA", 1, 5000)

	seats := newFakeSeatRepo(s1)
	seats.cancelErr = errors.New("store down")
	svc := newSeatService(newFakeLockRepo(), seats, &fakeProducer{})

	err := svc.CancelSeats(context.Background(), CancelSeatsInput{
		EventID: eventID, SeatIDs: []uuid.UUID{s1.ID}, BookingID: uuid.New(),
	})
	assert.NoError(t, err)
}

func TestCancelSeats_RevertsBookedSeats(t *testing.T) {
	eventID := uuid.New()
	bookingID := uuid.New()
	owner := uuid.New()
	s1 := newSeat(eventID, "GA", 1, 5000)
	s1.Status = models.SeatStatusBooked
	s1.BookedBy = &owner
	s1.BookingID = &bookingID

	seats := newFakeSeatRepo(s1)
	prod := &fakeProducer{}
	svc := newSeatService(newFakeLockRepo(), seats, prod)

	err := svc.CancelSeats(context.Background(), CancelSeatsInput{
		EventID: eventID, SeatIDs: []uuid.UUID{s1.ID}, BookingID: bookingID,
	})
	require.NoError(t, err)

	stored := seats.get(s1.ID)
	assert.Equal(t, models.SeatStatusAvailable, stored.Status)
	assert.Nil(t, stored.BookingID)

	require.Len(t, prod.seatEvents, 1)
	assert.Equal(t, kafka.EventSeatReleased, prod.seatEvents[0].EventType)
}

func TestAvailability_GroupsBySection(t *testing.T) {
	eventID := uuid.New()
	holder := uuid.New()

	ga1 := newSeat(eventID, "GA", 1, 5000)
	ga2 := newSeat(eventID, "GA", 2, 4500)
	locked := newSeat(eventID, "GA", 3, 5000)
	locked.Status = models.SeatStatusLocked
	locked.LockedBy = &holder
	exp := time.Now().Add(time.Minute)
	locked.LockExpiresAt = &exp
	vip := newSeat(eventID, "VIP", 1, 20000)

	svc := newSeatService(newFakeLockRepo(), newFakeSeatRepo(ga1, ga2, locked, vip), &fakeProducer{})

	out, err := svc.Availability(context.Background(), eventID)
	require.NoError(t, err)
	require.Len(t, out.Sections, 2)

	bySection := make(map[string]SectionAvailability)
	for _, s := range out.Sections {
		bySection[s.Section] = s
	}

	assert.Equal(t, int64(2), bySection["GA"].Available)
	assert.Equal(t, int64(3), bySection["GA"].Total)
	assert.Equal(t, int64(4500), bySection["GA"].MinPrice)
	assert.Equal(t, int64(1), bySection["VIP"].Available)
	assert.Equal(t, int64(20000), bySection["VIP"].MinPrice)
}

func TestAvailability_ServedFromCacheWhileFresh(t *testing.T) {
	eventID := uuid.New()
	s1 := newSeat(eventID, "GA", 1, 5000)

	locks := newFakeLockRepo()
	seats := newFakeSeatRepo(s1)
	svc := newSeatService(locks, seats, &fakeProducer{})

	first, err := svc.Availability(context.Background(), eventID)
	require.NoError(t, err)
	require.Len(t, first.Sections, 1)
	assert.Equal(t, int64(1), first.Sections[0].Available)

	// The store changes, but the snapshot is still inside its TTL.
	holder := uuid.New()
	exp := time.Now().Add(time.Minute)
	stored := seats.get(s1.ID)
	stored.Status = models.SeatStatusLocked
	stored.LockedBy = &holder
	stored.LockExpiresAt = &exp
	require.NoError(t, seats.UpdateLock(context.Background(), &stored))

	second, err := svc.Availability(context.Background(), eventID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), second.Sections[0].Available)
}

func TestReleaseExpiredLocks(t *testing.T) {
	eventID := uuid.New()
	holder := uuid.New()
	past := time.Now().Add(-time.Minute)

	stale := newSeat(eventID, "GA", 1, 5000)
	stale.Status = models.SeatStatusLocked
	stale.LockedBy = &holder
	stale.LockExpiresAt = &past

	fresh := newSeat(eventID, "GA", 2, 5000)
	future := time.Now().Add(time.Minute)
	fresh.Status = models.SeatStatusLocked
	fresh.LockedBy = &holder
	fresh.LockExpiresAt = &future

	seats := newFakeSeatRepo(stale, fresh)
	svc := newSeatService(newFakeLockRepo(), seats, &fakeProducer{})

	released, err := svc.ReleaseExpiredLocks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), released)
	assert.Equal(t, models.SeatStatusAvailable, seats.get(stale.ID).Status)
	assert.Equal(t, models.SeatStatusLocked, seats.get(fresh.ID).Status)
}
