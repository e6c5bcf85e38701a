package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/eventhub/ticketing-core/config"
	pkgLog "github.com/eventhub/ticketing-core/pkg/logger"
)

// Sweeper runs the two background reclaim loops: expired durable seat locks
// and stale bookings. Each loop has its own interval; a slow booking
// compensation never delays seat reclaim.
type Sweeper interface {
	Start(ctx context.Context) error
	Stop() error
	GetStatus() SweeperStatus
}

type SweeperStatus struct {
	IsRunning        bool      `json:"is_running"`
	StartedAt        time.Time `json:"started_at,omitempty"`
	LastSeatSweep    time.Time `json:"last_seat_sweep,omitempty"`
	LastBookingSweep time.Time `json:"last_booking_sweep,omitempty"`
	SeatsReclaimed   int64     `json:"seats_reclaimed"`
	BookingsExpired  int64     `json:"bookings_expired"`
	ErrorCount       int64     `json:"error_count"`
}

type sweeper struct {
	seatSvc SeatInventoryService
	sagaSvc BookingSagaService
	logger  pkgLog.Logger

	seatInterval    time.Duration
	bookingInterval time.Duration
	shutdownTimeout time.Duration

	mu        sync.RWMutex
	isRunning bool
	startedAt time.Time
	stopCh    chan struct{}
	wg        sync.WaitGroup

	lastSeatSweep    time.Time
	lastBookingSweep time.Time
	seatsReclaimed   int64
	bookingsExpired  int64
	errorCount       int64
}

func NewSweeper(
	seatSvc SeatInventoryService,
	sagaSvc BookingSagaService,
	seatCfg config.SeatConfig,
	bookingCfg config.BookingConfig,
	logger pkgLog.Logger,
) Sweeper {
	return &sweeper{
		seatSvc:         seatSvc,
		sagaSvc:         sagaSvc,
		logger:          logger,
		seatInterval:    seatCfg.SweepInterval,
		bookingInterval: bookingCfg.SweepInterval,
		shutdownTimeout: 30 * time.Second,
		stopCh:          make(chan struct{}),
	}
}

func (sw *sweeper) Start(ctx context.Context) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.isRunning {
		return errors.New("sweeper is already running")
	}

	sw.logger.Infof(ctx, "starting sweeper: seat interval=%s booking interval=%s",
		sw.seatInterval, sw.bookingInterval)

	sw.isRunning = true
	sw.startedAt = time.Now()

	sw.wg.Add(2)
	go sw.seatLoop(ctx)
	go sw.bookingLoop(ctx)

	return nil
}

func (sw *sweeper) Stop() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if !sw.isRunning {
		return errors.New("sweeper is not running")
	}

	close(sw.stopCh)

	done := make(chan struct{})
	go func() {
		sw.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		sw.logger.Infof(context.Background(), "sweeper stopped gracefully")
	case <-time.After(sw.shutdownTimeout):
		sw.logger.Warnf(context.Background(), "sweeper shutdown timeout exceeded")
	}

	sw.isRunning = false
	return nil
}

func (sw *sweeper) seatLoop(ctx context.Context) {
	defer sw.wg.Done()

	ticker := time.NewTicker(sw.seatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sw.stopCh:
			return
		case <-ticker.C:
			sw.sweepSeats(ctx)
		}
	}
}

func (sw *sweeper) bookingLoop(ctx context.Context) {
	defer sw.wg.Done()

	ticker := time.NewTicker(sw.bookingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sw.stopCh:
			return
		case <-ticker.C:
			sw.sweepBookings(ctx)
		}
	}
}

func (sw *sweeper) sweepSeats(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	released, err := sw.seatSvc.ReleaseExpiredLocks(sweepCtx)

	sw.mu.Lock()
	sw.lastSeatSweep = time.Now()
	if err != nil {
		sw.errorCount++
	} else {
		sw.seatsReclaimed += released
	}
	sw.mu.Unlock()

	if err != nil {
		sw.logger.Errorf(ctx, "sweeper.sweepSeats: %v", err)
	}
}

func (sw *sweeper) sweepBookings(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	expired, err := sw.sagaSvc.ExpireStaleBookings(sweepCtx)

	sw.mu.Lock()
	sw.lastBookingSweep = time.Now()
	sw.bookingsExpired += int64(expired)
	if err != nil {
		sw.errorCount++
	}
	sw.mu.Unlock()

	if err != nil {
		sw.logger.Errorf(ctx, "sweeper.sweepBookings: %v", err)
	}
}

func (sw *sweeper) GetStatus() SweeperStatus {
	sw.mu.RLock()
	defer sw.mu.RUnlock()

	return SweeperStatus{
		IsRunning:        sw.isRunning,
		StartedAt:        sw.startedAt,
		LastSeatSweep:    sw.lastSeatSweep,
		LastBookingSweep: sw.lastBookingSweep,
		SeatsReclaimed:   sw.seatsReclaimed,
		BookingsExpired:  sw.bookingsExpired,
		ErrorCount:       sw.errorCount,
	}
}
