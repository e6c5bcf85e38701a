package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eventhub/ticketing-core/internal/models"
)

// ErrVersionConflict is returned when a version-guarded update matched no
// row: another writer advanced the seat since it was loaded. Callers should
// reload and retry rather than fail.
var ErrVersionConflict = errors.New("seat version conflict")

// ErrSeatsNotHeld is returned when a confirm touches seats that are not
// LOCKED by the expected user, e.g. after a lapsed hold was reassigned.
var ErrSeatsNotHeld = errors.New("seats are not locked by the expected user")

type SeatRepository interface {
	FindByEventID(ctx context.Context, eventID uuid.UUID) ([]models.Seat, error)
	FindByEventAndIDs(ctx context.Context, eventID uuid.UUID, seatIDs []uuid.UUID) ([]models.Seat, error)

	// UpdateLock writes the lock holder fields guarded by the seat's version
	// counter and bumps the counter. Returns ErrVersionConflict when the row
	// changed underneath the caller.
	UpdateLock(ctx context.Context, seat *models.Seat) error

	// ConfirmSeats transitions every seat LOCKED(userID) -> BOOKED(bookingID)
	// in one transaction. If any seat is not held by userID the whole call
	// fails with ErrSeatsNotHeld and no seat is modified.
	ConfirmSeats(ctx context.Context, eventID uuid.UUID, seatIDs []uuid.UUID, userID, bookingID uuid.UUID) error

	// ReleaseLocksByUser reverts LOCKED(userID) rows to AVAILABLE. Rows in
	// any other state are skipped, which makes the operation idempotent.
	ReleaseLocksByUser(ctx context.Context, seatIDs []uuid.UUID, userID uuid.UUID) (int64, error)

	// CancelSeats unconditionally reverts the seats of a booking to
	// AVAILABLE. Used by the compensation path, which must always succeed.
	CancelSeats(ctx context.Context, eventID uuid.UUID, seatIDs []uuid.UUID) (int64, error)

	// ReleaseExpiredLocks reverts LOCKED rows whose expiry has passed.
	ReleaseExpiredLocks(ctx context.Context, now time.Time) (int64, error)
}

const seatColumns = `id, event_id, section, row_label, seat_number, status, price, currency,
	locked_by, locked_at, lock_expires_at, booked_by, booking_id, version, created_at, updated_at`

type seatRepository struct {
	db *pgxpool.Pool
}

func NewSeatRepository(db *pgxpool.Pool) SeatRepository {
	return &seatRepository{db: db}
}

func (r *seatRepository) FindByEventID(ctx context.Context, eventID uuid.UUID) ([]models.Seat, error) {
	rows, err := r.db.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM seats WHERE event_id = $1 ORDER BY section, row_label, seat_number
	`, seatColumns), eventID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSeats(rows)
}

func (r *seatRepository) FindByEventAndIDs(ctx context.Context, eventID uuid.UUID, seatIDs []uuid.UUID) ([]models.Seat, error) {
	rows, err := r.db.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM seats WHERE event_id = $1 AND id = ANY($2)
	`, seatColumns), eventID.String(), uuidStrings(seatIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSeats(rows)
}

func (r *seatRepository) UpdateLock(ctx context.Context, seat *models.Seat) error {
	ct, err := r.db.Exec(ctx, `
		UPDATE seats
		SET status = $1, locked_by = $2, locked_at = $3, lock_expires_at = $4,
		    booked_by = NULL, booking_id = NULL,
		    version = version + 1, updated_at = NOW()
		WHERE id = $5 AND version = $6
	`, seat.Status, uuidPtrString(seat.LockedBy), seat.LockedAt, seat.LockExpiresAt,
		seat.ID.String(), seat.Version)
	if err != nil {
		return err
	}

	if ct.RowsAffected() == 0 {
		return ErrVersionConflict
	}

	seat.Version++
	return nil
}

func (r *seatRepository) ConfirmSeats(ctx context.Context, eventID uuid.UUID, seatIDs []uuid.UUID, userID, bookingID uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx, `
		UPDATE seats
		SET status = $1, booked_by = $2, booking_id = $3,
		    locked_by = NULL, locked_at = NULL, lock_expires_at = NULL,
		    version = version + 1, updated_at = NOW()
		WHERE event_id = $4 AND id = ANY($5)
		  AND status = $6 AND locked_by = $2
	`, models.SeatStatusBooked, userID.String(), bookingID.String(),
		eventID.String(), uuidStrings(seatIDs), models.SeatStatusLocked)
	if err != nil {
		return err
	}

	if ct.RowsAffected() != int64(len(seatIDs)) {
		return ErrSeatsNotHeld
	}

	return tx.Commit(ctx)
}

func (r *seatRepository) ReleaseLocksByUser(ctx context.Context, seatIDs []uuid.UUID, userID uuid.UUID) (int64, error) {
	ct, err := r.db.Exec(ctx, `
		UPDATE seats
		SET status = $1, locked_by = NULL, locked_at = NULL, lock_expires_at = NULL,
		    version = version + 1, updated_at = NOW()
		WHERE id = ANY($2) AND status = $3 AND locked_by = $4
	`, models.SeatStatusAvailable, uuidStrings(seatIDs), models.SeatStatusLocked, userID.String())
	if err != nil {
		return 0, err
	}

	return ct.RowsAffected(), nil
}

func (r *seatRepository) CancelSeats(ctx context.Context, eventID uuid.UUID, seatIDs []uuid.UUID) (int64, error) {
	ct, err := r.db.Exec(ctx, `
		UPDATE seats
		SET status = $1, booked_by = NULL, booking_id = NULL,
		    locked_by = NULL, locked_at = NULL, lock_expires_at = NULL,
		    version = version + 1, updated_at = NOW()
		WHERE event_id = $2 AND id = ANY($3)
	`, models.SeatStatusAvailable, eventID.String(), uuidStrings(seatIDs))
	if err != nil {
		return 0, err
	}

	return ct.RowsAffected(), nil
}

func (r *seatRepository) ReleaseExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	ct, err := r.db.Exec(ctx, `
		UPDATE seats
		SET status = $1, locked_by = NULL, locked_at = NULL, lock_expires_at = NULL,
		    version = version + 1, updated_at = NOW()
		WHERE status = $2 AND lock_expires_at < $3
	`, models.SeatStatusAvailable, models.SeatStatusLocked, now)
	if err != nil {
		return 0, err
	}

	return ct.RowsAffected(), nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanSeats(rows rowScanner) ([]models.Seat, error) {
	var seats []models.Seat
	for rows.Next() {
		var (
			s                             models.Seat
			id                            string
			eventID                       string
			lockedBy, bookedBy, bookingID *string
		)
		if err := rows.Scan(
			&id, &eventID, &s.Section, &s.Row, &s.Number, &s.Status, &s.Price, &s.Currency,
			&lockedBy, &s.LockedAt, &s.LockExpiresAt, &bookedBy, &bookingID,
			&s.Version, &s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, err
		}

		var err error
		if s.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid seat id %q: %w", id, err)
		}
		if s.EventID, err = uuid.Parse(eventID); err != nil {
			return nil, fmt.Errorf("invalid event id %q: %w", eventID, err)
		}
		if s.LockedBy, err = parseUUIDPtr(lockedBy); err != nil {
			return nil, err
		}
		if s.BookedBy, err = parseUUIDPtr(bookedBy); err != nil {
			return nil, err
		}
		if s.BookingID, err = parseUUIDPtr(bookingID); err != nil {
			return nil, err
		}

		seats = append(seats, s)
	}

	return seats, rows.Err()
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func uuidPtrString(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func parseUUIDPtr(s *string) (*uuid.UUID, error) {
	if s == nil {
		return nil, nil
	}

	id, err := uuid.Parse(*s)
	if err != nil {
		return nil, fmt.Errorf("invalid uuid %q: %w", *s, err)
	}
	return &id, nil
}
