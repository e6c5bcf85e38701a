package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eventhub/ticketing-core/internal/models"
)

var (
	ErrBookingNotFound = errors.New("booking not found")

	// ErrDuplicateIdempotencyKey is returned when an insert lost the race on
	// the idempotency_key unique constraint. The caller should re-read by key.
	ErrDuplicateIdempotencyKey = errors.New("booking with this idempotency key already exists")
)

const pgUniqueViolation = "23505"

type BookingRepository interface {
	Create(ctx context.Context, b *models.Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.Booking, error)
	Update(ctx context.Context, b *models.Booking) error

	// FindExpired returns bookings still in the given saga state whose
	// expires_at lies before now.
	FindExpired(ctx context.Context, state models.SagaState, now time.Time) ([]models.Booking, error)
}

const bookingColumns = `id, event_id, user_id, idempotency_key, status, saga_state,
	total_amount, currency, payment_id, ticket_code, failure_reason,
	expires_at, confirmed_at, cancelled_at, created_at, updated_at`

type bookingRepository struct {
	db *pgxpool.Pool
}

func NewBookingRepository(db *pgxpool.Pool) BookingRepository {
	return &bookingRepository{db: db}
}

func (r *bookingRepository) Create(ctx context.Context, b *models.Booking) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO bookings (id, event_id, user_id, idempotency_key, status, saga_state,
			total_amount, currency, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, b.ID.String(), b.EventID.String(), b.UserID.String(), b.IdempotencyKey,
		b.Status, b.SagaState, b.TotalAmount, b.Currency, b.ExpiresAt, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateIdempotencyKey
		}
		return err
	}

	for _, s := range b.Seats {
		if _, err := tx.Exec(ctx, `
			INSERT INTO booked_seats (booking_id, seat_id, section, row_label, seat_number, price, currency)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, b.ID.String(), s.SeatID.String(), s.Section, s.Row, s.Number, s.Price, s.Currency); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *bookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM bookings WHERE id = $1
	`, bookingColumns), id.String())

	return r.loadBooking(ctx, row)
}

func (r *bookingRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.Booking, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM bookings WHERE idempotency_key = $1
	`, bookingColumns), key)

	return r.loadBooking(ctx, row)
}

func (r *bookingRepository) Update(ctx context.Context, b *models.Booking) error {
	b.UpdatedAt = time.Now().UTC()

	ct, err := r.db.Exec(ctx, `
		UPDATE bookings
		SET status = $1, saga_state = $2, payment_id = $3, ticket_code = $4,
		    failure_reason = $5, confirmed_at = $6, cancelled_at = $7, updated_at = $8
		WHERE id = $9
	`, b.Status, b.SagaState, uuidPtrString(b.PaymentID), nullableString(b.TicketCode),
		nullableString(b.FailureReason), b.ConfirmedAt, b.CancelledAt, b.UpdatedAt, b.ID.String())
	if err != nil {
		return err
	}

	if ct.RowsAffected() == 0 {
		return ErrBookingNotFound
	}

	return nil
}

func (r *bookingRepository) FindExpired(ctx context.Context, state models.SagaState, now time.Time) ([]models.Booking, error) {
	rows, err := r.db.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM bookings WHERE saga_state = $1 AND expires_at < $2
	`, bookingColumns), state, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range bookings {
		seats, err := r.loadSeats(ctx, bookings[i].ID)
		if err != nil {
			return nil, err
		}
		bookings[i].Seats = seats
	}

	return bookings, nil
}

func (r *bookingRepository) loadBooking(ctx context.Context, row pgx.Row) (*models.Booking, error) {
	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}

	if b.Seats, err = r.loadSeats(ctx, b.ID); err != nil {
		return nil, err
	}

	return b, nil
}

func (r *bookingRepository) loadSeats(ctx context.Context, bookingID uuid.UUID) ([]models.BookedSeat, error) {
	rows, err := r.db.Query(ctx, `
		SELECT seat_id, section, row_label, seat_number, price, currency
		FROM booked_seats WHERE booking_id = $1
		ORDER BY section, row_label, seat_number
	`, bookingID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var seats []models.BookedSeat
	for rows.Next() {
		var (
			s      models.BookedSeat
			seatID string
		)
		if err := rows.Scan(&seatID, &s.Section, &s.Row, &s.Number, &s.Price, &s.Currency); err != nil {
			return nil, err
		}
		if s.SeatID, err = uuid.Parse(seatID); err != nil {
			return nil, fmt.Errorf("invalid seat id %q: %w", seatID, err)
		}
		seats = append(seats, s)
	}

	return seats, rows.Err()
}

func scanBooking(row pgx.Row) (*models.Booking, error) {
	var (
		b                         models.Booking
		id, eventID, userID       string
		paymentID                 *string
		ticketCode, failureReason *string
	)
	if err := row.Scan(
		&id, &eventID, &userID, &b.IdempotencyKey, &b.Status, &b.SagaState,
		&b.TotalAmount, &b.Currency, &paymentID, &ticketCode, &failureReason,
		&b.ExpiresAt, &b.ConfirmedAt, &b.CancelledAt, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if b.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid booking id %q: %w", id, err)
	}
	if b.EventID, err = uuid.Parse(eventID); err != nil {
		return nil, fmt.Errorf("invalid event id %q: %w", eventID, err)
	}
	if b.UserID, err = uuid.Parse(userID); err != nil {
		return nil, fmt.Errorf("invalid user id %q: %w", userID, err)
	}
	if b.PaymentID, err = parseUUIDPtr(paymentID); err != nil {
		return nil, err
	}
	if ticketCode != nil {
		b.TicketCode = *ticketCode
	}
	if failureReason != nil {
		b.FailureReason = *failureReason
	}

	return &b, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
