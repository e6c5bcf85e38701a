package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/eventhub/ticketing-core/pkg/logger"
)

// Lock outcomes reported by the lock script.
const (
	lockResultOK               = "OK"
	lockResultMaxSeatsExceeded = "MAX_SEATS_EXCEEDED"
	lockResultUnavailable      = "SEAT_UNAVAILABLE"
)

// LockResult is the outcome of an atomic multi-seat lock attempt. Exactly one
// of Acquired, MaxSeatsExceeded or a non-empty UnavailableSeatKey is set.
type LockResult struct {
	Acquired           bool
	MaxSeatsExceeded   bool
	UnavailableSeatKey string
}

type SeatLockRepository interface {
	// LockSeats claims every seat for userID or none of them. The per-user
	// held-seat cap is enforced inside the same script so the check and the
	// claim cannot interleave with another request.
	LockSeats(ctx context.Context, eventID uuid.UUID, seatIDs []uuid.UUID, userID uuid.UUID, ttl time.Duration, maxSeatsPerUser int) (LockResult, error)

	// ReleaseSeats removes claims held by userID and returns how many were
	// actually released. Seats held by someone else are left untouched.
	ReleaseSeats(ctx context.Context, eventID uuid.UUID, seatIDs []uuid.UUID, userID uuid.UUID) (int64, error)

	// CacheAvailability stores a serialized availability snapshot for the
	// event. Snapshots are short-lived; seat maps tolerate staleness up to
	// the TTL.
	CacheAvailability(ctx context.Context, eventID uuid.UUID, snapshot []byte, ttl time.Duration) error

	// CachedAvailability returns the stored snapshot, ok=false on a miss.
	CachedAvailability(ctx context.Context, eventID uuid.UUID) (snapshot []byte, ok bool, err error)
}

// lockSeatsScript claims all KEYS for a user or none of them. ARGV: userID,
// ttl seconds, user held-set key, max seats per user. A seat already held by
// the same user is treated as free so re-locking extends the claim.
var lockSeatsScript = redis.NewScript(`
	local userId = ARGV[1]
	local ttl = tonumber(ARGV[2])
	local userLocksKey = ARGV[3]
	local maxUserSeats = tonumber(ARGV[4])

	local currentUserLocks = redis.call('SCARD', userLocksKey)
	if currentUserLocks + #KEYS > maxUserSeats then
		return 'MAX_SEATS_EXCEEDED'
	end

	for i, seatKey in ipairs(KEYS) do
		local existing = redis.call('GET', seatKey)
		if existing ~= false and existing ~= userId then
			return 'SEAT_UNAVAILABLE:' .. seatKey
		end
	end

	for i, seatKey in ipairs(KEYS) do
		redis.call('SET', seatKey, userId, 'EX', ttl)
		redis.call('SADD', userLocksKey, seatKey)
	end
	redis.call('EXPIRE', userLocksKey, ttl)

	return 'OK'
`)

// releaseSeatsScript deletes KEYS held by ARGV[1] and removes them from the
// held-set ARGV[2]. Returns the number of claims released.
var releaseSeatsScript = redis.NewScript(`
	local userId = ARGV[1]
	local userLocksKey = ARGV[2]
	local released = 0

	for i, seatKey in ipairs(KEYS) do
		local holder = redis.call('GET', seatKey)
		if holder == userId then
			redis.call('DEL', seatKey)
			redis.call('SREM', userLocksKey, seatKey)
			released = released + 1
		end
	end

	return released
`)

type redisSeatLockRepository struct {
	cli *redis.Client
	l   logger.Logger
}

func NewRedisSeatLockRepository(cli *redis.Client, l logger.Logger) SeatLockRepository {
	return &redisSeatLockRepository{
		cli: cli,
		l:   l,
	}
}

func (r *redisSeatLockRepository) LockSeats(ctx context.Context, eventID uuid.UUID, seatIDs []uuid.UUID, userID uuid.UUID, ttl time.Duration, maxSeatsPerUser int) (LockResult, error) {
	keys := r.seatKeys(eventID, seatIDs)
	userLocksKey := r.userLocksKey(eventID, userID)

	ttlSeconds := int64(ttl / time.Second)
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	res, err := lockSeatsScript.Run(ctx, r.cli, keys,
		userID.String(), ttlSeconds, userLocksKey, maxSeatsPerUser,
	).Text()
	if err != nil {
		r.l.Errorf(ctx, "redisSeatLockRepository.LockSeats: %v", err)
		return LockResult{}, err
	}

	switch {
	case res == lockResultOK:
		return LockResult{Acquired: true}, nil
	case res == lockResultMaxSeatsExceeded:
		return LockResult{MaxSeatsExceeded: true}, nil
	case strings.HasPrefix(res, lockResultUnavailable):
		seatKey := strings.TrimPrefix(res, lockResultUnavailable+":")
		return LockResult{UnavailableSeatKey: seatKey}, nil
	default:
		return LockResult{}, fmt.Errorf("unexpected lock script result: %q", res)
	}
}

func (r *redisSeatLockRepository) ReleaseSeats(ctx context.Context, eventID uuid.UUID, seatIDs []uuid.UUID, userID uuid.UUID) (int64, error) {
	keys := r.seatKeys(eventID, seatIDs)
	userLocksKey := r.userLocksKey(eventID, userID)

	released, err := releaseSeatsScript.Run(ctx, r.cli, keys,
		userID.String(), userLocksKey,
	).Int64()
	if err != nil {
		r.l.Errorf(ctx, "redisSeatLockRepository.ReleaseSeats: %v", err)
		return 0, err
	}

	if released > 0 {
		r.l.Debugf(ctx, "released %d seat claims for user %s on event %s", released, userID, eventID)
	}

	return released, nil
}

func (r *redisSeatLockRepository) CacheAvailability(ctx context.Context, eventID uuid.UUID, snapshot []byte, ttl time.Duration) error {
	if err := r.cli.Set(ctx, r.availabilityKey(eventID), snapshot, ttl).Err(); err != nil {
		r.l.Errorf(ctx, "redisSeatLockRepository.CacheAvailability: %v", err)
		return err
	}

	return nil
}

func (r *redisSeatLockRepository) CachedAvailability(ctx context.Context, eventID uuid.UUID) ([]byte, bool, error) {
	data, err := r.cli.Get(ctx, r.availabilityKey(eventID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}

		r.l.Errorf(ctx, "redisSeatLockRepository.CachedAvailability: %v", err)
		return nil, false, err
	}

	return data, true, nil
}

func (r *redisSeatLockRepository) seatKey(eventID, seatID uuid.UUID) string {
	return fmt.Sprintf("seat:lock:%s:%s", eventID, seatID)
}

func (r *redisSeatLockRepository) seatKeys(eventID uuid.UUID, seatIDs []uuid.UUID) []string {
	keys := make([]string, 0, len(seatIDs))
	for _, id := range seatIDs {
		keys = append(keys, r.seatKey(eventID, id))
	}
	return keys
}

func (r *redisSeatLockRepository) userLocksKey(eventID, userID uuid.UUID) string {
	return fmt.Sprintf("user:locks:%s:%s", eventID, userID)
}

func (r *redisSeatLockRepository) availabilityKey(eventID uuid.UUID) string {
	return fmt.Sprintf("seat:avail:%s", eventID)
}
