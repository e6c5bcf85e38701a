package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eventhub/ticketing-core/pkg/logger"
)

// DedupRepository records which inbound commands have already been processed,
// keyed by (bookingID, commandType). The records live in Redis rather than
// process memory so redelivered commands are recognized across replicas and
// restarts.
type DedupRepository interface {
	// MarkProcessed returns false when the command was already recorded.
	MarkProcessed(ctx context.Context, bookingID, commandType string, ttl time.Duration) (bool, error)

	// Clear removes the record so a failed command can be retried on
	// redelivery.
	Clear(ctx context.Context, bookingID, commandType string) error
}

type redisDedupRepository struct {
	cli *redis.Client
	l   logger.Logger
}

func NewRedisDedupRepository(cli *redis.Client, l logger.Logger) DedupRepository {
	return &redisDedupRepository{
		cli: cli,
		l:   l,
	}
}

func (r *redisDedupRepository) MarkProcessed(ctx context.Context, bookingID, commandType string, ttl time.Duration) (bool, error) {
	ok, err := r.cli.SetNX(ctx, r.dedupKey(bookingID, commandType), time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		r.l.Errorf(ctx, "redisDedupRepository.MarkProcessed: %v", err)
		return false, err
	}

	return ok, nil
}

func (r *redisDedupRepository) Clear(ctx context.Context, bookingID, commandType string) error {
	if err := r.cli.Del(ctx, r.dedupKey(bookingID, commandType)).Err(); err != nil {
		r.l.Errorf(ctx, "redisDedupRepository.Clear: %v", err)
		return err
	}

	return nil
}

func (r *redisDedupRepository) dedupKey(bookingID, commandType string) string {
	return fmt.Sprintf("seat:dedup:%s:%s", bookingID, commandType)
}
