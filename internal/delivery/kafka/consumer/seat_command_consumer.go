package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	kafka "github.com/eventhub/ticketing-core/internal/delivery/kafka"
	redisrepo "github.com/eventhub/ticketing-core/internal/repository/redis"
	"github.com/eventhub/ticketing-core/internal/service"
	"github.com/eventhub/ticketing-core/pkg/logger"
)

// SeatCommandConsumer applies seat commands from the saga. Delivery is
// at-least-once and ordered per event id, so every command passes the dedup
// gate before it reaches the seat engine; a failed command clears its dedup
// record to stay retryable on redelivery.
type SeatCommandConsumer struct {
	consGr   sarama.ConsumerGroup
	seatSvc  service.SeatInventoryService
	dedup    redisrepo.DedupRepository
	dedupTTL time.Duration
	l        logger.Logger
	wg       sync.WaitGroup
}

func NewSeatCommandConsumer(
	consGr sarama.ConsumerGroup,
	seatSvc service.SeatInventoryService,
	dedup redisrepo.DedupRepository,
	dedupTTL time.Duration,
	l logger.Logger,
) *SeatCommandConsumer {
	return &SeatCommandConsumer{
		consGr:   consGr,
		seatSvc:  seatSvc,
		dedup:    dedup,
		dedupTTL: dedupTTL,
		l:        l,
	}
}

func (c *SeatCommandConsumer) Start(ctx context.Context) error {
	topics := []string{kafka.TopicSeatCommands}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			if err := c.consGr.Consume(ctx, topics, c); err != nil {
				c.l.Errorf(ctx, "delivery.kafka.consumer.SeatCommandConsumer.Start: %v", err)
			}

			if ctx.Err() != nil {
				c.l.Infof(ctx, "delivery.kafka.consumer.SeatCommandConsumer.Start: %v", ctx.Err())
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consGr.Errors() {
			c.l.Errorf(ctx, "delivery.kafka.consumer.SeatCommandConsumer.Start: %v", err)
		}
	}()

	c.l.Infof(ctx, "Seat command consumer is consuming topics: %v", topics)
	return nil
}

func (c *SeatCommandConsumer) Close() error {
	if err := c.consGr.Close(); err != nil {
		return err
	}

	c.wg.Wait()
	return nil
}

func (c *SeatCommandConsumer) Setup(sarama.ConsumerGroupSession) error {
	c.l.Debug(context.Background(), "Seat command consumer session started")
	return nil
}

func (c *SeatCommandConsumer) Cleanup(sarama.ConsumerGroupSession) error {
	c.l.Debug(context.Background(), "Seat command consumer session ended")
	return nil
}

func (c *SeatCommandConsumer) ConsumeClaim(ss sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			if err := c.HandleSeatCommand(ss.Context(), message); err != nil {
				c.l.Errorf(ss.Context(), "delivery.kafka.consumer.SeatCommandConsumer.ConsumeClaim: topic=%s offset=%d: %v",
					message.Topic, message.Offset, err)
				continue
			}

			ss.MarkMessage(message, "")

		case <-ss.Context().Done():
			return nil
		}
	}
}

func (c *SeatCommandConsumer) HandleSeatCommand(ctx context.Context, message *sarama.ConsumerMessage) error {
	var cmd kafka.SeatCommand
	if err := json.Unmarshal(message.Value, &cmd); err != nil {
		// Malformed payloads never become parseable; drop rather than block
		// the partition.
		c.l.Errorf(ctx, "delivery.kafka.consumer.HandleSeatCommand: unmarshal: %v", err)
		return nil
	}

	if err := cmd.Validate(); err != nil {
		c.l.Errorf(ctx, "delivery.kafka.consumer.HandleSeatCommand: %v", err)
		return nil
	}

	in, err := parseSeatCommand(cmd)
	if err != nil {
		c.l.Errorf(ctx, "delivery.kafka.consumer.HandleSeatCommand: %v", err)
		return nil
	}

	fresh, err := c.dedup.MarkProcessed(ctx, cmd.BookingID, cmd.CommandType, c.dedupTTL)
	if err != nil {
		return fmt.Errorf("dedup check: %w", err)
	}
	if !fresh {
		c.l.Infof(ctx, "dropping duplicate seat command: booking=%s type=%s", cmd.BookingID, cmd.CommandType)
		return nil
	}

	if err := c.dispatch(ctx, cmd.CommandType, in); err != nil {
		if cerr := c.dedup.Clear(ctx, cmd.BookingID, cmd.CommandType); cerr != nil {
			c.l.Errorf(ctx, "delivery.kafka.consumer.HandleSeatCommand: clear dedup: %v", cerr)
		}
		return err
	}

	return nil
}

func (c *SeatCommandConsumer) dispatch(ctx context.Context, commandType string, in seatCommandInput) error {
	switch commandType {
	case kafka.CommandSeatsConfirm:
		return c.seatSvc.ConfirmSeats(ctx, service.ConfirmSeatsInput{
			EventID:   in.eventID,
			SeatIDs:   in.seatIDs,
			UserID:    in.userID,
			BookingID: in.bookingID,
		})
	case kafka.CommandSeatsRelease:
		return c.seatSvc.ReleaseSeats(ctx, service.ReleaseSeatsInput{
			EventID: in.eventID,
			SeatIDs: in.seatIDs,
			UserID:  in.userID,
		})
	case kafka.CommandSeatsCancel:
		return c.seatSvc.CancelSeats(ctx, service.CancelSeatsInput{
			EventID:   in.eventID,
			SeatIDs:   in.seatIDs,
			BookingID: in.bookingID,
		})
	default:
		c.l.Warnf(ctx, "unknown seat command type %q", commandType)
		return nil
	}
}

type seatCommandInput struct {
	eventID   uuid.UUID
	bookingID uuid.UUID
	userID    uuid.UUID
	seatIDs   []uuid.UUID
}

func parseSeatCommand(cmd kafka.SeatCommand) (seatCommandInput, error) {
	var (
		in  seatCommandInput
		err error
	)

	if in.eventID, err = uuid.Parse(cmd.EventID); err != nil {
		return in, fmt.Errorf("invalid eventId %q: %w", cmd.EventID, err)
	}
	if in.bookingID, err = uuid.Parse(cmd.BookingID); err != nil {
		return in, fmt.Errorf("invalid bookingId %q: %w", cmd.BookingID, err)
	}
	if cmd.UserID != "" {
		if in.userID, err = uuid.Parse(cmd.UserID); err != nil {
			return in, fmt.Errorf("invalid userId %q: %w", cmd.UserID, err)
		}
	}

	in.seatIDs = make([]uuid.UUID, 0, len(cmd.SeatIDs))
	for _, raw := range cmd.SeatIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return in, fmt.Errorf("invalid seatId %q: %w", raw, err)
		}
		in.seatIDs = append(in.seatIDs, id)
	}

	return in, nil
}
