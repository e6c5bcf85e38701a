package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	kafka "github.com/eventhub/ticketing-core/internal/delivery/kafka"
	"github.com/eventhub/ticketing-core/internal/service"
	"github.com/eventhub/ticketing-core/pkg/logger"
)

// PaymentEventConsumer feeds payment results into the saga. The saga handlers
// are state-guarded, so redelivered results degrade to no-ops and no dedup
// gate is needed here.
type PaymentEventConsumer struct {
	consGr  sarama.ConsumerGroup
	sagaSvc service.BookingSagaService
	l       logger.Logger
	wg      sync.WaitGroup
}

func NewPaymentEventConsumer(
	consGr sarama.ConsumerGroup,
	sagaSvc service.BookingSagaService,
	l logger.Logger,
) *PaymentEventConsumer {
	return &PaymentEventConsumer{
		consGr:  consGr,
		sagaSvc: sagaSvc,
		l:       l,
	}
}

func (c *PaymentEventConsumer) Start(ctx context.Context) error {
	topics := []string{kafka.TopicPaymentEvents}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			if err := c.consGr.Consume(ctx, topics, c); err != nil {
				c.l.Errorf(ctx, "delivery.kafka.consumer.PaymentEventConsumer.Start: %v", err)
			}

			if ctx.Err() != nil {
				c.l.Infof(ctx, "delivery.kafka.consumer.PaymentEventConsumer.Start: %v", ctx.Err())
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consGr.Errors() {
			c.l.Errorf(ctx, "delivery.kafka.consumer.PaymentEventConsumer.Start: %v", err)
		}
	}()

	c.l.Infof(ctx, "Payment event consumer is consuming topics: %v", topics)
	return nil
}

func (c *PaymentEventConsumer) Close() error {
	if err := c.consGr.Close(); err != nil {
		return err
	}

	c.wg.Wait()
	return nil
}

func (c *PaymentEventConsumer) Setup(sarama.ConsumerGroupSession) error {
	c.l.Debug(context.Background(), "Payment event consumer session started")
	return nil
}

func (c *PaymentEventConsumer) Cleanup(sarama.ConsumerGroupSession) error {
	c.l.Debug(context.Background(), "Payment event consumer session ended")
	return nil
}

func (c *PaymentEventConsumer) ConsumeClaim(ss sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			if err := c.HandlePaymentEvent(ss.Context(), message); err != nil {
				c.l.Errorf(ss.Context(), "delivery.kafka.consumer.PaymentEventConsumer.ConsumeClaim: topic=%s offset=%d: %v",
					message.Topic, message.Offset, err)
				continue
			}

			ss.MarkMessage(message, "")

		case <-ss.Context().Done():
			return nil
		}
	}
}

func (c *PaymentEventConsumer) HandlePaymentEvent(ctx context.Context, message *sarama.ConsumerMessage) error {
	var e kafka.PaymentResultEvent
	if err := json.Unmarshal(message.Value, &e); err != nil {
		c.l.Errorf(ctx, "delivery.kafka.consumer.HandlePaymentEvent: unmarshal: %v", err)
		return nil
	}

	if err := e.Validate(); err != nil {
		c.l.Errorf(ctx, "delivery.kafka.consumer.HandlePaymentEvent: %v", err)
		return nil
	}

	bookingID, err := uuid.Parse(e.BookingID)
	if err != nil {
		c.l.Errorf(ctx, "delivery.kafka.consumer.HandlePaymentEvent: invalid bookingId %q: %v", e.BookingID, err)
		return nil
	}

	switch e.EventType {
	case kafka.EventPaymentSuccess:
		paymentID, err := uuid.Parse(e.PaymentID)
		if err != nil {
			c.l.Errorf(ctx, "delivery.kafka.consumer.HandlePaymentEvent: invalid paymentId %q: %v", e.PaymentID, err)
			return nil
		}
		if err := c.sagaSvc.HandlePaymentSuccess(ctx, bookingID, paymentID); err != nil {
			return fmt.Errorf("handle payment success: %w", err)
		}
		return nil

	case kafka.EventPaymentFailed:
		if err := c.sagaSvc.HandlePaymentFailure(ctx, bookingID, e.Reason); err != nil {
			return fmt.Errorf("handle payment failure: %w", err)
		}
		return nil

	case kafka.EventPaymentRefunded:
		// Refunds are settled by the payment capability; the booking was
		// already compensated when the refund was requested.
		c.l.Infof(ctx, "payment refunded: booking=%s payment=%s", e.BookingID, e.PaymentID)
		return nil

	default:
		c.l.Warnf(ctx, "unknown payment event type %q", e.EventType)
		return nil
	}
}
