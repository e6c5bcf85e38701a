package producer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"

	kafka "github.com/eventhub/ticketing-core/internal/delivery/kafka"
	"github.com/eventhub/ticketing-core/pkg/logger"
)

// Producer publishes the control plane's outbound commands and events.
// Seat traffic is keyed by event id and payment/booking traffic by booking
// id, which keeps delivery ordered where the consumers rely on it.
type Producer interface {
	PublishSeatCommand(ctx context.Context, cmd kafka.SeatCommand) error
	PublishPaymentCommand(ctx context.Context, cmd kafka.PaymentCommand) error
	PublishSeatEvent(ctx context.Context, event kafka.SeatEvent) error
	PublishBookingEvent(ctx context.Context, event kafka.BookingEvent) error
	PublishNotification(ctx context.Context, event kafka.NotificationEvent) error
	Close() error
}

type implProducer struct {
	l    logger.Logger
	prod sarama.SyncProducer
}

func NewProducer(prod sarama.SyncProducer, l logger.Logger) Producer {
	return &implProducer{
		l:    l,
		prod: prod,
	}
}

func (p *implProducer) PublishSeatCommand(ctx context.Context, cmd kafka.SeatCommand) error {
	cmd.Timestamp = time.Now()
	return p.publish(ctx, kafka.TopicSeatCommands, cmd.EventID, cmd)
}

func (p *implProducer) PublishPaymentCommand(ctx context.Context, cmd kafka.PaymentCommand) error {
	cmd.Timestamp = time.Now()
	return p.publish(ctx, kafka.TopicPaymentCommands, cmd.BookingID, cmd)
}

func (p *implProducer) PublishSeatEvent(ctx context.Context, event kafka.SeatEvent) error {
	event.Timestamp = time.Now()
	return p.publish(ctx, kafka.TopicSeatEvents, event.EventID, event)
}

func (p *implProducer) PublishBookingEvent(ctx context.Context, event kafka.BookingEvent) error {
	event.Timestamp = time.Now()
	return p.publish(ctx, kafka.TopicBookingEvents, event.BookingID, event)
}

func (p *implProducer) PublishNotification(ctx context.Context, event kafka.NotificationEvent) error {
	event.Timestamp = time.Now()
	return p.publish(ctx, kafka.TopicNotificationEvents, event.UserID, event)
}

func (p *implProducer) publish(ctx context.Context, topic, key string, payload any) error {
	val, err := json.Marshal(payload)
	if err != nil {
		p.l.Errorf(ctx, "delivery.kafka.producer.publish: %v", err)
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key), // Partition by key for ordering
		Value: sarama.ByteEncoder(val),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("timestamp"),
				Value: []byte(time.Now().Format(time.RFC3339)),
			},
		},
	}

	if _, _, err := p.prod.SendMessage(msg); err != nil {
		p.l.Errorf(ctx, "delivery.kafka.producer.publish: topic=%s key=%s: %v", topic, key, err)
		return err
	}

	return nil
}

func (p *implProducer) Close() error {
	return p.prod.Close()
}
