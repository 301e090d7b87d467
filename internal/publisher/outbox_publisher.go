// Package publisher relays committed outbox rows to Kafka.
package publisher

import (
	"context"
	"time"

	"github.com/qopy/kiosk/internal/repository"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	DefaultTopic = "qopy-events"
	batchSize    = 100

	// HeaderEventType carries the outbox event type on every message.
	HeaderEventType = "event_type"
)

type EventStore interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*repository.OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

func NewWriter(brokers []string, topic string) *kafka.Writer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
	}
}

// OutboxPublisher delivers events at least once: a row is marked processed only
// after Kafka accepted it. Messages are keyed by aggregate so one order's events
// stay ordered on a partition.
type OutboxPublisher struct {
	store  EventStore
	writer MessageWriter
	tick   time.Duration
	logger *zap.Logger
}

func NewOutboxPublisher(store EventStore, writer MessageWriter, tick time.Duration, log *zap.Logger) *OutboxPublisher {
	if tick <= 0 {
		tick = time.Second
	}
	return &OutboxPublisher{
		store:  store,
		writer: writer,
		tick:   tick,
		logger: log.Named("outbox"),
	}
}

func (p *OutboxPublisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.PublishPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// PublishPending sends one batch and returns how many events were delivered.
// It stops at the first failure so later events of the same order are not sent
// ahead of an earlier one.
func (p *OutboxPublisher) PublishPending(ctx context.Context) int {
	events, err := p.store.GetUnprocessedEvents(ctx, batchSize)
	if err != nil {
		p.logger.Error("failed to fetch outbox events", zap.Error(err))
		return 0
	}

	published := 0
	for _, event := range events {
		if err := p.writer.WriteMessages(ctx, toMessage(event)); err != nil {
			p.logger.Error("failed to publish event",
				zap.Int64("event_id", event.ID),
				zap.String("event_type", event.EventType),
				zap.Error(err))
			return published
		}

		if err := p.store.MarkEventAsProcessed(ctx, event.ID); err != nil {
			p.logger.Error("failed to mark event as processed",
				zap.Int64("event_id", event.ID),
				zap.Error(err))
			return published
		}
		published++
	}
	return published
}

func toMessage(event *repository.OutboxEvent) kafka.Message {
	return kafka.Message{
		Key:   []byte(event.AggregateID),
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(event.EventType)},
		},
	}
}
