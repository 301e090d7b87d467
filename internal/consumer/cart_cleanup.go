// Package consumer reacts to pipeline events read from Kafka.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/qopy/kiosk/internal/domain"
	"github.com/qopy/kiosk/internal/publisher"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const CartCleanupGroup = "qopy-cart-cleanup"

type CartClearer interface {
	ClearCart(ctx context.Context, guestID string) error
}

type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	if topic == "" {
		topic = publisher.DefaultTopic
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6,
	})
}

// CartCleanup empties a guest's cart once their order is paid, so the next
// visitor at the kiosk does not see it.
type CartCleanup struct {
	reader  MessageReader
	carts   CartClearer
	logger  *zap.Logger
	backoff time.Duration
}

func NewCartCleanup(reader MessageReader, carts CartClearer, log *zap.Logger) *CartCleanup {
	return &CartCleanup{
		reader:  reader,
		carts:   carts,
		logger:  log.Named("cart-cleanup"),
		backoff: time.Second,
	}
}

func (c *CartCleanup) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("error reading message", zap.Error(err))
			c.wait(ctx)
			continue
		}

		if err := c.Handle(ctx, msg); err != nil {
			c.logger.Error("failed to handle message",
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("failed to commit message", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

func (c *CartCleanup) Close() {
	if err := c.reader.Close(); err != nil {
		c.logger.Error("error closing reader", zap.Error(err))
	}
}

// Handle clears the cart for order.paid events and ignores everything else.
func (c *CartCleanup) Handle(ctx context.Context, msg kafka.Message) error {
	if eventType(msg) != domain.EventOrderPaid {
		return nil
	}

	var event domain.OrderPaidEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return err
	}
	if event.GuestID == "" {
		return errors.New("order.paid event without guest_id")
	}

	if err := c.carts.ClearCart(ctx, event.GuestID); err != nil {
		return err
	}
	c.logger.Info("cart cleared after payment",
		zap.String("guest_id", event.GuestID),
		zap.String("order_id", event.OrderID.String()))
	return nil
}

func eventType(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if h.Key == publisher.HeaderEventType {
			return string(h.Value)
		}
	}
	return ""
}

func (c *CartCleanup) wait(ctx context.Context) {
	timer := time.NewTimer(c.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
