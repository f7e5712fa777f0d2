package funding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
)

// Subscription is the receiving side of a Pub/Sub subscription.
type Subscription interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// Applier applies a decoded event.
type Applier interface {
	Apply(ctx context.Context, ev Event) (Result, error)
}

// Consumer feeds Pub/Sub messages into an Applier.
type Consumer struct {
	sub    Subscription
	svc    Applier
	logger *zap.Logger
}

// NewConsumer wires a subscription to the funding service.
func NewConsumer(sub Subscription, svc Applier, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{sub: sub, svc: svc, logger: logger}
}

// Run receives until ctx is cancelled. Malformed and duplicate messages are
// acked; transient failures are nacked for redelivery.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("funding consumer started")
	err := c.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.handle(ctx, msg.ID, msg.Data) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("receive funding events: %w", err)
	}
	c.logger.Info("funding consumer stopped")
	return nil
}

// handle reports whether the message should be acked.
func (c *Consumer) handle(ctx context.Context, msgID string, data []byte) bool {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		c.logger.Warn("dropping undecodable funding message", zap.String("message_id", msgID), zap.Error(err))
		return true
	}
	if ev.ID == "" {
		ev.ID = msgID
	}
	res, err := c.svc.Apply(ctx, ev)
	switch {
	case errors.Is(err, ErrInvalidEvent):
		c.logger.Warn("dropping invalid funding event", zap.String("event_id", ev.ID), zap.Error(err))
		return true
	case err != nil:
		c.logger.Error("funding event failed", zap.String("event_id", ev.ID), zap.Error(err))
		return false
	case res.Duplicate:
		c.logger.Debug("duplicate funding event", zap.String("event_id", ev.ID))
	}
	return true
}
