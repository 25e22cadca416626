package kafkaconsumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/postgis-tile-cache/internal/invalidation"
)

type messageProcessor func(context.Context, *sarama.ConsumerMessage) error

type groupHandler struct {
	process messageProcessor
	logger  *slog.Logger
}

func (h *groupHandler) Setup(s sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(s sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim processes one partition in order and marks each message only
// after it was handled. Poison messages are marked and skipped.
func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("claim context done: %w", ctx.Err())
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.process(ctx, msg); err != nil {
				if !errors.Is(err, invalidation.ErrInvalidEvent) {
					return fmt.Errorf("process failed (topic=%s, part=%d, off=%d): %w",
						msg.Topic, msg.Partition, msg.Offset, err)
				}
				h.logger.WarnContext(ctx, "skipping invalid event",
					"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
			}
			sess.MarkMessage(msg, "")
		}
	}
}
