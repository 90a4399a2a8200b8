package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/buiilding/Nova-Voice/internal/logger"
)

// Handler processes one stream entry. A nil return acknowledges and deletes
// the entry; an error leaves it pending for redelivery.
type Handler func(ctx context.Context, id string, values map[string]interface{}) error

// Consumer reads a stream through a consumer group, dispatching each entry to
// a handler. Entries are claimed one at a time with a blocking read so work
// spreads across the group and a crashed consumer leaves at most one entry
// pending.
type Consumer struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string

	blockTimeout time.Duration
	retryDelay   time.Duration
}

// NewConsumer creates a consumer-group reader for the named stream. The
// consumer name must be unique within the group.
func NewConsumer(client *redis.Client, stream, group, consumer string) *Consumer {
	return &Consumer{
		client:       client,
		stream:       stream,
		group:        group,
		consumer:     consumer,
		blockTimeout: time.Second,
		retryDelay:   5 * time.Second,
	}
}

// EnsureGroup creates the consumer group, creating the stream if needed. An
// already-existing group is not an error.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("stream: create group %s on %s: %w", c.group, c.stream, err)
	}
	return nil
}

// Run reads entries until the context is cancelled. Handler failures are
// logged and leave the entry pending; Redis failures are logged and retried
// after a delay.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}

	logger.Info("stream consumer started",
		"stream", c.stream, "group", c.group, "consumer", c.consumer)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  []string{c.stream, ">"},
			Count:    1,
			Block:    c.blockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("stream read failed, retrying",
				"stream", c.stream, "group", c.group, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
			continue
		}

		for _, s := range res {
			for _, msg := range s.Messages {
				c.process(ctx, handler, msg)
			}
		}
	}
}

// process runs the handler for one entry, acknowledging and deleting it on
// success. A failed entry stays in the pending list.
func (c *Consumer) process(ctx context.Context, handler Handler, msg redis.XMessage) {
	if err := handler(ctx, msg.ID, msg.Values); err != nil {
		logger.Error("stream entry processing failed",
			"stream", c.stream, "entry_id", msg.ID, "error", err)
		return
	}

	pipe := c.client.Pipeline()
	pipe.XAck(ctx, c.stream, c.group, msg.ID)
	pipe.XDel(ctx, c.stream, msg.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn("stream entry ack failed",
			"stream", c.stream, "entry_id", msg.ID, "error", err)
	}
}
