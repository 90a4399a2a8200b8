package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/buiilding/Nova-Voice/internal/config"
	"github.com/buiilding/Nova-Voice/internal/logger"
	"github.com/buiilding/Nova-Voice/internal/protocol"
)

// closeTimeout bounds how long Subscription.Close waits for the receive
// goroutine to drain after the pub/sub connection is torn down.
const closeTimeout = 2 * time.Second

// ResultBus routes worker results to gateway instances over per-client Redis
// pub/sub channels. Each connected client has exactly one subscriber: the
// gateway instance currently holding its WebSocket.
type ResultBus struct {
	client *redis.Client
}

// NewResultBus creates a result bus on the given Redis client.
func NewResultBus(client *redis.Client) *ResultBus {
	return &ResultBus{client: client}
}

// channel returns the pub/sub channel name for a client.
func (b *ResultBus) channel(clientID string) string {
	return config.ResultsChannelPrefix + clientID
}

// Publish sends one result envelope to the client's channel. Publishing to a
// channel with no subscriber is not an error; the client has disconnected and
// the result is dropped.
func (b *ResultBus) Publish(ctx context.Context, result *protocol.Result) error {
	data, err := result.Encode()
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel(result.ClientID), data).Err(); err != nil {
		return fmt.Errorf("stream: publish result for %s: %w", result.ClientID, err)
	}
	return nil
}

// Subscription is a live subscription to one client's result channel.
type Subscription struct {
	pubsub *redis.PubSub
	done   chan struct{}
}

// Subscribe listens on the client's result channel, invoking handler for each
// decoded result. Malformed envelopes are logged and skipped. The handler is
// called from a single goroutine, so it sees results in publication order.
func (b *ResultBus) Subscribe(ctx context.Context, clientID string, handler func(*protocol.Result)) (*Subscription, error) {
	pubsub := b.client.Subscribe(ctx, b.channel(clientID))

	// Force the SUBSCRIBE round-trip so a broken connection fails here, not
	// silently in the receive loop.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("stream: subscribe results for %s: %w", clientID, err)
	}

	sub := &Subscription{
		pubsub: pubsub,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(sub.done)
		for msg := range pubsub.Channel() {
			result, err := protocol.DecodeResult([]byte(msg.Payload))
			if err != nil {
				logger.Warn("dropping malformed result envelope",
					"client_id", clientID, "error", err)
				continue
			}
			if result.ClientID != "" && result.ClientID != clientID {
				logger.Warn("dropping misrouted result envelope",
					"client_id", clientID, "envelope_client_id", result.ClientID)
				continue
			}
			handler(result)
		}
	}()

	return sub, nil
}

// Close unsubscribes and waits briefly for the receive goroutine to exit.
func (s *Subscription) Close() error {
	err := s.pubsub.Close()
	select {
	case <-s.done:
	case <-time.After(closeTimeout):
		logger.Warn("result subscription close timed out")
	}
	return err
}
