// Package stream wraps the Redis coordination primitives shared by gateway
// instances and workers: append-only job streams consumed through consumer
// groups, and the per-client result pub/sub bus.
package stream

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Stream is an append-only Redis stream used as a durable job queue. Its
// length doubles as the admission-control depth gauge.
type Stream struct {
	client *redis.Client
	name   string
}

// NewStream wraps the named Redis stream.
func NewStream(client *redis.Client, name string) *Stream {
	return &Stream{client: client, name: name}
}

// Name returns the stream key.
func (s *Stream) Name() string {
	return s.name
}

// Len returns the current stream depth.
func (s *Stream) Len(ctx context.Context) (int64, error) {
	n, err := s.client.XLen(ctx, s.name).Result()
	if err != nil {
		return 0, fmt.Errorf("stream: xlen %s failed: %w", s.name, err)
	}
	return n, nil
}

// Add appends one row to the stream and returns its entry ID.
func (s *Stream) Add(ctx context.Context, values map[string]interface{}) (string, error) {
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.name,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("stream: xadd %s failed: %w", s.name, err)
	}
	return id, nil
}
