package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buiilding/Nova-Voice/internal/protocol"
)

func setupRedis(t *testing.T) *redis.Client {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestStream_AddAndLen(t *testing.T) {
	client := setupRedis(t)
	s := NewStream(client, "audio_jobs")
	ctx := context.Background()

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	id, err := s.Add(ctx, map[string]interface{}{"job_id": "j1"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	n, err = s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestConsumer_EnsureGroupIdempotent(t *testing.T) {
	client := setupRedis(t)
	c := NewConsumer(client, "audio_jobs", "stt_workers", "w1")
	ctx := context.Background()

	require.NoError(t, c.EnsureGroup(ctx))
	require.NoError(t, c.EnsureGroup(ctx))
}

func TestConsumer_ProcessesAndAcks(t *testing.T) {
	client := setupRedis(t)
	s := NewStream(client, "audio_jobs")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := s.Add(ctx, map[string]interface{}{"job_id": "j1", "client_id": "c1"})
	require.NoError(t, err)

	got := make(chan map[string]interface{}, 1)
	c := NewConsumer(client, "audio_jobs", "stt_workers", "w1")
	c.blockTimeout = 50 * time.Millisecond

	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, func(ctx context.Context, id string, values map[string]interface{}) error {
			got <- values
			return nil
		})
	}()

	select {
	case values := <-got:
		assert.Equal(t, "j1", values["job_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}

	// Acked entries are also deleted from the stream.
	assert.Eventually(t, func() bool {
		n, err := s.Len(context.Background())
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestConsumer_HandlerErrorLeavesEntryPending(t *testing.T) {
	client := setupRedis(t)
	s := NewStream(client, "audio_jobs")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := s.Add(ctx, map[string]interface{}{"job_id": "j1"})
	require.NoError(t, err)

	handled := make(chan struct{}, 1)
	c := NewConsumer(client, "audio_jobs", "stt_workers", "w1")
	c.blockTimeout = 50 * time.Millisecond

	go func() {
		_ = c.Run(ctx, func(ctx context.Context, id string, values map[string]interface{}) error {
			select {
			case handled <- struct{}{}:
			default:
			}
			return errors.New("transcription backend unavailable")
		})
	}()

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}
	cancel()

	// The entry was neither acked nor deleted.
	n, err := s.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	pending, err := client.XPending(context.Background(), "audio_jobs", "stt_workers").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending.Count)
}

func TestResultBus_PublishSubscribe(t *testing.T) {
	client := setupRedis(t)
	bus := NewResultBus(client)
	ctx := context.Background()

	got := make(chan *protocol.Result, 1)
	sub, err := bus.Subscribe(ctx, "c1", func(r *protocol.Result) { got <- r })
	require.NoError(t, err)
	defer sub.Close()

	want := &protocol.Result{
		Status:    protocol.StatusOK,
		JobID:     "j1",
		ClientID:  "c1",
		SegmentID: "1756200000000",
		Text:      "hello world",
	}
	require.NoError(t, bus.Publish(ctx, want))

	select {
	case r := <-got:
		assert.Equal(t, "j1", r.JobID)
		assert.Equal(t, "hello world", r.Text)
		assert.Equal(t, int64(1756200000000), r.SegmentNumber())
	case <-time.After(2 * time.Second):
		t.Fatal("result was not delivered")
	}
}

func TestResultBus_MalformedEnvelopeSkipped(t *testing.T) {
	client := setupRedis(t)
	bus := NewResultBus(client)
	ctx := context.Background()

	got := make(chan *protocol.Result, 2)
	sub, err := bus.Subscribe(ctx, "c1", func(r *protocol.Result) { got <- r })
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, client.Publish(ctx, "results:c1", "not json").Err())
	require.NoError(t, bus.Publish(ctx, &protocol.Result{Status: protocol.StatusOK, ClientID: "c1", JobID: "j2"}))

	select {
	case r := <-got:
		assert.Equal(t, "j2", r.JobID)
	case <-time.After(2 * time.Second):
		t.Fatal("valid result was not delivered")
	}
	assert.Empty(t, got)
}

func TestSubscription_CloseStopsDelivery(t *testing.T) {
	client := setupRedis(t)
	bus := NewResultBus(client)
	ctx := context.Background()

	got := make(chan *protocol.Result, 1)
	sub, err := bus.Subscribe(ctx, "c1", func(r *protocol.Result) { got <- r })
	require.NoError(t, err)

	require.NoError(t, sub.Close())

	// Publishing after close reaches nobody.
	require.NoError(t, bus.Publish(ctx, &protocol.Result{Status: protocol.StatusOK, ClientID: "c1"}))
	select {
	case <-got:
		t.Fatal("result delivered after close")
	case <-time.After(100 * time.Millisecond):
	}
}
