package logger

import "context"

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

// Context keys for common logging fields. Values stored under these keys are
// automatically extracted by ContextHandler and added to log records.
const (
	// ContextKeyClientID identifies the connected client.
	ContextKeyClientID contextKey = "client_id"

	// ContextKeyJobID identifies an individual dispatched audio job.
	ContextKeyJobID contextKey = "job_id"

	// ContextKeySegmentID identifies the audio segment within an utterance.
	ContextKeySegmentID contextKey = "segment_id"

	// ContextKeyInstance identifies the gateway instance.
	ContextKeyInstance contextKey = "instance"

	// ContextKeyWorkerID identifies the worker processing a job.
	ContextKeyWorkerID contextKey = "worker_id"
)

// allContextKeys lists the context keys extracted for logging.
var allContextKeys = []contextKey{
	ContextKeyClientID,
	ContextKeyJobID,
	ContextKeySegmentID,
	ContextKeyInstance,
	ContextKeyWorkerID,
}

// WithClientID returns a new context with the client ID set.
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, ContextKeyClientID, clientID)
}

// WithJobID returns a new context with the job ID set.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, ContextKeyJobID, jobID)
}

// WithSegmentID returns a new context with the segment ID set.
func WithSegmentID(ctx context.Context, segmentID string) context.Context {
	return context.WithValue(ctx, ContextKeySegmentID, segmentID)
}

// WithInstance returns a new context with the gateway instance ID set.
func WithInstance(ctx context.Context, instance string) context.Context {
	return context.WithValue(ctx, ContextKeyInstance, instance)
}

// WithWorkerID returns a new context with the worker ID set.
func WithWorkerID(ctx context.Context, workerID string) context.Context {
	return context.WithValue(ctx, ContextKeyWorkerID, workerID)
}
