package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buiilding/Nova-Voice/internal/config"
	"github.com/buiilding/Nova-Voice/internal/session"
)

// activeTestSession builds an in-utterance session with the given buffer
// geometry.
func activeTestSession(bufferLen, publishedLen, silenceMarker int) *session.Session {
	s := session.New("en", "vi")
	s.State = session.StateActive
	s.AudioBuffer = make([]byte, bufferLen)
	s.LastPublishedLen = publishedLen
	s.SilenceBufferStartLen = silenceMarker
	return s
}

func TestDispatcher_MinimumNewSpeechBoundary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// One byte short of 1 s of new speech.
	s := activeTestSession(31999, 0, 0)
	published, err := env.dispatcher.MaybePublish(ctx, testClientID, s)
	require.NoError(t, err)
	assert.False(t, published)
	assert.False(t, env.flows.InFlight(testClientID))

	s = activeTestSession(32000, 0, 0)
	published, err = env.dispatcher.MaybePublish(ctx, testClientID, s)
	require.NoError(t, err)
	assert.True(t, published)
	assert.True(t, env.flows.InFlight(testClientID))
	assert.Equal(t, 32000, s.LastPublishedLen)
}

func TestDispatcher_InFlightBlocksPublish(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	s := activeTestSession(64000, 0, 0)
	published, err := env.dispatcher.MaybePublish(ctx, testClientID, s)
	require.NoError(t, err)
	require.True(t, published)

	// More audio arrives while the job is outstanding.
	s.AudioBuffer = make([]byte, 128000)
	published, err = env.dispatcher.MaybePublish(ctx, testClientID, s)
	require.NoError(t, err)
	assert.False(t, published)
	assert.Len(t, env.publishedJobs(t), 1)
}

func TestDispatcher_SilenceMarkerGatesNewSpeech(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// 2 s of unpublished audio, but only 0.5 s arrived after the silence
	// marker: not enough new speech.
	s := activeTestSession(96000, 32000, 80000)
	published, err := env.dispatcher.MaybePublish(ctx, testClientID, s)
	require.NoError(t, err)
	assert.False(t, published)

	// Without the marker the same window clears the threshold.
	s = activeTestSession(96000, 32000, 0)
	published, err = env.dispatcher.MaybePublish(ctx, testClientID, s)
	require.NoError(t, err)
	assert.True(t, published)
}

func TestDispatcher_OpenSilencePeriodBlocksPublish(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	s := activeTestSession(96000, 0, 32000)
	s.State = session.StateSilence
	s.SilenceStartTime = time.Now()

	published, err := env.dispatcher.MaybePublish(ctx, testClientID, s)
	require.NoError(t, err)
	assert.False(t, published)
}

func TestDispatcher_BackpressureDropsPublish(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.MaxQueueDepth = 3 })
	ctx := context.Background()

	// Seed the stream past its depth limit.
	for i := 0; i < 4; i++ {
		_, err := env.jobs.Add(ctx, map[string]interface{}{"job_id": "seed"})
		require.NoError(t, err)
	}

	s := activeTestSession(64000, 0, 0)
	published, err := env.dispatcher.MaybePublish(ctx, testClientID, s)
	require.NoError(t, err)
	assert.False(t, published)
	assert.False(t, env.flows.InFlight(testClientID))
	assert.Zero(t, s.LastPublishedLen)

	n, err := env.jobs.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestDispatcher_PublishFinalOverridesGates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.flows.setInFlight(testClientID, true)

	// Open silence period and sub-threshold new speech: a realtime publish
	// would be blocked three ways over.
	s := activeTestSession(48000, 32000, 40000)
	s.SilenceStartTime = time.Now()

	published, err := env.dispatcher.PublishFinal(ctx, testClientID, s)
	require.NoError(t, err)
	assert.True(t, published)
	// Final jobs do not hold the in-flight slot.
	assert.False(t, env.flows.InFlight(testClientID))

	jobs := env.publishedJobs(t)
	require.Len(t, jobs, 1)
	assert.True(t, jobs[0].IsFinal)
	assert.Len(t, jobs[0].Audio, 48000)
	assert.Equal(t, "test-gateway", jobs[0].GatewayInstance)
}

func TestDispatcher_PublishFinalNeedsNewData(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.flows.setInFlight(testClientID, true)

	s := activeTestSession(32000, 32000, 0)
	published, err := env.dispatcher.PublishFinal(ctx, testClientID, s)
	require.NoError(t, err)
	assert.False(t, published)
	// The in-flight flag is still released so the pending result can land.
	assert.False(t, env.flows.InFlight(testClientID))
	assert.Empty(t, env.publishedJobs(t))
}

func TestDispatcher_PublishSendsFullBuffer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	s := activeTestSession(64000, 32000, 0)
	published, err := env.dispatcher.MaybePublish(ctx, testClientID, s)
	require.NoError(t, err)
	require.True(t, published)

	jobs := env.publishedJobs(t)
	require.Len(t, jobs, 1)
	// Workers get the whole utterance so far, not just the delta.
	assert.Len(t, jobs[0].Audio, 64000)
	assert.Equal(t, 64000, s.LastPublishedLen)
	assert.Zero(t, s.SilenceBufferStartLen)
	assert.Equal(t, "en", jobs[0].SourceLang)
	assert.Equal(t, "vi", jobs[0].TargetLang)
	assert.True(t, jobs[0].TranslationEnabled)
}

func TestDispatcher_SegmentIDsStrictlyIncreasing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Back-to-back publishes routinely land in the same wall-clock
	// millisecond; their segment IDs must still increase or the second
	// result is dropped as stale.
	s := activeTestSession(64000, 0, 0)
	published, err := env.dispatcher.MaybePublish(ctx, testClientID, s)
	require.NoError(t, err)
	require.True(t, published)

	s.AudioBuffer = make([]byte, 128000)
	published, err = env.dispatcher.PublishFinal(ctx, testClientID, s)
	require.NoError(t, err)
	require.True(t, published)

	jobs := env.publishedJobs(t)
	require.Len(t, jobs, 2)
	assert.Greater(t, jobs[1].SegmentID, jobs[0].SegmentID)
}

func TestDispatcher_UnknownClientNoPublish(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	s := activeTestSession(64000, 0, 0)
	published, err := env.dispatcher.MaybePublish(ctx, "ghost", s)
	require.NoError(t, err)
	assert.False(t, published)
}
