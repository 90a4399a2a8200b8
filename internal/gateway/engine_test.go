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

var t0 = time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)

func TestEngine_PreSpeechAccumulatesAndCaps(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// 3 s of silence against a 2 s pre-speech cap.
	for i := 0; i < 6; i++ {
		now := t0.Add(time.Duration(i) * 500 * time.Millisecond)
		require.NoError(t, env.engine.ProcessChunk(ctx, testClientID, silentChunk(0.5), now))
	}

	s := env.loadSession(t)
	assert.Equal(t, session.StateInactive, s.State)
	assert.Len(t, s.PreSpeechBuffer, env.cfg.PreSpeechBufferBytes())
	assert.Empty(t, s.AudioBuffer)
	assert.Empty(t, env.publishedJobs(t))
}

func TestEngine_ActivationTransfersPreSpeech(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// 1 s of pre-speech context, then speech.
	require.NoError(t, env.engine.ProcessChunk(ctx, testClientID, silentChunk(0.5), t0))
	require.NoError(t, env.engine.ProcessChunk(ctx, testClientID, silentChunk(0.5), t0.Add(500*time.Millisecond)))
	require.NoError(t, env.engine.ProcessChunk(ctx, testClientID, loudChunk(0.5), t0.Add(time.Second)))

	s := env.loadSession(t)
	assert.Equal(t, session.StateActive, s.State)
	assert.Empty(t, s.PreSpeechBuffer)
	// 1 s of pre-speech plus the 0.5 s speech chunk.
	assert.Len(t, s.AudioBuffer, 48000)

	// 1.5 s of new speech cleared the minimum, so a job went out immediately.
	jobs := env.publishedJobs(t)
	require.Len(t, jobs, 1)
	assert.False(t, jobs[0].IsFinal)
	assert.Len(t, jobs[0].Audio, 48000)
	assert.True(t, env.flows.InFlight(testClientID))
	assert.Equal(t, 48000, s.LastPublishedLen)
}

func TestEngine_SilenceTimeoutPublishesFinal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.engine.ProcessChunk(ctx, testClientID, loudChunk(1.0), t0))
	require.NoError(t, env.engine.ProcessChunk(ctx, testClientID, silentChunk(0.5), t0.Add(time.Second)))
	// Silence reaches the 1 s threshold exactly.
	require.NoError(t, env.engine.ProcessChunk(ctx, testClientID, silentChunk(0.5), t0.Add(2*time.Second)))

	jobs := env.publishedJobs(t)
	require.Len(t, jobs, 2)
	assert.False(t, jobs[0].IsFinal)
	assert.True(t, jobs[1].IsFinal)
	// The final job carries the whole utterance, trailing silence included.
	assert.Len(t, jobs[1].Audio, 64000)

	s := env.loadSession(t)
	assert.Equal(t, session.StateInactive, s.State)
	assert.Empty(t, s.AudioBuffer)
	assert.Zero(t, s.LastPublishedLen)
	assert.False(t, env.flows.InFlight(testClientID))
}

func TestEngine_SilenceBelowThresholdKeepsBuffering(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.engine.ProcessChunk(ctx, testClientID, loudChunk(1.0), t0))
	require.NoError(t, env.engine.ProcessChunk(ctx, testClientID, silentChunk(0.5), t0.Add(time.Second)))
	// 0.9 s into the silence window: not yet final.
	require.NoError(t, env.engine.ProcessChunk(ctx, testClientID, silentChunk(0.25), t0.Add(1900*time.Millisecond)))

	s := env.loadSession(t)
	assert.Equal(t, session.StateSilence, s.State)
	assert.Len(t, s.AudioBuffer, 56000)

	for _, job := range env.publishedJobs(t) {
		assert.False(t, job.IsFinal)
	}
}

func TestEngine_SilenceResumeMovesMarker(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.engine.ProcessChunk(ctx, testClientID, loudChunk(0.5), t0))
	require.NoError(t, env.engine.ProcessChunk(ctx, testClientID, silentChunk(0.5), t0.Add(500*time.Millisecond)))

	s := env.loadSession(t)
	assert.Equal(t, session.StateSilence, s.State)
	assert.Equal(t, 16000, s.SilenceBufferStartLen)
	assert.Equal(t, t0.Add(500*time.Millisecond), s.SilenceStartTime)

	// Speech resumes before the timeout; the marker moves past the silence.
	require.NoError(t, env.engine.ProcessChunk(ctx, testClientID, loudChunk(0.5), t0.Add(900*time.Millisecond)))

	s = env.loadSession(t)
	assert.Equal(t, session.StateActive, s.State)
	assert.Equal(t, 32000, s.SilenceBufferStartLen)
	assert.True(t, s.SilenceStartTime.IsZero())
	assert.Len(t, s.AudioBuffer, 48000)
}

func TestEngine_MaxBufferOverflowForcesFinal(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.MaxAudioBufferSeconds = 2.0
		// Suppress realtime dispatch so only the overflow job goes out.
		c.MinimumNewAudioSeconds = 100
	})
	ctx := context.Background()

	require.NoError(t, env.engine.ProcessChunk(ctx, testClientID, loudChunk(1.0), t0))
	// The buffer reaches the 2 s cap exactly.
	require.NoError(t, env.engine.ProcessChunk(ctx, testClientID, loudChunk(1.0), t0.Add(time.Second)))

	jobs := env.publishedJobs(t)
	require.Len(t, jobs, 1)
	assert.True(t, jobs[0].IsFinal)
	assert.Len(t, jobs[0].Audio, 64000)

	s := env.loadSession(t)
	assert.Equal(t, session.StateInactive, s.State)
	assert.Empty(t, s.AudioBuffer)

	// The next chunk starts a fresh pre-speech cycle.
	require.NoError(t, env.engine.ProcessChunk(ctx, testClientID, silentChunk(0.5), t0.Add(2*time.Second)))
	s = env.loadSession(t)
	assert.Equal(t, session.StateInactive, s.State)
	assert.Len(t, s.PreSpeechBuffer, 16000)
}

func TestEngine_MaxBufferOverflowWithoutFinalPolicy(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.MaxAudioBufferSeconds = 2.0
		c.MinimumNewAudioSeconds = 100
		c.SendFinalJobOnMaxBuffer = false
	})
	ctx := context.Background()

	require.NoError(t, env.engine.ProcessChunk(ctx, testClientID, loudChunk(1.0), t0))
	require.NoError(t, env.engine.ProcessChunk(ctx, testClientID, loudChunk(1.0), t0.Add(time.Second)))

	assert.Empty(t, env.publishedJobs(t))
	s := env.loadSession(t)
	assert.Equal(t, session.StateInactive, s.State)
	assert.Empty(t, s.AudioBuffer)
}

func TestEngine_MarkerNeverExceedsBuffer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	times := []float64{0, 0.5, 1, 1.5, 2, 2.5, 3, 3.5}
	chunks := [][]byte{
		silentChunk(0.5), loudChunk(0.5), loudChunk(0.5), silentChunk(0.5),
		loudChunk(0.5), silentChunk(0.5), silentChunk(0.5), silentChunk(0.5),
	}

	for i, chunk := range chunks {
		now := t0.Add(time.Duration(times[i] * float64(time.Second)))
		require.NoError(t, env.engine.ProcessChunk(ctx, testClientID, chunk, now))

		s := env.loadSession(t)
		assert.LessOrEqual(t, s.LastPublishedLen, len(s.AudioBuffer))
		assert.LessOrEqual(t, s.SilenceBufferStartLen, len(s.AudioBuffer))
	}
}
