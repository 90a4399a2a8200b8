package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/buiilding/Nova-Voice/internal/config"
	"github.com/buiilding/Nova-Voice/internal/logger"
	"github.com/buiilding/Nova-Voice/internal/metrics"
	"github.com/buiilding/Nova-Voice/internal/session"
	"github.com/buiilding/Nova-Voice/internal/vad"
)

// Engine drives the per-client speech state machine. Every inbound 16 kHz PCM
// chunk is classified by the dual VAD and folded into the client's session:
// buffer growth, pre-speech capture, silence timing, and utterance
// finalization all happen here.
type Engine struct {
	cfg        *config.Config
	detector   *vad.Detector
	store      *session.Store
	dispatcher *Dispatcher
}

// NewEngine creates the speech-session engine.
func NewEngine(cfg *config.Config, detector *vad.Detector, store *session.Store, dispatcher *Dispatcher) *Engine {
	return &Engine{
		cfg:        cfg,
		detector:   detector,
		store:      store,
		dispatcher: dispatcher,
	}
}

// ProcessChunk folds one audio chunk into the client's session, dispatching
// jobs as the state machine dictates. now is the chunk's arrival time; silence
// timing is computed against it, so replaying the same (chunk, now) sequence
// is deterministic.
//
// A VAD or store failure drops the chunk; the next chunk re-drives the state
// machine from persisted state.
func (e *Engine) ProcessChunk(ctx context.Context, clientID string, chunk []byte, now time.Time) error {
	start := time.Now()
	err := e.processChunk(ctx, clientID, chunk, now)
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
	}
	metrics.RecordChunkProcessed(status, time.Since(start).Seconds())
	return err
}

func (e *Engine) processChunk(ctx context.Context, clientID string, chunk []byte, now time.Time) error {
	if len(chunk) == 0 {
		return nil
	}

	s, err := e.store.Load(ctx, clientID)
	if err != nil {
		return err
	}

	hasSpeech, err := e.detector.DetectSpeech(ctx, chunk)
	if err != nil {
		return fmt.Errorf("gateway: vad failed for chunk: %w", err)
	}

	switch s.State {
	case session.StateInactive:
		if !hasSpeech {
			e.appendPreSpeech(s, chunk)
			return e.store.Save(ctx, clientID, s)
		}

		// Speech begins: move the captured pre-speech context into the
		// utterance buffer ahead of this chunk.
		buf := make([]byte, 0, len(s.PreSpeechBuffer)+len(chunk))
		buf = append(buf, s.PreSpeechBuffer...)
		buf = append(buf, chunk...)
		s.AudioBuffer = buf
		s.PreSpeechBuffer = nil
		s.StartSpeech(now)
		logger.Debug("speech started",
			"client_id", clientID, "buffer_seconds", s.BufferSeconds(e.cfg.SampleRate))

	case session.StateActive:
		s.AudioBuffer = append(s.AudioBuffer, chunk...)
		if !hasSpeech {
			// First silent chunk: mark where silence begins so trailing
			// silence is excluded from the new-speech computation.
			s.SilenceBufferStartLen = len(s.AudioBuffer) - len(chunk)
			s.SilenceStartTime = now
			s.State = session.StateSilence
		}

	case session.StateSilence:
		if hasSpeech {
			// Speech resumed: everything before this chunk was silence.
			s.SilenceBufferStartLen = len(s.AudioBuffer)
			s.AudioBuffer = append(s.AudioBuffer, chunk...)
			s.SilenceStartTime = time.Time{}
			s.State = session.StateActive
		} else {
			s.AudioBuffer = append(s.AudioBuffer, chunk...)
			if now.Sub(s.SilenceStartTime) >= e.cfg.SilenceThreshold {
				return e.finalize(ctx, clientID, s, "silence timeout")
			}
		}
	}

	if len(s.AudioBuffer) >= e.cfg.MaxAudioBufferBytes() {
		return e.overflow(ctx, clientID, s)
	}

	if _, err := e.dispatcher.MaybePublish(ctx, clientID, s); err != nil {
		logger.Error("realtime job dispatch failed", "client_id", clientID, "error", err)
	}

	return e.store.Save(ctx, clientID, s)
}

// appendPreSpeech grows the rolling pre-speech FIFO, trimming its front so it
// never exceeds the configured cap.
func (e *Engine) appendPreSpeech(s *session.Session, chunk []byte) {
	s.PreSpeechBuffer = append(s.PreSpeechBuffer, chunk...)
	if limit := e.cfg.PreSpeechBufferBytes(); len(s.PreSpeechBuffer) > limit {
		s.PreSpeechBuffer = s.PreSpeechBuffer[len(s.PreSpeechBuffer)-limit:]
	}
}

// overflow handles the utterance buffer hitting its cap: a forced final job
// when the policy allows it, then a reset either way.
func (e *Engine) overflow(ctx context.Context, clientID string, s *session.Session) error {
	logger.Warn("audio buffer at cap, finalizing utterance",
		"client_id", clientID, "buffer_seconds", s.BufferSeconds(e.cfg.SampleRate))
	if !e.cfg.SendFinalJobOnMaxBuffer {
		s.Reset()
		return e.store.Save(ctx, clientID, s)
	}
	return e.finalize(ctx, clientID, s, "max buffer")
}

// finalize force-publishes the utterance's final job and resets the session.
// The reset happens even when the publish is dropped or fails; holding a dead
// utterance's audio would only delay the next one.
func (e *Engine) finalize(ctx context.Context, clientID string, s *session.Session, reason string) error {
	published, err := e.dispatcher.PublishFinal(ctx, clientID, s)
	if err != nil {
		logger.Error("final job dispatch failed",
			"client_id", clientID, "reason", reason, "error", err)
	} else if published {
		logger.Info("utterance finalized",
			"client_id", clientID, "reason", reason,
			"buffer_seconds", s.BufferSeconds(e.cfg.SampleRate))
	}

	s.Reset()
	return e.store.Save(ctx, clientID, s)
}
