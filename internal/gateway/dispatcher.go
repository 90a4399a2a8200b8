package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/buiilding/Nova-Voice/internal/config"
	"github.com/buiilding/Nova-Voice/internal/logger"
	"github.com/buiilding/Nova-Voice/internal/metrics"
	"github.com/buiilding/Nova-Voice/internal/protocol"
	"github.com/buiilding/Nova-Voice/internal/session"
	"github.com/buiilding/Nova-Voice/internal/stream"
)

// Job kind labels for metrics.
const (
	jobKindRealtime = "realtime"
	jobKindFinal    = "final"
)

// Dispatcher decides when a client's buffered audio becomes a job on the
// audio-jobs stream and performs the publish.
type Dispatcher struct {
	cfg      *config.Config
	jobs     *stream.Stream
	flows    *Registry
	instance string
}

// NewDispatcher creates a dispatcher publishing to the given job stream.
// instance identifies this gateway in job envelopes.
func NewDispatcher(cfg *config.Config, jobs *stream.Stream, flows *Registry, instance string) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		jobs:     jobs,
		flows:    flows,
		instance: instance,
	}
}

// MaybePublish publishes a non-final job if the client is eligible: no job in
// flight, new buffered data, enough new speech, and no open silence period.
// It returns whether a job was published. The session's dispatch markers are
// advanced on success.
func (d *Dispatcher) MaybePublish(ctx context.Context, clientID string, s *session.Session) (bool, error) {
	fs := d.flows.flow(clientID)
	if fs == nil {
		return false, nil
	}

	fs.dispatchMu.Lock()
	defer fs.dispatchMu.Unlock()

	if d.flows.InFlight(clientID) {
		return false, nil
	}
	if len(s.AudioBuffer) <= s.LastPublishedLen {
		return false, nil
	}
	if !s.SilenceStartTime.IsZero() {
		// Inside an open silence period; wait for speech to resume or the
		// silence timeout to force a final job.
		return false, nil
	}
	if d.newSpeechSeconds(s) < d.cfg.MinimumNewAudioSeconds {
		return false, nil
	}

	return d.publish(ctx, clientID, s, false)
}

// PublishFinal force-publishes a final job for the utterance, clearing the
// in-flight flag first so the terminal result is not blocked behind an
// earlier job. The only remaining requirement is unpublished data in the
// buffer.
func (d *Dispatcher) PublishFinal(ctx context.Context, clientID string, s *session.Session) (bool, error) {
	fs := d.flows.flow(clientID)
	if fs == nil {
		return false, nil
	}

	fs.dispatchMu.Lock()
	defer fs.dispatchMu.Unlock()

	d.flows.setInFlight(clientID, false)

	if len(s.AudioBuffer) <= s.LastPublishedLen {
		return false, nil
	}

	return d.publish(ctx, clientID, s, true)
}

// newSpeechSeconds computes how much new speech the buffer holds. Audio
// accumulated before an open-then-closed silence marker is trailing silence,
// not speech, and is excluded.
func (d *Dispatcher) newSpeechSeconds(s *session.Session) float64 {
	start := s.LastPublishedLen
	if s.SilenceBufferStartLen > start {
		start = s.SilenceBufferStartLen
	}
	return d.cfg.BytesToSeconds(len(s.AudioBuffer) - start)
}

// publish performs the actual stream append, guarded by the queue-depth
// admission valve. Callers hold the client's dispatch lock.
func (d *Dispatcher) publish(ctx context.Context, clientID string, s *session.Session, isFinal bool) (bool, error) {
	depth, err := d.jobs.Len(ctx)
	if err != nil {
		return false, fmt.Errorf("gateway: check job stream depth: %w", err)
	}
	metrics.SetJobStreamDepth(depth)
	if depth > int64(d.cfg.MaxQueueDepth) {
		logger.Warn("job stream over depth limit, dropping publish",
			"client_id", clientID, "depth", depth, "max_depth", d.cfg.MaxQueueDepth)
		metrics.RecordJobDropped()
		return false, nil
	}

	now := time.Now()
	job := &protocol.Job{
		JobID:              fmt.Sprintf("%s_%s", clientID, uuid.NewString()[:8]),
		ClientID:           clientID,
		SegmentID:          d.flows.nextSegmentID(clientID, now),
		Audio:              append([]byte(nil), s.AudioBuffer...),
		SampleRate:         d.cfg.SampleRate,
		SourceLang:         s.SourceLang,
		TargetLang:         s.TargetLang,
		TranslationEnabled: s.TranslationEnabled(),
		IsFinal:            isFinal,
		Timestamp:          float64(now.UnixNano()) / float64(time.Second),
		GatewayInstance:    d.instance,
	}

	if _, err := d.jobs.Add(ctx, job.StreamValues()); err != nil {
		logger.Error("job publish failed",
			"client_id", clientID, "job_id", job.JobID, "error", err)
		return false, err
	}

	s.LastPublishedLen = len(s.AudioBuffer)
	s.SilenceBufferStartLen = 0

	kind := jobKindRealtime
	if isFinal {
		kind = jobKindFinal
	} else {
		d.flows.setInFlight(clientID, true)
	}
	metrics.RecordJobPublished(kind)

	logger.Debug("job published",
		"client_id", clientID, "job_id", job.JobID, "segment_id", job.SegmentID,
		"audio_seconds", d.cfg.BytesToSeconds(len(job.Audio)), "is_final", isFinal)
	return true, nil
}
