package gateway

import (
	"context"

	"github.com/buiilding/Nova-Voice/internal/logger"
	"github.com/buiilding/Nova-Voice/internal/metrics"
	"github.com/buiilding/Nova-Voice/internal/protocol"
	"github.com/buiilding/Nova-Voice/internal/session"
)

// Result discard reasons for metrics.
const (
	discardStale               = "stale"
	discardAwaitingTranslation = "awaiting_translation"
)

// Sender delivers JSON frames to one client. Implementations must be safe for
// concurrent use; the router and the control path both write through it.
type Sender interface {
	SendJSON(v interface{}) error
}

// Router consumes worker results for a connected client: it filters and
// orders them, forwards the survivors over the client transport, releases the
// in-flight flag so the next job can dispatch, and emits the utterance-end
// signal exactly once per utterance.
type Router struct {
	store      *session.Store
	flows      *Registry
	dispatcher *Dispatcher
}

// NewRouter creates a result router.
func NewRouter(store *session.Store, flows *Registry, dispatcher *Dispatcher) *Router {
	return &Router{
		store:      store,
		flows:      flows,
		dispatcher: dispatcher,
	}
}

// HandleResult processes one result envelope for the client. It is called
// from the client's single subscription goroutine, so results are handled in
// publication order.
func (r *Router) HandleResult(ctx context.Context, clientID string, result *protocol.Result, sender Sender) {
	s, err := r.store.Load(ctx, clientID)
	if err != nil {
		logger.Error("result dropped, session load failed",
			"client_id", clientID, "job_id", result.JobID, "error", err)
		return
	}

	translationEnabled := s.TranslationEnabled()
	isTranslation := result.IsTranslation()
	seg := result.SegmentNumber()
	fresh := seg > r.flows.LatestSegmentSent(clientID)

	// A result is terminal when nothing further will arrive for its job: any
	// result in single-stage mode, the translation result in two-stage mode,
	// and error or empty-transcription results that the translation stage
	// will never see.
	terminal := !translationEnabled ||
		isTranslation ||
		result.Status == protocol.StatusError ||
		result.Text == ""

	// In two-stage mode only translation results reach the client; STT
	// intermediates drive the pipeline silently.
	forward := fresh && (!translationEnabled || isTranslation)

	switch {
	case forward:
		r.flows.advanceSegment(clientID, seg)
		msg := &protocol.RealtimeMessage{
			Type:           protocol.TypeRealtime,
			Text:           result.Text,
			Translation:    result.Translation,
			SegmentID:      result.SegmentID,
			ProcessingTime: result.ProcessingTime,
		}
		if err := sender.SendJSON(msg); err != nil {
			logger.Warn("realtime send failed", "client_id", clientID, "error", err)
			return
		}
		metrics.RecordResultForwarded(protocol.TypeRealtime)
	case !fresh:
		metrics.RecordResultDiscarded(discardStale)
	default:
		metrics.RecordResultDiscarded(discardAwaitingTranslation)
	}

	unlocked := false
	if terminal {
		unlocked = r.flows.clearInFlight(clientID)
	}

	if result.IsFinal && terminal && fresh {
		end := &protocol.UtteranceEndMessage{
			Type:     protocol.TypeUtteranceEnd,
			ClientID: clientID,
		}
		if err := sender.SendJSON(end); err != nil {
			logger.Warn("utterance_end send failed", "client_id", clientID, "error", err)
			return
		}
		metrics.RecordResultForwarded(protocol.TypeUtteranceEnd)
	}

	if unlocked {
		r.catchUp(ctx, clientID, s)
	}
}

// catchUp dispatches the next job immediately when audio accumulated behind
// the in-flight flag. Only the published marker is persisted; rewriting the
// whole session here would put a buffer write on every result.
func (r *Router) catchUp(ctx context.Context, clientID string, s *session.Session) {
	if len(s.AudioBuffer) <= s.LastPublishedLen {
		return
	}

	published, err := r.dispatcher.MaybePublish(ctx, clientID, s)
	if err != nil {
		logger.Error("catch-up dispatch failed", "client_id", clientID, "error", err)
		return
	}
	if !published {
		return
	}
	if err := r.store.SavePublishedMarker(ctx, clientID, s.LastPublishedLen); err != nil {
		logger.Warn("published marker persist failed", "client_id", clientID, "error", err)
	}
}
