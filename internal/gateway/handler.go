package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/buiilding/Nova-Voice/internal/audio"
	"github.com/buiilding/Nova-Voice/internal/logger"
	"github.com/buiilding/Nova-Voice/internal/metrics"
	"github.com/buiilding/Nova-Voice/internal/protocol"
	"github.com/buiilding/Nova-Voice/internal/session"
	"github.com/buiilding/Nova-Voice/internal/stream"
)

// wsSender serializes JSON writes to one WebSocket. Gorilla connections
// support one concurrent writer, and both the router goroutine and the
// control path send frames.
type wsSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSender) SendJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// Handler accepts WebSocket connections and runs the per-client ingest loop:
// binary frames feed the speech engine, text frames carry control messages,
// and a per-client result subscription feeds the router.
type Handler struct {
	engine   *Engine
	router   *Router
	flows    *Registry
	store    *session.Store
	bus      *stream.ResultBus
	upgrader websocket.Upgrader
}

// NewHandler creates the WebSocket handler.
func NewHandler(engine *Engine, router *Router, flows *Registry, store *session.Store, bus *stream.ResultBus) *Handler {
	return &Handler{
		engine: engine,
		router: router,
		flows:  flows,
		store:  store,
		bus:    bus,
		upgrader: websocket.Upgrader{
			// The gateway fronts browser and native clients alike; origin
			// policy is the deployment proxy's concern.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and serves it until the client leaves.
func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "remote", req.RemoteAddr, "error", err)
		return
	}

	clientID := uuid.NewString()
	sender := &wsSender{conn: conn}
	ctx := logger.WithClientID(req.Context(), clientID)

	metrics.ClientConnected()
	h.flows.Register(clientID)
	logger.Info("client connected", "client_id", clientID, "remote", req.RemoteAddr)

	sub, err := h.bus.Subscribe(ctx, clientID, func(result *protocol.Result) {
		h.router.HandleResult(ctx, clientID, result, sender)
	})
	if err != nil {
		logger.Error("result subscription failed", "client_id", clientID, "error", err)
		h.flows.Unregister(clientID)
		metrics.ClientDisconnected()
		_ = conn.Close()
		return
	}

	defer h.cleanup(clientID, conn, sub)

	if err := h.sendStatus(ctx, clientID, sender); err != nil {
		return
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			logger.Info("client disconnected", "client_id", clientID, "error", err)
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			h.handleAudio(ctx, clientID, data)
		case websocket.TextMessage:
			h.handleControl(ctx, clientID, data, sender)
		}
	}
}

// handleAudio parses one binary audio frame, resamples it to the pipeline
// rate, and feeds it to the speech engine. Malformed frames are ignored; the
// connection stays open.
func (h *Handler) handleAudio(ctx context.Context, clientID string, frame []byte) {
	meta, pcm, err := protocol.ParseAudioFrame(frame)
	if err != nil {
		logger.Debug("ignoring malformed audio frame", "client_id", clientID, "error", err)
		return
	}

	chunk, err := audio.ResampleToPipelineRate(pcm, meta.SampleRate)
	if err != nil {
		logger.Debug("ignoring unresamplable audio frame",
			"client_id", clientID, "sample_rate", meta.SampleRate, "error", err)
		return
	}

	if err := h.engine.ProcessChunk(ctx, clientID, chunk, time.Now()); err != nil {
		logger.Error("chunk processing failed", "client_id", clientID, "error", err)
	}
}

// handleControl dispatches one JSON control message. Unknown or malformed
// messages are ignored.
func (h *Handler) handleControl(ctx context.Context, clientID string, data []byte, sender Sender) {
	var msg protocol.ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Debug("ignoring malformed control message", "client_id", clientID, "error", err)
		return
	}

	switch msg.Type {
	case protocol.TypeSetLangs:
		h.setLanguages(ctx, clientID, msg, sender)
	case protocol.TypeGetStatus:
		_ = h.sendStatus(ctx, clientID, sender)
	case protocol.TypeStartOver:
		h.startOver(ctx, clientID)
	default:
		logger.Debug("ignoring unknown control message", "client_id", clientID, "type", msg.Type)
	}
}

// setLanguages updates the session language pair and echoes the new status.
// The change applies from the next dispatched job.
func (h *Handler) setLanguages(ctx context.Context, clientID string, msg protocol.ControlMessage, sender Sender) {
	s, err := h.store.Load(ctx, clientID)
	if err != nil {
		logger.Error("language change failed", "client_id", clientID, "error", err)
		return
	}

	if msg.SourceLanguage != "" {
		s.SourceLang = msg.SourceLanguage
	}
	if msg.TargetLanguage != "" {
		s.TargetLang = msg.TargetLanguage
	}

	if err := h.store.Save(ctx, clientID, s); err != nil {
		logger.Error("language change failed", "client_id", clientID, "error", err)
		return
	}

	logger.Info("languages updated",
		"client_id", clientID, "source_lang", s.SourceLang, "target_lang", s.TargetLang)
	_ = h.sendStatus(ctx, clientID, sender)
}

// startOver abandons the current utterance: buffers and flow state are
// cleared, no final job is sent, and any still-running job's result becomes
// stale via the segment watermark reset.
func (h *Handler) startOver(ctx context.Context, clientID string) {
	h.flows.ResetFlow(clientID)

	s, err := h.store.Load(ctx, clientID)
	if err != nil {
		logger.Error("start_over failed", "client_id", clientID, "error", err)
		return
	}
	s.Reset()
	if err := h.store.Save(ctx, clientID, s); err != nil {
		logger.Error("start_over failed", "client_id", clientID, "error", err)
		return
	}

	logger.Info("session restarted", "client_id", clientID)
}

// sendStatus reports the session's language configuration to the client.
func (h *Handler) sendStatus(ctx context.Context, clientID string, sender Sender) error {
	s, err := h.store.Load(ctx, clientID)
	if err != nil {
		logger.Error("status send failed", "client_id", clientID, "error", err)
		return err
	}

	return sender.SendJSON(&protocol.StatusMessage{
		Type:               protocol.TypeStatus,
		ClientID:           clientID,
		SourceLanguage:     s.SourceLang,
		TargetLanguage:     s.TargetLang,
		TranslationEnabled: s.TranslationEnabled(),
	})
}

// cleanup releases everything the connection held: the result subscription,
// the flow record, the persisted session, and the socket itself.
func (h *Handler) cleanup(clientID string, conn *websocket.Conn, sub *stream.Subscription) {
	if err := sub.Close(); err != nil {
		logger.Warn("result subscription close failed", "client_id", clientID, "error", err)
	}

	h.flows.Unregister(clientID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.store.Delete(ctx, clientID); err != nil {
		logger.Warn("session delete failed", "client_id", clientID, "error", err)
	}

	_ = conn.Close()
	metrics.ClientDisconnected()
}
