package gateway

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/buiilding/Nova-Voice/internal/config"
	"github.com/buiilding/Nova-Voice/internal/protocol"
	"github.com/buiilding/Nova-Voice/internal/session"
	"github.com/buiilding/Nova-Voice/internal/stream"
	"github.com/buiilding/Nova-Voice/internal/vad"
)

// testClientID is the client used throughout the gateway tests.
const testClientID = "client-1"

// testEnv wires a full gateway stack against miniredis.
type testEnv struct {
	cfg        *config.Config
	mr         *miniredis.Miniredis
	client     *redis.Client
	store      *session.Store
	flows      *Registry
	jobs       *stream.Stream
	bus        *stream.ResultBus
	dispatcher *Dispatcher
	engine     *Engine
	router     *Router
}

func testConfig() *config.Config {
	return &config.Config{
		RedisURL:                "redis://localhost:6379",
		GatewayAddr:             ":0",
		MetricsAddr:             ":0",
		STTEngineURL:            "http://localhost:8001/transcribe",
		TranslationEngineURL:    "http://localhost:8002/translate",
		SampleRate:              16000,
		SilenceThreshold:        time.Second,
		WebRTCSensitivity:       3,
		SileroSensitivity:       0.7,
		PreSpeechBufferSeconds:  2.0,
		MinimumNewAudioSeconds:  1.0,
		MaxAudioBufferSeconds:   10.0,
		MaxQueueDepth:           100,
		SendFinalJobOnMaxBuffer: true,
		SessionExpiration:       900 * time.Second,
		DefaultSourceLanguage:   "en",
		DefaultTargetLanguage:   "vi",
	}
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := session.NewStore(client,
		session.WithTTL(cfg.SessionExpiration),
		session.WithDefaultLanguages(cfg.DefaultSourceLanguage, cfg.DefaultTargetLanguage),
	)
	flows := NewRegistry()
	jobs := stream.NewStream(client, config.AudioJobsStream)
	bus := stream.NewResultBus(client)

	dispatcher := NewDispatcher(cfg, jobs, flows, "test-gateway")
	engine := NewEngine(cfg, newTestDetector(t, cfg), store, dispatcher)
	router := NewRouter(store, flows, dispatcher)

	flows.Register(testClientID)

	return &testEnv{
		cfg:        cfg,
		mr:         mr,
		client:     client,
		store:      store,
		flows:      flows,
		jobs:       jobs,
		bus:        bus,
		dispatcher: dispatcher,
		engine:     engine,
		router:     router,
	}
}

func newTestDetector(t *testing.T, cfg *config.Config) *vad.Detector {
	coarse, err := vad.NewEnergyFrameClassifier(cfg.WebRTCSensitivity)
	require.NoError(t, err)
	detector, err := vad.NewDetector(coarse, vad.NewEnergyWindowScorer(), cfg.SileroSensitivity)
	require.NoError(t, err)
	return detector
}

// loudChunk builds PCM16 audio both VAD models classify as speech.
func loudChunk(seconds float64) []byte {
	n := int(seconds * 16000)
	chunk := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(chunk[i*2:], uint16(int16(8000)))
	}
	return chunk
}

// silentChunk builds all-zero PCM16 audio.
func silentChunk(seconds float64) []byte {
	n := int(seconds * 16000)
	return make([]byte, n*2)
}

// publishedJobs decodes every row currently on the audio-jobs stream.
func (e *testEnv) publishedJobs(t *testing.T) []*protocol.Job {
	msgs, err := e.client.XRange(context.Background(), config.AudioJobsStream, "-", "+").Result()
	require.NoError(t, err)

	jobs := make([]*protocol.Job, 0, len(msgs))
	for _, msg := range msgs {
		job, err := protocol.JobFromStreamValues(msg.Values)
		require.NoError(t, err)
		jobs = append(jobs, job)
	}
	return jobs
}

// loadSession reads the client's persisted session.
func (e *testEnv) loadSession(t *testing.T) *session.Session {
	s, err := e.store.Load(context.Background(), testClientID)
	require.NoError(t, err)
	return s
}

// fakeSender records frames the router sends to the client.
type fakeSender struct {
	mu   sync.Mutex
	sent []interface{}
	err  error
}

func (f *fakeSender) SendJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeSender) messages() []interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]interface{}(nil), f.sent...)
}

func (f *fakeSender) realtimes() []*protocol.RealtimeMessage {
	var out []*protocol.RealtimeMessage
	for _, m := range f.messages() {
		if rm, ok := m.(*protocol.RealtimeMessage); ok {
			out = append(out, rm)
		}
	}
	return out
}

func (f *fakeSender) utteranceEnds() int {
	n := 0
	for _, m := range f.messages() {
		if _, ok := m.(*protocol.UtteranceEndMessage); ok {
			n++
		}
	}
	return n
}
