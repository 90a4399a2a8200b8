package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/buiilding/Nova-Voice/internal/config"
)

// ErrInvalidClientID is returned when a store operation names no client.
var ErrInvalidClientID = errors.New("session: invalid client id")

// Default store tuning.
const (
	defaultTTL      = 900 * time.Second
	defaultCacheTTL = 30 * time.Second
)

// Store persists sessions in Redis. Scalar fields live in a hash at
// session:<client_id>; the audio and pre-speech buffers are stored as
// separate binary strings so the textual hash encoding never touches raw
// audio bytes. All three keys share a TTL that is refreshed on every save.
//
// A short-lived in-process read-through cache keeps the per-chunk hot path
// off the network. Saves update the cache; deletes invalidate it. Every load
// returns a deep copy: the ingest path and the result-routing path run in
// separate goroutines, and neither may observe the other's unpersisted
// mutations.
type Store struct {
	client *redis.Client

	ttl        time.Duration
	cacheTTL   time.Duration
	sourceLang string
	targetLang string

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	session  *Session
	cachedAt time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithTTL sets the time-to-live applied to persisted sessions.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithCacheTTL sets how long a loaded session may be served from the
// in-process cache. Zero disables caching.
func WithCacheTTL(ttl time.Duration) StoreOption {
	return func(s *Store) {
		s.cacheTTL = ttl
	}
}

// WithDefaultLanguages sets the language pair seeded into fresh sessions.
func WithDefaultLanguages(source, target string) StoreOption {
	return func(s *Store) {
		s.sourceLang = source
		s.targetLang = target
	}
}

// NewStore creates a Redis-backed session store.
func NewStore(client *redis.Client, opts ...StoreOption) *Store {
	store := &Store{
		client:     client,
		ttl:        defaultTTL,
		cacheTTL:   defaultCacheTTL,
		sourceLang: "en",
		targetLang: "vi",
		cache:      make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Load returns the stored session for the client, or a fresh inactive
// session with language defaults when none exists. The returned session is
// the caller's own copy; a mutation becomes visible to other loads only once
// Save succeeds.
func (st *Store) Load(ctx context.Context, clientID string) (*Session, error) {
	if clientID == "" {
		return nil, ErrInvalidClientID
	}

	if s := st.cached(clientID); s != nil {
		return s, nil
	}

	fields, err := st.client.HGetAll(ctx, st.sessionKey(clientID)).Result()
	if err != nil {
		return nil, fmt.Errorf("session: redis hgetall failed: %w", err)
	}

	if len(fields) == 0 {
		s := New(st.sourceLang, st.targetLang)
		st.updateCache(clientID, s)
		return s, nil
	}

	audioBuffer, err := st.loadBuffer(ctx, st.audioBufferKey(clientID))
	if err != nil {
		return nil, err
	}
	preSpeechBuffer, err := st.loadBuffer(ctx, st.preSpeechBufferKey(clientID))
	if err != nil {
		return nil, err
	}

	s := fromHash(fields, audioBuffer, preSpeechBuffer)
	st.updateCache(clientID, s)
	return s, nil
}

// Save persists the session and refreshes its TTL. The hash write, the two
// buffer writes, and the TTL refreshes are batched into one pipeline.
func (st *Store) Save(ctx context.Context, clientID string, s *Session) error {
	if clientID == "" {
		return ErrInvalidClientID
	}

	sessionKey := st.sessionKey(clientID)
	audioKey := st.audioBufferKey(clientID)
	preSpeechKey := st.preSpeechBufferKey(clientID)

	pipe := st.client.Pipeline()
	pipe.HSet(ctx, sessionKey, s.hashFields())

	if len(s.AudioBuffer) > 0 {
		pipe.Set(ctx, audioKey, s.AudioBuffer, st.ttl)
	} else {
		pipe.Del(ctx, audioKey)
	}
	if len(s.PreSpeechBuffer) > 0 {
		pipe.Set(ctx, preSpeechKey, s.PreSpeechBuffer, st.ttl)
	} else {
		pipe.Del(ctx, preSpeechKey)
	}

	pipe.Expire(ctx, sessionKey, st.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: redis pipeline failed: %w", err)
	}

	st.updateCache(clientID, s)
	return nil
}

// SavePublishedMarker persists only the last-published marker. The result
// router uses this on the hot path instead of rewriting the session blob.
func (st *Store) SavePublishedMarker(ctx context.Context, clientID string, lastPublishedLen int) error {
	if clientID == "" {
		return ErrInvalidClientID
	}
	err := st.client.HSet(ctx, st.sessionKey(clientID), fieldLastPublishedLen, lastPublishedLen).Err()
	if err != nil {
		return fmt.Errorf("session: redis hset failed: %w", err)
	}

	st.mu.Lock()
	if entry, ok := st.cache[clientID]; ok {
		entry.session.LastPublishedLen = lastPublishedLen
	}
	st.mu.Unlock()
	return nil
}

// Delete removes the session and its buffers.
func (st *Store) Delete(ctx context.Context, clientID string) error {
	if clientID == "" {
		return ErrInvalidClientID
	}

	st.Invalidate(clientID)

	keys := []string{
		st.sessionKey(clientID),
		st.audioBufferKey(clientID),
		st.preSpeechBufferKey(clientID),
	}
	if err := st.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("session: redis del failed: %w", err)
	}
	return nil
}

// Invalidate drops the client's cached session so the next load hits Redis.
func (st *Store) Invalidate(clientID string) {
	st.mu.Lock()
	delete(st.cache, clientID)
	st.mu.Unlock()
}

// cached returns a copy of the client's session if a fresh cache entry
// exists. The cached object itself never escapes the store.
func (st *Store) cached(clientID string) *Session {
	if st.cacheTTL <= 0 {
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	entry, ok := st.cache[clientID]
	if !ok {
		return nil
	}
	if time.Since(entry.cachedAt) >= st.cacheTTL {
		delete(st.cache, clientID)
		return nil
	}
	return entry.session.Clone()
}

func (st *Store) updateCache(clientID string, s *Session) {
	if st.cacheTTL <= 0 {
		return
	}
	st.mu.Lock()
	st.cache[clientID] = cacheEntry{session: s.Clone(), cachedAt: time.Now()}
	st.mu.Unlock()
}

// loadBuffer fetches one binary buffer, treating a missing key as empty.
func (st *Store) loadBuffer(ctx context.Context, key string) ([]byte, error) {
	data, err := st.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: redis get failed: %w", err)
	}
	return data, nil
}

func (st *Store) sessionKey(clientID string) string {
	return config.SessionKeyPrefix + clientID
}

func (st *Store) audioBufferKey(clientID string) string {
	return config.SessionKeyPrefix + clientID + ":audio_buffer"
}

func (st *Store) preSpeechBufferKey(clientID string) string {
	return config.SessionKeyPrefix + clientID + ":pre_speech_buffer"
}
