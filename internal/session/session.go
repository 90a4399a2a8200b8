// Package session defines the per-client speech session and its Redis-backed
// store.
//
// A session tracks one client's speech state machine, audio accumulation
// buffers, and dispatch markers. Sessions are persisted in Redis with a TTL
// so any gateway instance can serve any client.
package session

import (
	"strconv"
	"time"
)

// State is the speech state of a session.
type State string

// Speech states.
const (
	StateInactive State = "inactive"
	StateActive   State = "active"
	StateSilence  State = "silence"
)

// Session is the per-client speech session.
type Session struct {
	// State is the current speech state.
	State State

	// AudioBuffer accumulates 16 kHz mono PCM16 audio since the session
	// activated.
	AudioBuffer []byte

	// PreSpeechBuffer is a rolling FIFO of audio captured while inactive,
	// prepended to the utterance when speech is first detected.
	PreSpeechBuffer []byte

	// SilenceStartTime is when silence most recently began; zero when
	// speech is ongoing.
	SilenceStartTime time.Time

	// SessionStartTime is when the current utterance activated.
	SessionStartTime time.Time

	// LastPublishedLen is how many buffer bytes are already covered by a
	// dispatched job.
	LastPublishedLen int

	// SilenceBufferStartLen is the buffer length at the instant silence
	// began within the current utterance. It separates new speech from
	// trailing silence when the minimum-new-speech threshold is computed.
	SilenceBufferStartLen int

	// SourceLang and TargetLang are two-letter language codes.
	SourceLang string
	TargetLang string
}

// New returns a fresh inactive session with the given language defaults.
func New(sourceLang, targetLang string) *Session {
	return &Session{
		State:      StateInactive,
		SourceLang: sourceLang,
		TargetLang: targetLang,
	}
}

// Clone returns a deep copy of the session. The audio and pre-speech buffers
// are copied, so the clone can be mutated without affecting the original.
func (s *Session) Clone() *Session {
	c := *s
	if s.AudioBuffer != nil {
		c.AudioBuffer = append([]byte(nil), s.AudioBuffer...)
	}
	if s.PreSpeechBuffer != nil {
		c.PreSpeechBuffer = append([]byte(nil), s.PreSpeechBuffer...)
	}
	return &c
}

// TranslationEnabled reports whether results for this session go through the
// translation stage. It is derived, never stored independently.
func (s *Session) TranslationEnabled() bool {
	return s.SourceLang != s.TargetLang
}

// StartSpeech transitions the session into the active state and resets the
// dispatch markers for a new utterance.
func (s *Session) StartSpeech(now time.Time) {
	s.State = StateActive
	s.SessionStartTime = now
	s.SilenceStartTime = time.Time{}
	s.SilenceBufferStartLen = 0
	s.LastPublishedLen = 0
}

// Reset clears all utterance state, returning the session to inactive.
// Language settings survive the reset.
func (s *Session) Reset() {
	s.State = StateInactive
	s.AudioBuffer = nil
	s.PreSpeechBuffer = nil
	s.SilenceStartTime = time.Time{}
	s.SessionStartTime = time.Time{}
	s.LastPublishedLen = 0
	s.SilenceBufferStartLen = 0
}

// BufferSeconds returns the audio buffer duration in seconds at the given
// sample rate.
func (s *Session) BufferSeconds(sampleRate int) float64 {
	return float64(len(s.AudioBuffer)) / float64(sampleRate*2)
}

// Hash field names for the persisted scalar portion of a session.
const (
	fieldState                 = "state"
	fieldSilenceStartTime      = "silence_start_time"
	fieldSessionStartTime      = "session_start_time"
	fieldLastPublishedLen      = "last_published_len"
	fieldSilenceBufferStartLen = "silence_buffer_start_len"
	fieldSourceLang            = "source_lang"
	fieldTargetLang            = "target_lang"
	fieldTranslationEnabled    = "translation_enabled"
)

// hashFields renders the scalar portion of the session for HSET. Buffers are
// stored separately as binary blobs.
func (s *Session) hashFields() map[string]interface{} {
	return map[string]interface{}{
		fieldState:                 string(s.State),
		fieldSilenceStartTime:      formatTime(s.SilenceStartTime),
		fieldSessionStartTime:      formatTime(s.SessionStartTime),
		fieldLastPublishedLen:      strconv.Itoa(s.LastPublishedLen),
		fieldSilenceBufferStartLen: strconv.Itoa(s.SilenceBufferStartLen),
		fieldSourceLang:            s.SourceLang,
		fieldTargetLang:            s.TargetLang,
		fieldTranslationEnabled:    strconv.FormatBool(s.TranslationEnabled()),
	}
}

// fromHash rebuilds a session from stored hash fields and buffer blobs.
// Malformed numeric fields fall back to zero values rather than failing the
// load; the state machine recovers on the next chunk.
func fromHash(fields map[string]string, audioBuffer, preSpeechBuffer []byte) *Session {
	s := &Session{
		State:            StateInactive,
		AudioBuffer:      audioBuffer,
		PreSpeechBuffer:  preSpeechBuffer,
		SilenceStartTime: parseTime(fields[fieldSilenceStartTime]),
		SessionStartTime: parseTime(fields[fieldSessionStartTime]),
		SourceLang:       fields[fieldSourceLang],
		TargetLang:       fields[fieldTargetLang],
	}

	switch State(fields[fieldState]) {
	case StateActive:
		s.State = StateActive
	case StateSilence:
		s.State = StateSilence
	}

	if n, err := strconv.Atoi(fields[fieldLastPublishedLen]); err == nil {
		s.LastPublishedLen = n
	}
	if n, err := strconv.Atoi(fields[fieldSilenceBufferStartLen]); err == nil {
		s.SilenceBufferStartLen = n
	}

	return s
}

// formatTime renders a timestamp for hash storage; the zero time becomes an
// empty string.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime is the inverse of formatTime; malformed values become the zero
// time.
func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
