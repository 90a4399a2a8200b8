// Package config centralizes runtime configuration for the gateway and workers.
//
// All tunables are read once at startup from the environment into an immutable
// Config value that is passed into each component. Invalid configuration is a
// startup failure, never a runtime fallback.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Fixed wire and coordination constants. These are part of the protocol
// between gateway instances and workers and are not tunable per deployment.
const (
	// AudioJobsStream is the Redis stream carrying dispatched audio jobs.
	AudioJobsStream = "audio_jobs"
	// TranscriptionsStream is the Redis stream carrying transcriptions
	// awaiting translation.
	TranscriptionsStream = "transcriptions"
	// ResultsChannelPrefix prefixes per-client result pub/sub channels.
	ResultsChannelPrefix = "results:"
	// SessionKeyPrefix prefixes per-client session keys in Redis.
	SessionKeyPrefix = "session:"

	// STTConsumerGroup is the consumer group STT workers read with.
	STTConsumerGroup = "stt_workers"
	// TranslationConsumerGroup is the consumer group translation workers read with.
	TranslationConsumerGroup = "translation_workers"

	// BytesPerSample is the size of one 16-bit PCM sample.
	BytesPerSample = 2
)

// Config holds all tunable settings, populated from the environment.
type Config struct {
	// RedisURL is the Redis connection URL shared by all services.
	RedisURL string

	// GatewayAddr is the listen address for the gateway WebSocket server.
	GatewayAddr string

	// MetricsAddr is the listen address for the Prometheus exporter.
	MetricsAddr string

	// STTEngineURL and TranslationEngineURL locate the external inference
	// engines the workers call.
	STTEngineURL         string
	TranslationEngineURL string

	// SampleRate is the pipeline-internal audio sample rate in Hz. Fixed at
	// 16000; client audio at other rates is resampled on ingest.
	SampleRate int

	// SilenceThreshold is how long continuous silence must last before the
	// current utterance is finalized.
	SilenceThreshold time.Duration

	// WebRTCSensitivity is the coarse detector aggressiveness (0-3, 3 = most
	// aggressive).
	WebRTCSensitivity int

	// SileroSensitivity tunes the precise detector (0.0-1.0). The detector
	// reports speech when probability exceeds 1 - SileroSensitivity.
	SileroSensitivity float64

	// PreSpeechBufferSeconds is how much audio preceding speech detection is
	// kept in the rolling pre-speech buffer.
	PreSpeechBufferSeconds float64

	// MinimumNewAudioSeconds is the minimum amount of new speech required
	// before a non-final job is dispatched.
	MinimumNewAudioSeconds float64

	// MaxAudioBufferSeconds caps the per-utterance audio buffer.
	MaxAudioBufferSeconds float64

	// MaxQueueDepth is the admission-control limit on the job stream depth.
	MaxQueueDepth int

	// SendFinalJobOnMaxBuffer controls whether a forced final job is
	// published when the buffer cap is hit.
	SendFinalJobOnMaxBuffer bool

	// SessionExpiration is the TTL applied to persisted sessions.
	SessionExpiration time.Duration

	// DefaultSourceLanguage and DefaultTargetLanguage seed new sessions.
	DefaultSourceLanguage string
	DefaultTargetLanguage string
}

// Load reads configuration from the environment, applying defaults for any
// unset variable.
func Load() (*Config, error) {
	cfg := &Config{
		RedisURL:                getEnv("REDIS_URL", "redis://localhost:6379"),
		GatewayAddr:             getEnv("GATEWAY_ADDR", ":5026"),
		MetricsAddr:             getEnv("METRICS_ADDR", ":9090"),
		STTEngineURL:            getEnv("STT_ENGINE_URL", "http://localhost:8001/transcribe"),
		TranslationEngineURL:    getEnv("TRANSLATION_ENGINE_URL", "http://localhost:8002/translate"),
		SampleRate:              16000,
		WebRTCSensitivity:       3,
		SileroSensitivity:       0.7,
		PreSpeechBufferSeconds:  2.0,
		MinimumNewAudioSeconds:  1.0,
		MaxAudioBufferSeconds:   10.0,
		MaxQueueDepth:           100,
		SendFinalJobOnMaxBuffer: true,
		SessionExpiration:       900 * time.Second,
		DefaultSourceLanguage:   getEnv("DEFAULT_SOURCE_LANGUAGE", "en"),
		DefaultTargetLanguage:   getEnv("DEFAULT_TARGET_LANGUAGE", "vi"),
	}

	var err error
	if cfg.SilenceThreshold, err = getEnvSeconds("SILENCE_THRESHOLD_SECONDS", 1.0); err != nil {
		return nil, err
	}
	if cfg.SampleRate, err = getEnvInt("SAMPLE_RATE", cfg.SampleRate); err != nil {
		return nil, err
	}
	if cfg.WebRTCSensitivity, err = getEnvInt("WEBRTC_SENSITIVITY", cfg.WebRTCSensitivity); err != nil {
		return nil, err
	}
	if cfg.SileroSensitivity, err = getEnvFloat("SILERO_SENSITIVITY", cfg.SileroSensitivity); err != nil {
		return nil, err
	}
	if cfg.PreSpeechBufferSeconds, err = getEnvFloat("PRE_SPEECH_BUFFER_SECONDS", cfg.PreSpeechBufferSeconds); err != nil {
		return nil, err
	}
	if cfg.MinimumNewAudioSeconds, err = getEnvFloat("MINIMUM_NEW_AUDIO_SECONDS", cfg.MinimumNewAudioSeconds); err != nil {
		return nil, err
	}
	if cfg.MaxAudioBufferSeconds, err = getEnvFloat("MAX_AUDIO_BUFFER_SECONDS", cfg.MaxAudioBufferSeconds); err != nil {
		return nil, err
	}
	if cfg.MaxQueueDepth, err = getEnvInt("MAX_QUEUE_DEPTH", cfg.MaxQueueDepth); err != nil {
		return nil, err
	}
	if cfg.SendFinalJobOnMaxBuffer, err = getEnvBool("SEND_FINAL_JOB_ON_MAX_BUFFER", cfg.SendFinalJobOnMaxBuffer); err != nil {
		return nil, err
	}
	if cfg.SessionExpiration, err = getEnvSeconds("SESSION_EXPIRATION_SECONDS", cfg.SessionExpiration.Seconds()); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all settings are within acceptable ranges.
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("config: REDIS_URL must not be empty")
	}
	if c.STTEngineURL == "" || c.TranslationEngineURL == "" {
		return fmt.Errorf("config: engine URLs must not be empty")
	}
	if c.SampleRate != 16000 {
		return fmt.Errorf("config: SAMPLE_RATE must be 16000, got %d", c.SampleRate)
	}
	if c.SilenceThreshold <= 0 {
		return fmt.Errorf("config: SILENCE_THRESHOLD_SECONDS must be positive")
	}
	if c.WebRTCSensitivity < 0 || c.WebRTCSensitivity > 3 {
		return fmt.Errorf("config: WEBRTC_SENSITIVITY must be between 0 and 3, got %d", c.WebRTCSensitivity)
	}
	if c.SileroSensitivity < 0 || c.SileroSensitivity > 1 {
		return fmt.Errorf("config: SILERO_SENSITIVITY must be between 0.0 and 1.0, got %g", c.SileroSensitivity)
	}
	if c.PreSpeechBufferSeconds < 0 {
		return fmt.Errorf("config: PRE_SPEECH_BUFFER_SECONDS must be non-negative")
	}
	if c.MinimumNewAudioSeconds < 0 {
		return fmt.Errorf("config: MINIMUM_NEW_AUDIO_SECONDS must be non-negative")
	}
	if c.MaxAudioBufferSeconds <= 0 {
		return fmt.Errorf("config: MAX_AUDIO_BUFFER_SECONDS must be positive")
	}
	if c.MaxQueueDepth <= 0 {
		return fmt.Errorf("config: MAX_QUEUE_DEPTH must be positive")
	}
	if c.SessionExpiration <= 0 {
		return fmt.Errorf("config: SESSION_EXPIRATION_SECONDS must be positive")
	}
	if c.DefaultSourceLanguage == "" || c.DefaultTargetLanguage == "" {
		return fmt.Errorf("config: default languages must not be empty")
	}
	return nil
}

// PreSpeechBufferBytes returns the pre-speech buffer cap in bytes.
func (c *Config) PreSpeechBufferBytes() int {
	return int(c.PreSpeechBufferSeconds * float64(c.SampleRate) * BytesPerSample)
}

// MaxAudioBufferBytes returns the main audio buffer cap in bytes.
func (c *Config) MaxAudioBufferBytes() int {
	return int(c.MaxAudioBufferSeconds * float64(c.SampleRate) * BytesPerSample)
}

// BytesToSeconds converts a PCM byte count to seconds of audio.
func (c *Config) BytesToSeconds(n int) float64 {
	return float64(n) / float64(c.SampleRate*BytesPerSample)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s %q: %w", key, v, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: invalid %s %q: %w", key, v, err)
	}
	return b, nil
}

func getEnvSeconds(key string, fallback float64) (time.Duration, error) {
	f, err := getEnvFloat(key, fallback)
	if err != nil {
		return 0, err
	}
	return time.Duration(f * float64(time.Second)), nil
}
