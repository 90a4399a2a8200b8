package worker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPTranscriber_RoundTrip(t *testing.T) {
	audio := []byte{0x01, 0x02, 0x03, 0x04}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			AudioB64   string `json:"audio_b64"`
			SampleRate int    `json:"sample_rate"`
			Language   string `json:"language"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, base64.StdEncoding.EncodeToString(audio), req.AudioB64)
		assert.Equal(t, 16000, req.SampleRate)
		assert.Equal(t, "en", req.Language)

		_ = json.NewEncoder(w).Encode(map[string]string{"text": "hello"})
	}))
	defer srv.Close()

	text, err := NewHTTPTranscriber(srv.URL).Transcribe(context.Background(), audio, 16000, "en")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
}

func TestHTTPTranscriber_EngineError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPTranscriber(srv.URL).Transcribe(context.Background(), []byte{1}, 16000, "en")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestHTTPTranslator_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text       string `json:"text"`
			SourceLang string `json:"source_lang"`
			TargetLang string `json:"target_lang"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hello", req.Text)
		assert.Equal(t, "en", req.SourceLang)
		assert.Equal(t, "vi", req.TargetLang)

		_ = json.NewEncoder(w).Encode(map[string]string{"translation": "xin chào"})
	}))
	defer srv.Close()

	translation, err := NewHTTPTranslator(srv.URL).Translate(context.Background(), "hello", "en", "vi")
	require.NoError(t, err)
	assert.Equal(t, "xin chào", translation)
}

func TestHTTPTranslator_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHTTPTranslator(srv.URL).Translate(ctx, "hello", "en", "vi")
	require.Error(t, err)
}
