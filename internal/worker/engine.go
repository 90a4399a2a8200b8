package worker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// defaultEngineTimeout bounds one inference call to an engine endpoint.
const defaultEngineTimeout = 60 * time.Second

// HTTPTranscriber calls an external speech-to-text engine over HTTP. The
// engine receives base64 PCM and returns the transcription as JSON.
type HTTPTranscriber struct {
	url    string
	client *http.Client
}

// NewHTTPTranscriber creates a transcriber against the given endpoint.
func NewHTTPTranscriber(url string) *HTTPTranscriber {
	return &HTTPTranscriber{
		url:    url,
		client: &http.Client{Timeout: defaultEngineTimeout},
	}
}

// Transcribe implements Transcriber.
func (t *HTTPTranscriber) Transcribe(ctx context.Context, audio []byte, sampleRate int, sourceLang string) (string, error) {
	req := struct {
		AudioB64   string `json:"audio_b64"`
		SampleRate int    `json:"sample_rate"`
		Language   string `json:"language"`
	}{
		AudioB64:   base64.StdEncoding.EncodeToString(audio),
		SampleRate: sampleRate,
		Language:   sourceLang,
	}

	var resp struct {
		Text string `json:"text"`
	}
	if err := postJSON(ctx, t.client, t.url, req, &resp); err != nil {
		return "", fmt.Errorf("worker: stt engine: %w", err)
	}
	return resp.Text, nil
}

// HTTPTranslator calls an external translation engine over HTTP.
type HTTPTranslator struct {
	url    string
	client *http.Client
}

// NewHTTPTranslator creates a translator against the given endpoint.
func NewHTTPTranslator(url string) *HTTPTranslator {
	return &HTTPTranslator{
		url:    url,
		client: &http.Client{Timeout: defaultEngineTimeout},
	}
}

// Translate implements Translator.
func (t *HTTPTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	req := struct {
		Text       string `json:"text"`
		SourceLang string `json:"source_lang"`
		TargetLang string `json:"target_lang"`
	}{
		Text:       text,
		SourceLang: sourceLang,
		TargetLang: targetLang,
	}

	var resp struct {
		Translation string `json:"translation"`
	}
	if err := postJSON(ctx, t.client, t.url, req, &resp); err != nil {
		return "", fmt.Errorf("worker: translation engine: %w", err)
	}
	return resp.Translation, nil
}

// postJSON performs one JSON request/response round-trip.
func postJSON(ctx context.Context, client *http.Client, url string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("engine returned %d: %s", resp.StatusCode, data)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
