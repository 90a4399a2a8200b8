package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Result statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Result is the envelope workers publish on a client's result channel. It is
// sent as UTF-8 JSON bytes.
//
// SegmentID stays a string on this envelope: upstream rows carry it stringly
// and error results may omit it entirely. SegmentNumber gives the parsed form.
type Result struct {
	Status             string  `json:"status"`
	JobID              string  `json:"job_id"`
	ClientID           string  `json:"client_id"`
	SegmentID          string  `json:"segment_id"`
	Text               string  `json:"text"`
	Translation        string  `json:"translation"`
	SourceLang         string  `json:"source_lang"`
	TargetLang         string  `json:"target_lang"`
	TranslationEnabled bool    `json:"translation_enabled"`
	IsFinal            bool    `json:"is_final"`
	ProcessingTime     float64 `json:"processing_time"`
	AudioDuration      float64 `json:"audio_duration"`
	WorkerID           string  `json:"worker_id"`
	Timestamp          float64 `json:"timestamp"`
	Error              string  `json:"error,omitempty"`
}

// SegmentNumber parses the segment ID, returning 0 when absent or malformed.
func (r *Result) SegmentNumber() int64 {
	n, err := strconv.ParseInt(r.SegmentID, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// IsTranslation reports whether this result carries translated text. Results
// with an empty translation field are STT-only.
func (r *Result) IsTranslation() bool {
	return strings.TrimSpace(r.Translation) != ""
}

// Encode renders the result for publication.
func (r *Result) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode result: %w", err)
	}
	return data, nil
}

// looseResult mirrors Result with forgiving boolean fields, since envelopes
// from mixed worker fleets may carry booleans as JSON bools or strings.
type looseResult struct {
	Status             string          `json:"status"`
	JobID              string          `json:"job_id"`
	ClientID           string          `json:"client_id"`
	SegmentID          json.RawMessage `json:"segment_id"`
	Text               string          `json:"text"`
	Translation        string          `json:"translation"`
	SourceLang         string          `json:"source_lang"`
	TargetLang         string          `json:"target_lang"`
	TranslationEnabled json.RawMessage `json:"translation_enabled"`
	IsFinal            json.RawMessage `json:"is_final"`
	ProcessingTime     float64         `json:"processing_time"`
	AudioDuration      float64         `json:"audio_duration"`
	WorkerID           string          `json:"worker_id"`
	Timestamp          float64         `json:"timestamp"`
	Error              string          `json:"error"`
}

// DecodeResult parses a result envelope from the bus.
func DecodeResult(data []byte) (*Result, error) {
	var raw looseResult
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("protocol: decode result: %w", err)
	}

	return &Result{
		Status:             raw.Status,
		JobID:              raw.JobID,
		ClientID:           raw.ClientID,
		SegmentID:          looseString(raw.SegmentID),
		Text:               raw.Text,
		Translation:        raw.Translation,
		SourceLang:         raw.SourceLang,
		TargetLang:         raw.TargetLang,
		TranslationEnabled: looseBool(raw.TranslationEnabled),
		IsFinal:            looseBool(raw.IsFinal),
		ProcessingTime:     raw.ProcessingTime,
		AudioDuration:      raw.AudioDuration,
		WorkerID:           raw.WorkerID,
		Timestamp:          raw.Timestamp,
		Error:              raw.Error,
	}, nil
}

// looseBool decodes a JSON value that may be a bool or a bool-like string.
func looseBool(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ParseBool(s)
	}
	return false
}

// looseString decodes a JSON value that may be a string or a number.
func looseString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
