package protocol

import (
	"encoding/base64"
	"fmt"
	"strconv"
)

// Job is the immutable envelope for one dispatched audio segment. It is
// appended to the audio-jobs stream as a stringly-typed row with the audio
// payload base64-encoded.
type Job struct {
	JobID              string
	ClientID           string
	SegmentID          int64
	Audio              []byte
	SampleRate         int
	SourceLang         string
	TargetLang         string
	TranslationEnabled bool
	IsFinal            bool
	Timestamp          float64
	GatewayInstance    string
}

// StreamValues renders the job as a stream row.
func (j *Job) StreamValues() map[string]interface{} {
	return map[string]interface{}{
		"job_type":            "audio_segment",
		"job_id":              j.JobID,
		"client_id":           j.ClientID,
		"segment_id":          strconv.FormatInt(j.SegmentID, 10),
		"audio_bytes_b64":     base64.StdEncoding.EncodeToString(j.Audio),
		"sample_rate":         strconv.Itoa(j.SampleRate),
		"source_lang":         j.SourceLang,
		"target_lang":         j.TargetLang,
		"translation_enabled": FormatBool(j.TranslationEnabled),
		"is_final":            FormatBool(j.IsFinal),
		"timestamp":           strconv.FormatFloat(j.Timestamp, 'f', -1, 64),
		"gateway_instance":    j.GatewayInstance,
	}
}

// JobFromStreamValues decodes a stream row back into a Job.
func JobFromStreamValues(values map[string]interface{}) (*Job, error) {
	audioB64 := stringValue(values, "audio_bytes_b64")
	if audioB64 == "" {
		return nil, fmt.Errorf("protocol: job row has no audio data")
	}
	audio, err := base64.StdEncoding.DecodeString(audioB64)
	if err != nil {
		return nil, fmt.Errorf("protocol: decode job audio: %w", err)
	}

	return &Job{
		JobID:              stringValue(values, "job_id"),
		ClientID:           stringValue(values, "client_id"),
		SegmentID:          intValue(values, "segment_id"),
		Audio:              audio,
		SampleRate:         int(intValue(values, "sample_rate")),
		SourceLang:         stringValue(values, "source_lang"),
		TargetLang:         stringValue(values, "target_lang"),
		TranslationEnabled: ParseBool(stringValue(values, "translation_enabled")),
		IsFinal:            ParseBool(stringValue(values, "is_final")),
		Timestamp:          floatValue(values, "timestamp"),
		GatewayInstance:    stringValue(values, "gateway_instance"),
	}, nil
}

// Transcription is the envelope STT workers append to the transcriptions
// stream when a non-empty transcription needs translation.
type Transcription struct {
	JobID         string
	ClientID      string
	SegmentID     int64
	Text          string
	SourceLang    string
	TargetLang    string
	IsFinal       bool
	Timestamp     float64
	AudioDuration float64
}

// StreamValues renders the transcription as a stream row.
func (t *Transcription) StreamValues() map[string]interface{} {
	return map[string]interface{}{
		"job_id":         t.JobID,
		"client_id":      t.ClientID,
		"segment_id":     strconv.FormatInt(t.SegmentID, 10),
		"text":           t.Text,
		"source_lang":    t.SourceLang,
		"target_lang":    t.TargetLang,
		"is_final":       FormatBool(t.IsFinal),
		"timestamp":      strconv.FormatFloat(t.Timestamp, 'f', -1, 64),
		"audio_duration": strconv.FormatFloat(t.AudioDuration, 'f', -1, 64),
	}
}

// TranscriptionFromStreamValues decodes a stream row back into a Transcription.
func TranscriptionFromStreamValues(values map[string]interface{}) (*Transcription, error) {
	text := stringValue(values, "text")
	if text == "" {
		return nil, fmt.Errorf("protocol: transcription row has no text")
	}

	return &Transcription{
		JobID:         stringValue(values, "job_id"),
		ClientID:      stringValue(values, "client_id"),
		SegmentID:     intValue(values, "segment_id"),
		Text:          text,
		SourceLang:    stringValue(values, "source_lang"),
		TargetLang:    stringValue(values, "target_lang"),
		IsFinal:       ParseBool(stringValue(values, "is_final")),
		Timestamp:     floatValue(values, "timestamp"),
		AudioDuration: floatValue(values, "audio_duration"),
	}, nil
}
