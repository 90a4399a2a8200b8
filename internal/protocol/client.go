package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Client control message types (client → gateway).
const (
	TypeSetLangs  = "set_langs"
	TypeGetStatus = "get_status"
	TypeStartOver = "start_over"
)

// Gateway message types (gateway → client).
const (
	TypeStatus       = "status"
	TypeRealtime     = "realtime"
	TypeUtteranceEnd = "utterance_end"
	TypeError        = "error"
)

// ControlMessage is a JSON text frame sent by the client.
type ControlMessage struct {
	Type           string `json:"type"`
	SourceLanguage string `json:"source_language,omitempty"`
	TargetLanguage string `json:"target_language,omitempty"`
}

// StatusMessage reports the session's language configuration to the client.
type StatusMessage struct {
	Type               string `json:"type"`
	ClientID           string `json:"client_id"`
	SourceLanguage     string `json:"source_language"`
	TargetLanguage     string `json:"target_language"`
	TranslationEnabled bool   `json:"translation_enabled"`
}

// RealtimeMessage carries one forwarded result to the client.
type RealtimeMessage struct {
	Type           string  `json:"type"`
	Text           string  `json:"text"`
	Translation    string  `json:"translation"`
	SegmentID      string  `json:"segment_id"`
	ProcessingTime float64 `json:"processing_time"`
}

// UtteranceEndMessage signals that a completed utterance's terminal result
// has been delivered.
type UtteranceEndMessage struct {
	Type     string `json:"type"`
	ClientID string `json:"client_id"`
}

// ErrorMessage reports a fatal per-connection error to the client.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// AudioMetadata is the JSON header of a binary audio frame.
type AudioMetadata struct {
	SampleRate    int `json:"sampleRate"`
	Channels      int `json:"channels,omitempty"`
	BitsPerSample int `json:"bitsPerSample,omitempty"`
}

// audioHeaderLen is the size of the little-endian metadata-length prefix.
const audioHeaderLen = 4

// ParseAudioFrame splits a binary frame into its metadata header and raw PCM
// payload. The layout is [u32 LE metadata length][UTF-8 JSON metadata][PCM].
func ParseAudioFrame(frame []byte) (AudioMetadata, []byte, error) {
	var meta AudioMetadata
	if len(frame) < audioHeaderLen {
		return meta, nil, fmt.Errorf("protocol: audio frame too short: %d bytes", len(frame))
	}

	metaLen := int(binary.LittleEndian.Uint32(frame))
	if metaLen < 0 || audioHeaderLen+metaLen > len(frame) {
		return meta, nil, fmt.Errorf("protocol: audio frame metadata length %d exceeds frame size %d", metaLen, len(frame))
	}

	if err := json.Unmarshal(frame[audioHeaderLen:audioHeaderLen+metaLen], &meta); err != nil {
		return meta, nil, fmt.Errorf("protocol: decode audio metadata: %w", err)
	}
	if meta.SampleRate <= 0 {
		return meta, nil, fmt.Errorf("protocol: audio metadata has no valid sampleRate")
	}

	return meta, frame[audioHeaderLen+metaLen:], nil
}

// EncodeAudioFrame builds a binary audio frame. Used by client-side tooling
// and tests.
func EncodeAudioFrame(meta AudioMetadata, pcm []byte) ([]byte, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode audio metadata: %w", err)
	}

	frame := make([]byte, audioHeaderLen+len(metaJSON)+len(pcm))
	binary.LittleEndian.PutUint32(frame, uint32(len(metaJSON)))
	copy(frame[audioHeaderLen:], metaJSON)
	copy(frame[audioHeaderLen+len(metaJSON):], pcm)
	return frame, nil
}
