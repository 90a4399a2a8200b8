// Package protocol defines the wire formats shared by the gateway, the
// workers, and connected clients.
//
// Three surfaces are covered:
//   - Redis stream rows (job and transcription envelopes): every value is a
//     string, audio travels base64-encoded, booleans are "true"/"false".
//   - The per-client result pub/sub channel: UTF-8 JSON result envelopes.
//   - The client WebSocket: binary audio frames with a JSON metadata header
//     and JSON control/status messages.
package protocol

import (
	"strconv"
	"strings"
)

// ParseBool interprets the boolean encodings that appear on stream rows and
// in result envelopes. It accepts "true", "1", "yes", and "on" in any case;
// everything else is false.
func ParseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}

// FormatBool renders a boolean the way stream rows carry it.
func FormatBool(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

// stringValue extracts a string field from a Redis stream row's values.
func stringValue(values map[string]interface{}, key string) string {
	v, ok := values[key]
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return ""
	}
}

// intValue extracts an integer field, returning 0 when absent or malformed.
func intValue(values map[string]interface{}, key string) int64 {
	n, err := strconv.ParseInt(stringValue(values, key), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// floatValue extracts a float field, returning 0 when absent or malformed.
func floatValue(values map[string]interface{}, key string) float64 {
	f, err := strconv.ParseFloat(stringValue(values, key), 64)
	if err != nil {
		return 0
	}
	return f
}
