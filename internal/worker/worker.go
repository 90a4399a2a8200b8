// Package worker implements the stream-consuming workers behind the gateway:
// STT workers transcribe dispatched audio jobs and translation workers
// translate the resulting text. Both publish result envelopes on the
// originating client's result channel.
package worker

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// Worker name labels for metrics.
const (
	workerSTT         = "stt"
	workerTranslation = "translation"
)

// ID builds a unique worker identifier with the given role prefix. It doubles
// as the consumer name within the worker's consumer group.
func ID(role string) string {
	host, err := os.Hostname()
	if err != nil {
		host = role
	}
	return fmt.Sprintf("%s-%s-%s", role, host, uuid.NewString()[:8])
}
