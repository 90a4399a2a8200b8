// Package gateway implements the WebSocket ingest service: per-client speech
// session handling, dual-VAD driven state transitions, job dispatch to the
// worker pool, and result routing back to the client.
package gateway

import (
	"sync"
	"time"
)

// flowState is the in-memory, per-connection flow control record. It is never
// persisted: it dies with the WebSocket.
type flowState struct {
	// dispatchMu serializes publish decisions for this client. It is held
	// across the whole eligibility check and stream append so the ingest
	// path and the router's catch-up path cannot both dispatch at once.
	dispatchMu sync.Mutex

	inFlight          bool
	latestSegmentSent int64
	lastSegmentID     int64
}

// Registry tracks the clients connected to this gateway instance and their
// flow state. Scalar reads and writes go through the registry mutex; nothing
// blocking happens while it is held.
type Registry struct {
	mu      sync.Mutex
	clients map[string]*flowState
}

// NewRegistry creates an empty client registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*flowState)}
}

// Register adds a newly connected client.
func (r *Registry) Register(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[clientID] = &flowState{}
}

// Unregister drops a disconnected client.
func (r *Registry) Unregister(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, clientID)
}

// Count returns the number of connected clients.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// flow returns the client's flow state, or nil if it is not connected.
func (r *Registry) flow(clientID string) *flowState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clients[clientID]
}

// InFlight reports whether the client has an outstanding job.
func (r *Registry) InFlight(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	fs, ok := r.clients[clientID]
	return ok && fs.inFlight
}

// setInFlight sets the client's in-flight flag.
func (r *Registry) setInFlight(clientID string, v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fs, ok := r.clients[clientID]; ok {
		fs.inFlight = v
	}
}

// clearInFlight clears the in-flight flag, reporting whether it was set.
func (r *Registry) clearInFlight(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	fs, ok := r.clients[clientID]
	if !ok || !fs.inFlight {
		return false
	}
	fs.inFlight = false
	return true
}

// LatestSegmentSent returns the highest segment ID already forwarded to the
// client.
func (r *Registry) LatestSegmentSent(clientID string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	fs, ok := r.clients[clientID]
	if !ok {
		return 0
	}
	return fs.latestSegmentSent
}

// advanceSegment records seg as forwarded if it is newer than the current
// watermark, reporting whether it advanced.
func (r *Registry) advanceSegment(clientID string, seg int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	fs, ok := r.clients[clientID]
	if !ok || seg <= fs.latestSegmentSent {
		return false
	}
	fs.latestSegmentSent = seg
	return true
}

// nextSegmentID allocates the client's next segment ID: wall-clock
// milliseconds, bumped past the previous ID when two publishes land in the
// same millisecond. Segment IDs are strictly increasing per client; the
// router's freshness check depends on it.
func (r *Registry) nextSegmentID(clientID string, now time.Time) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := now.UnixMilli()
	fs, ok := r.clients[clientID]
	if !ok {
		return id
	}
	if id <= fs.lastSegmentID {
		id = fs.lastSegmentID + 1
	}
	fs.lastSegmentID = id
	return id
}

// ResetFlow clears the in-flight flag and moves the segment watermark to the
// current wall clock. Segment IDs are publish-time milliseconds, so any result
// from a job dispatched before the reset is treated as stale. The allocator is
// seeded with the watermark so the first post-reset job sorts above it even
// inside the same millisecond.
func (r *Registry) ResetFlow(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fs, ok := r.clients[clientID]; ok {
		fs.inFlight = false
		fs.latestSegmentSent = time.Now().UnixMilli()
		if fs.lastSegmentID < fs.latestSegmentSent {
			fs.lastSegmentID = fs.latestSegmentSent
		}
	}
}
