package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_NextSegmentIDStrictlyIncreasing(t *testing.T) {
	r := NewRegistry()
	r.Register(testClientID)

	now := time.UnixMilli(1756200000000)
	first := r.nextSegmentID(testClientID, now)
	second := r.nextSegmentID(testClientID, now)
	third := r.nextSegmentID(testClientID, now)

	// Same millisecond: the clock value once, then bumped past it.
	assert.Equal(t, int64(1756200000000), first)
	assert.Equal(t, int64(1756200000001), second)
	assert.Equal(t, int64(1756200000002), third)

	// Once the clock moves ahead it wins again.
	later := r.nextSegmentID(testClientID, now.Add(time.Second))
	assert.Equal(t, int64(1756200001000), later)
}

func TestRegistry_ResetFlowSeedsAllocator(t *testing.T) {
	r := NewRegistry()
	r.Register(testClientID)
	r.setInFlight(testClientID, true)

	r.ResetFlow(testClientID)
	assert.False(t, r.InFlight(testClientID))

	watermark := r.LatestSegmentSent(testClientID)
	// A job published in the same millisecond as the reset must still sort
	// above the watermark, or its result is suppressed as stale.
	seg := r.nextSegmentID(testClientID, time.UnixMilli(watermark))
	assert.Greater(t, seg, watermark)
}

func TestRegistry_UnknownClientSegmentID(t *testing.T) {
	r := NewRegistry()
	now := time.UnixMilli(1756200000000)
	assert.Equal(t, int64(1756200000000), r.nextSegmentID("ghost", now))
}
