package vad

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Energy-model tuning.
const (
	// baseFrameThreshold is the RMS a frame must exceed at the least
	// aggressive setting to count as speech.
	baseFrameThreshold = 0.06
	// thresholdStep is how much each aggressiveness level lowers the
	// frame threshold.
	thresholdStep = 0.015

	// minWindowVolume is the RMS floor below which a window is silence.
	minWindowVolume = 0.01
	// maxExpectedRMS is the expected maximum RMS for voice audio; windows
	// at or above it score probability 1.
	maxExpectedRMS = 0.5
)

// EnergyFrameClassifier is an RMS-based coarse model. It stands in for a
// dedicated frame-level VAD while matching its interface: fixed 10 ms
// frames, an aggressiveness mode from 0 to 3.
type EnergyFrameClassifier struct {
	threshold float64
}

// NewEnergyFrameClassifier creates a coarse classifier with the given
// aggressiveness (0-3, 3 = most aggressive).
func NewEnergyFrameClassifier(aggressiveness int) (*EnergyFrameClassifier, error) {
	if aggressiveness < 0 || aggressiveness > 3 {
		return nil, fmt.Errorf("vad: aggressiveness must be between 0 and 3, got %d", aggressiveness)
	}
	return &EnergyFrameClassifier{
		threshold: baseFrameThreshold - float64(aggressiveness)*thresholdStep,
	}, nil
}

// IsSpeechFrame reports whether the frame's RMS exceeds the mode threshold.
func (c *EnergyFrameClassifier) IsSpeechFrame(frame []byte) (bool, error) {
	if len(frame) != coarseFrameBytes {
		return false, fmt.Errorf("vad: frame must be %d bytes, got %d", coarseFrameBytes, len(frame))
	}
	return frameRMS(frame) > c.threshold, nil
}

// frameRMS computes the Root Mean Square of PCM16 samples, normalized to
// [0, 1].
func frameRMS(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sumSquares float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(frame[i*2:]))
		norm := float64(s) / pcmMaxAmplitude
		sumSquares += norm * norm
	}
	return math.Sqrt(sumSquares / float64(n))
}

// EnergyWindowScorer is an RMS-based precise model. It maps window energy to
// a speech probability the way a trained model would report one.
type EnergyWindowScorer struct{}

// NewEnergyWindowScorer creates a precise scorer.
func NewEnergyWindowScorer() *EnergyWindowScorer {
	return &EnergyWindowScorer{}
}

// SpeechProbability scales window RMS into [0, 1] with a silence floor.
func (s *EnergyWindowScorer) SpeechProbability(window []float32) (float64, error) {
	if len(window) != PreciseWindowSamples {
		return 0, fmt.Errorf("vad: window must be %d samples, got %d", PreciseWindowSamples, len(window))
	}

	var sumSquares float64
	for _, v := range window {
		sumSquares += float64(v) * float64(v)
	}
	rms := math.Sqrt(sumSquares / float64(len(window)))

	if rms <= minWindowVolume {
		return 0, nil
	}
	prob := (rms - minWindowVolume) / (maxExpectedRMS - minWindowVolume)
	if prob > 1 {
		prob = 1
	}
	return prob, nil
}
