// Package vad implements dual voice-activity detection for the gateway
// ingest path.
//
// Two independent models are consulted for every audio chunk: a fast coarse
// classifier operating on 10 ms frames and a slower precise scorer operating
// on 512-sample windows. A chunk is reported as speech only when both agree.
package vad

import (
	"context"
	"fmt"
	"sync"
)

// Detection geometry for 16 kHz mono PCM16 input.
const (
	// CoarseFrameSamples is the frame size for the coarse classifier:
	// 10 ms at 16 kHz.
	CoarseFrameSamples = 160
	// coarseFrameBytes is the coarse frame size in bytes.
	coarseFrameBytes = CoarseFrameSamples * 2

	// PreciseWindowSamples is the window size expected by the precise scorer.
	PreciseWindowSamples = 512
	// preciseWindowHop is the half-overlap step between precise windows.
	preciseWindowHop = PreciseWindowSamples / 2

	// pcmMaxAmplitude is the maximum amplitude for 16-bit signed audio.
	pcmMaxAmplitude = 32768.0
)

// FrameClassifier is the coarse model interface: it classifies one fixed-size
// 10 ms PCM16 frame as speech or non-speech.
type FrameClassifier interface {
	// IsSpeechFrame reports whether the 160-sample frame contains speech.
	IsSpeechFrame(frame []byte) (bool, error)
}

// WindowScorer is the precise model interface: it scores one 512-sample
// window of normalized audio with a speech probability in [0, 1].
type WindowScorer interface {
	// SpeechProbability returns the probability that the window contains
	// speech. The window is normalized to [-1, 1].
	SpeechProbability(window []float32) (float64, error)
}

// Detector combines the coarse and precise models into a single verdict.
type Detector struct {
	coarse  FrameClassifier
	precise WindowScorer

	// threshold is the precise-path decision boundary: probability must
	// exceed 1 - sensitivity to count as speech.
	threshold float64
}

// NewDetector builds a dual detector from the two models. sensitivity tunes
// the precise path (0.0-1.0, higher = more sensitive).
func NewDetector(coarse FrameClassifier, precise WindowScorer, sensitivity float64) (*Detector, error) {
	if coarse == nil || precise == nil {
		return nil, fmt.Errorf("vad: both models are required")
	}
	if sensitivity < 0 || sensitivity > 1 {
		return nil, fmt.Errorf("vad: sensitivity must be between 0.0 and 1.0, got %g", sensitivity)
	}
	return &Detector{
		coarse:    coarse,
		precise:   precise,
		threshold: 1 - sensitivity,
	}, nil
}

// DetectSpeech classifies a PCM16 chunk (16 kHz mono). It returns true only
// when both models report speech. The precise model runs concurrently with
// the coarse scan; both verdicts are awaited before combining, so a result
// never reflects a prior chunk.
func (d *Detector) DetectSpeech(ctx context.Context, chunk []byte) (bool, error) {
	if len(chunk) == 0 {
		return false, nil
	}

	var (
		wg         sync.WaitGroup
		preciseHit bool
		preciseErr error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		preciseHit, preciseErr = d.detectPrecise(chunk)
	}()

	coarseHit, coarseErr := d.detectCoarse(chunk)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return false, err
	}
	if coarseErr != nil {
		return false, fmt.Errorf("vad: coarse detection: %w", coarseErr)
	}
	if preciseErr != nil {
		return false, fmt.Errorf("vad: precise detection: %w", preciseErr)
	}

	return coarseHit && preciseHit, nil
}

// detectCoarse walks the chunk in 10 ms frames and returns true as soon as
// any frame is classified as speech.
func (d *Detector) detectCoarse(chunk []byte) (bool, error) {
	for i := 0; i+coarseFrameBytes <= len(chunk); i += coarseFrameBytes {
		hit, err := d.coarse.IsSpeechFrame(chunk[i : i+coarseFrameBytes])
		if err != nil {
			return false, err
		}
		if hit {
			return true, nil
		}
	}
	return false, nil
}

// detectPrecise scores the chunk in half-overlapping 512-sample windows and
// compares the maximum probability against the decision boundary. Chunks
// shorter than one window are zero-padded.
func (d *Detector) detectPrecise(chunk []byte) (bool, error) {
	samples := normalize(chunk)

	if len(samples) <= PreciseWindowSamples {
		window := make([]float32, PreciseWindowSamples)
		copy(window, samples)
		prob, err := d.precise.SpeechProbability(window)
		if err != nil {
			return false, err
		}
		return prob > d.threshold, nil
	}

	maxProb := 0.0
	for i := 0; i+PreciseWindowSamples <= len(samples); i += preciseWindowHop {
		prob, err := d.precise.SpeechProbability(samples[i : i+PreciseWindowSamples])
		if err != nil {
			return false, err
		}
		if prob > maxProb {
			maxProb = prob
		}
	}
	return maxProb > d.threshold, nil
}

// normalize decodes PCM16 bytes into float32 samples in [-1, 1].
func normalize(chunk []byte) []float32 {
	n := len(chunk) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(uint16(chunk[i*2]) | uint16(chunk[i*2+1])<<8)
		samples[i] = float32(s) / pcmMaxAmplitude
	}
	return samples
}
