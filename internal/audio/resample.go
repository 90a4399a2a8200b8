// Package audio provides PCM16 processing utilities for the ingest path.
package audio

import (
	"encoding/binary"
	"fmt"
)

// PipelineSampleRate is the sample rate every component downstream of ingest
// expects: 16 kHz mono 16-bit PCM.
const PipelineSampleRate = 16000

// bytesPerSample is the size of one 16-bit PCM sample.
const bytesPerSample = 2

// ResamplePCM16 resamples PCM16 audio data from one sample rate to another
// using linear interpolation. Input and output are little-endian 16-bit
// signed PCM samples.
func ResamplePCM16(input []byte, fromRate, toRate int) ([]byte, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates: from=%d, to=%d", fromRate, toRate)
	}

	if fromRate == toRate {
		result := make([]byte, len(input))
		copy(result, input)
		return result, nil
	}

	if len(input)%bytesPerSample != 0 {
		return nil, fmt.Errorf("input length %d is not a multiple of %d bytes per sample", len(input), bytesPerSample)
	}

	numInputSamples := len(input) / bytesPerSample
	if numInputSamples == 0 {
		return []byte{}, nil
	}

	numOutputSamples := int(float64(numInputSamples) * float64(toRate) / float64(fromRate))
	if numOutputSamples == 0 {
		return []byte{}, nil
	}

	// The uint16<->int16 conversions below are intentional: PCM16 uses the
	// full signed range stored as unsigned bytes.
	inputSamples := make([]int16, numInputSamples)
	for i := 0; i < numInputSamples; i++ {
		inputSamples[i] = int16(binary.LittleEndian.Uint16(input[i*bytesPerSample:]))
	}

	outputSamples := make([]int16, numOutputSamples)
	ratio := float64(fromRate) / float64(toRate)

	for i := 0; i < numOutputSamples; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		if srcIdx >= numInputSamples-1 {
			outputSamples[i] = inputSamples[numInputSamples-1]
		} else {
			s0 := float64(inputSamples[srcIdx])
			s1 := float64(inputSamples[srcIdx+1])
			outputSamples[i] = int16(s0 + frac*(s1-s0))
		}
	}

	output := make([]byte, numOutputSamples*bytesPerSample)
	for i := 0; i < numOutputSamples; i++ {
		binary.LittleEndian.PutUint16(output[i*bytesPerSample:], uint16(outputSamples[i]))
	}

	return output, nil
}

// ResampleToPipelineRate converts client audio at an arbitrary source rate to
// the pipeline-internal 16 kHz rate. A source already at 16 kHz is copied
// unchanged.
func ResampleToPipelineRate(input []byte, sourceRate int) ([]byte, error) {
	return ResamplePCM16(input, sourceRate, PipelineSampleRate)
}

// Samples decodes little-endian PCM16 bytes into int16 samples. A trailing
// odd byte is ignored.
func Samples(pcm []byte) []int16 {
	n := len(pcm) / bytesPerSample
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*bytesPerSample:]))
	}
	return samples
}
