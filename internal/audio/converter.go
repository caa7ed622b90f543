// Package audio decodes, joins and re-encodes the WAV payloads produced by
// speech synthesis backends.
package audio

import (
	"encoding/binary"
	"fmt"
)

// ResamplePCM16 converts interleaved 16-bit little-endian PCM frames from one
// sample rate to another, channel by channel.
func ResamplePCM16(frames []byte, channels, inputRate, outputRate int) ([]byte, error) {
	if channels < 1 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}
	if inputRate < 1 || outputRate < 1 {
		return nil, fmt.Errorf("invalid sample rates %d -> %d", inputRate, outputRate)
	}
	if len(frames)%(2*channels) != 0 {
		return nil, fmt.Errorf("PCM data length must be a multiple of %d bytes", 2*channels)
	}
	if inputRate == outputRate || len(frames) == 0 {
		return frames, nil
	}

	samples := pcm16ToSamples(frames)
	frameCount := len(samples) / channels

	// De-interleave, resample each channel, then interleave again
	var out []int16
	for ch := 0; ch < channels; ch++ {
		mono := make([]int16, frameCount)
		for i := range mono {
			mono[i] = samples[i*channels+ch]
		}
		mono = resample(mono, inputRate, outputRate)
		if out == nil {
			out = make([]int16, len(mono)*channels)
		}
		for i, s := range mono {
			out[i*channels+ch] = s
		}
	}

	return samplesToPCM16(out), nil
}

// resample converts between sample rates by linear interpolation
func resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	outputLength := int(float64(len(samples)) * ratio)
	output := make([]int16, outputLength)

	for i := 0; i < outputLength; i++ {
		// Calculate source position
		srcPos := float64(i) / ratio

		// Linear interpolation
		idx0 := int(srcPos)
		if idx0 >= len(samples) {
			idx0 = len(samples) - 1
		}
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}

		// Interpolate between two samples
		fraction := srcPos - float64(idx0)
		output[i] = int16(float64(samples[idx0])*(1.0-fraction) + float64(samples[idx1])*fraction)
	}

	return output
}

func pcm16ToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

func samplesToPCM16(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}
