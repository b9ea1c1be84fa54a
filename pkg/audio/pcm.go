// Package audio provides PCM processing utilities for the streaming
// transcription core.
//
// All functions operate on raw little-endian PCM bytes as they arrive from
// the wire: float32 samples in [-1, 1] or signed 16-bit integers. The
// conversion helpers are pure and allocation-bounded; voice-activity
// detection is a plain RMS threshold over the float32 interpretation of a
// window.
package audio

import (
	"encoding/binary"
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ErrUnalignedInput reports that a byte buffer is not a whole number of
// samples for the requested format. Callers treat it as a warning: the
// conversion helpers return the input unchanged alongside this error.
var ErrUnalignedInput = errors.New("audio: input length is not a multiple of the sample size")

const (
	// BytesPerFloat32 is the wire size of one float32 sample.
	BytesPerFloat32 = 4
	// BytesPerInt16 is the wire size of one int16 sample.
	BytesPerInt16 = 2

	int16Scale = 32767
)

// Float32ToInt16 converts packed little-endian float32 samples to packed
// little-endian int16. Samples are clamped to [-1, 1] and scaled by 32767
// with round-to-nearest. If the input length is not a multiple of 4 the
// input is returned unchanged together with ErrUnalignedInput.
func Float32ToInt16(data []byte) ([]byte, error) {
	if len(data)%BytesPerFloat32 != 0 {
		return data, ErrUnalignedInput
	}

	out := make([]byte, len(data)/2)
	for i := 0; i < len(data); i += BytesPerFloat32 {
		f := math.Float32frombits(binary.LittleEndian.Uint32(data[i : i+4]))
		if f > 1 {
			f = 1
		} else if f < -1 {
			f = -1
		}
		s := int16(math.Round(float64(f) * int16Scale))
		binary.LittleEndian.PutUint16(out[i/2:i/2+2], uint16(s))
	}
	return out, nil
}

// Int16ToFloat32 converts packed little-endian int16 samples to packed
// little-endian float32 by dividing by 32767. If the input length is odd
// the input is returned unchanged together with ErrUnalignedInput.
func Int16ToFloat32(data []byte) ([]byte, error) {
	if len(data)%BytesPerInt16 != 0 {
		return data, ErrUnalignedInput
	}

	out := make([]byte, len(data)*2)
	for i := 0; i < len(data); i += BytesPerInt16 {
		s := int16(binary.LittleEndian.Uint16(data[i : i+2]))
		f := float32(s) / int16Scale
		binary.LittleEndian.PutUint32(out[i*2:i*2+4], math.Float32bits(f))
	}
	return out, nil
}

// Float32Samples decodes packed little-endian float32 bytes into a sample
// slice. Returns ErrUnalignedInput when the length is not a multiple of 4.
func Float32Samples(data []byte) ([]float32, error) {
	if len(data)%BytesPerFloat32 != 0 {
		return nil, ErrUnalignedInput
	}

	samples := make([]float32, len(data)/BytesPerFloat32)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4 : i*4+4]))
	}
	return samples, nil
}

// Int16Samples decodes packed little-endian int16 bytes into a sample slice.
// Returns ErrUnalignedInput when the length is odd.
func Int16Samples(data []byte) ([]int16, error) {
	if len(data)%BytesPerInt16 != 0 {
		return nil, ErrUnalignedInput
	}

	samples := make([]int16, len(data)/BytesPerInt16)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
	}
	return samples, nil
}

// RMSEnergy computes the root-mean-square energy of a sample window.
// Returns 0 for an empty window.
func RMSEnergy(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}

	buf := make([]float64, len(samples))
	for i, s := range samples {
		buf[i] = float64(s)
	}
	meanSquare := floats.Dot(buf, buf) / float64(len(buf))
	return float32(math.Sqrt(meanSquare))
}

// DetectVoiceActivity classifies a float32 PCM window as voiced or silent by
// comparing its RMS energy against threshold. It returns the classification
// and the measured energy. Malformed input classifies as silence with zero
// energy.
func DetectVoiceActivity(data []byte, threshold float32) (bool, float32) {
	samples, err := Float32Samples(data)
	if err != nil {
		return false, 0
	}

	rms := RMSEnergy(samples)
	return rms > threshold, rms
}

// Duration returns the playback duration in seconds of a PCM byte count at
// the given sample rate and sample width.
func Duration(byteCount, sampleRate, bytesPerSample int) float64 {
	if sampleRate <= 0 || bytesPerSample <= 0 {
		return 0
	}
	return float64(byteCount) / float64(sampleRate*bytesPerSample)
}
