package recognizer

import (
	"encoding/binary"
	"math"

	"github.com/streamtext-ai/streamtext/pkg/audio"
)

// Wire encodings accepted in session metadata.
const (
	EncodingFloat32 = "float32"
	EncodingInt16   = "int16"
)

// BytesPerSample returns the sample width for a wire encoding. Unknown
// encodings default to float32 width, matching the default session format.
func BytesPerSample(encoding string) int {
	if encoding == EncodingInt16 {
		return audio.BytesPerInt16
	}
	return audio.BytesPerFloat32
}

// ensureInt16 converts a chunk to int16 PCM for engines that require it.
// The declared encoding wins when present; otherwise the chunk is probed.
func ensureInt16(chunk []byte, declared string) ([]byte, error) {
	switch declared {
	case EncodingInt16:
		return chunk, nil
	case EncodingFloat32:
		return audio.Float32ToInt16(chunk)
	}
	if looksLikeInt16(chunk) {
		return chunk, nil
	}
	return audio.Float32ToInt16(chunk)
}

// ensureFloat32 converts a chunk to float32 samples for engines that
// require them, using the declared encoding when present.
func ensureFloat32(chunk []byte, declared string) ([]float32, error) {
	switch declared {
	case EncodingInt16:
		return int16ToFloat32Samples(chunk)
	case EncodingFloat32:
		return audio.Float32Samples(chunk)
	}
	if looksLikeInt16(chunk) {
		return int16ToFloat32Samples(chunk)
	}
	return audio.Float32Samples(chunk)
}

func int16ToFloat32Samples(chunk []byte) ([]float32, error) {
	ints, err := audio.Int16Samples(chunk)
	if err != nil {
		return nil, err
	}
	samples := make([]float32, len(ints))
	for i, s := range ints {
		samples[i] = float32(s) / 32767.0
	}
	return samples, nil
}

// looksLikeInt16 guesses the encoding of an undeclared chunk. Float32 chunks
// are always 4-byte aligned, and valid float32 speech samples stay within
// [-1, 1]; int16 speech with any signal quickly exceeds that magnitude when
// misread as float32. The probe inspects a small head window only.
func looksLikeInt16(chunk []byte) bool {
	if len(chunk)%audio.BytesPerFloat32 != 0 {
		return len(chunk)%audio.BytesPerInt16 == 0
	}

	n := len(chunk) / audio.BytesPerFloat32
	if n > 64 {
		n = 64
	}
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(chunk[i*4 : i*4+4])
		f := math.Float32frombits(bits)
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) || f > 1.0 || f < -1.0 {
			return true
		}
	}
	return false
}
