package recognizer

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// pcmToWAV wraps raw int16 PCM in a minimal RIFF/WAVE envelope so it can be
// submitted to file-oriented transcription APIs.
func pcmToWAV(pcm []byte, sampleRate, channels, bitsPerSample int) ([]byte, error) {
	var buf bytes.Buffer

	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	// RIFF chunk
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	// fmt sub-chunk (PCM)
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))

	// data sub-chunk
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	buf.Write(pcm)

	return buf.Bytes(), nil
}

// wavInfo describes the PCM payload extracted from a WAV container.
type wavInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	Data          []byte
}

// parseWAV extracts the raw PCM payload from a RIFF/WAVE container. Only
// uncompressed PCM (format 1) is supported; that covers the uploads the
// transcription endpoint accepts.
func parseWAV(raw []byte) (wavInfo, error) {
	var info wavInfo

	if len(raw) < 12 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return info, fmt.Errorf("not a RIFF/WAVE file")
	}

	pos := 12
	haveFmt := false
	for pos+8 <= len(raw) {
		chunkID := string(raw[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(raw[pos+4 : pos+8]))
		body := pos + 8
		if body+chunkSize > len(raw) {
			chunkSize = len(raw) - body
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return info, fmt.Errorf("malformed fmt chunk")
			}
			format := binary.LittleEndian.Uint16(raw[body : body+2])
			if format != 1 {
				return info, fmt.Errorf("unsupported WAV format %d, only PCM is supported", format)
			}
			info.Channels = int(binary.LittleEndian.Uint16(raw[body+2 : body+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(raw[body+4 : body+8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(raw[body+14 : body+16]))
			haveFmt = true
		case "data":
			info.Data = raw[body : body+chunkSize]
		}

		// chunks are word-aligned
		pos = body + chunkSize
		if chunkSize%2 == 1 {
			pos++
		}
	}

	if !haveFmt || info.Data == nil {
		return info, fmt.Errorf("missing fmt or data chunk")
	}
	return info, nil
}

// wavToFloat32 decodes a PCM WAV file into mono float32 samples in [-1, 1],
// averaging channels when the source is multi-channel.
func wavToFloat32(raw []byte) ([]float32, int, error) {
	info, err := parseWAV(raw)
	if err != nil {
		return nil, 0, err
	}
	if info.BitsPerSample != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth %d, only 16-bit PCM is supported", info.BitsPerSample)
	}
	if info.Channels < 1 {
		return nil, 0, fmt.Errorf("invalid channel count %d", info.Channels)
	}

	frameBytes := 2 * info.Channels
	frames := len(info.Data) / frameBytes
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < info.Channels; ch++ {
			off := i*frameBytes + ch*2
			s := int16(binary.LittleEndian.Uint16(info.Data[off : off+2]))
			sum += float32(s) / 32768.0
		}
		samples[i] = sum / float32(info.Channels)
	}
	return samples, info.SampleRate, nil
}
