//go:build vad

package vad

import (
	"fmt"
	"log"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/streamtext-ai/streamtext/pkg/audio"
)

// SileroConfig holds configuration for the Silero VAD classifier.
type SileroConfig struct {
	ModelPath       string
	SampleRate      int
	Threshold       float32
	MinSilenceDurMs int
}

// SileroClassifier wraps the Silero VAD ONNX model behind the Classifier
// interface. Only 16 kHz mono input is supported by the model.
type SileroClassifier struct {
	detector  *speech.Detector
	threshold float32
	carry     []float32 // partial frame carried between windows
}

// NewSileroClassifier loads the Silero model from config.ModelPath.
func NewSileroClassifier(config SileroConfig) (*SileroClassifier, error) {
	if config.ModelPath == "" {
		return nil, fmt.Errorf("vad: silero model path is required")
	}
	if config.SampleRate != 16000 {
		return nil, fmt.Errorf("vad: silero supports 16000 Hz only, got %d", config.SampleRate)
	}
	if config.Threshold == 0 {
		config.Threshold = 0.5
	}
	if config.MinSilenceDurMs == 0 {
		config.MinSilenceDurMs = 100
	}

	detector, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            config.ModelPath,
		SampleRate:           config.SampleRate,
		Threshold:            config.Threshold,
		MinSilenceDurationMs: config.MinSilenceDurMs,
	})
	if err != nil {
		return nil, fmt.Errorf("vad: create silero detector: %w", err)
	}

	log.Printf("[SileroVAD] initialized with threshold=%.2f, minSilence=%dms",
		config.Threshold, config.MinSilenceDurMs)

	return &SileroClassifier{detector: detector, threshold: config.Threshold}, nil
}

// Classify runs Silero inference over the window. The window is interpreted
// as float32 PCM; samples are buffered into the 512-sample frames the model
// expects, and the window is voiced when any frame contains speech.
func (c *SileroClassifier) Classify(window []byte) (bool, float32) {
	samples, err := audio.Float32Samples(window)
	if err != nil {
		return false, 0
	}

	c.carry = append(c.carry, samples...)

	const frameSize = 512
	voiced := false
	var best float32
	for len(c.carry) >= frameSize {
		frame := c.carry[:frameSize]
		c.carry = c.carry[frameSize:]

		segments, err := c.detector.Detect(frame)
		if err != nil {
			log.Printf("[SileroVAD] detection error: %v", err)
			continue
		}
		for _, seg := range segments {
			if seg.SpeechStartAt > 0 {
				voiced = true
			}
		}
	}
	if voiced {
		best = c.threshold
	}
	return voiced, best
}

func (c *SileroClassifier) Reset() {
	c.carry = c.carry[:0]
	if c.detector != nil {
		c.detector.Reset()
	}
}

func (c *SileroClassifier) Close() error {
	if c.detector != nil {
		err := c.detector.Destroy()
		c.detector = nil
		return err
	}
	return nil
}

// SileroAvailable reports whether the Silero classifier can be constructed
// in this build.
func SileroAvailable() bool { return true }

var _ Classifier = (*SileroClassifier)(nil)
