//go:build !vad

package vad

import "fmt"

// SileroConfig holds configuration for the Silero VAD classifier.
type SileroConfig struct {
	ModelPath       string
	SampleRate      int
	Threshold       float32
	MinSilenceDurMs int
}

// SileroClassifier is a stub when built without the 'vad' tag.
type SileroClassifier struct{}

// NewSileroClassifier returns an error indicating Silero support is not
// built in.
func NewSileroClassifier(config SileroConfig) (*SileroClassifier, error) {
	return nil, fmt.Errorf("vad: silero support is not enabled; rebuild with '-tags vad' and ensure ONNX Runtime is installed")
}

func (c *SileroClassifier) Classify(window []byte) (bool, float32) { return false, 0 }

func (c *SileroClassifier) Reset() {}

func (c *SileroClassifier) Close() error { return nil }

// SileroAvailable reports whether the Silero classifier can be constructed
// in this build.
func SileroAvailable() bool { return false }
