// Package vad provides voice-activity classification for audio windows.
//
// The default classifier is a pure RMS-energy threshold, which is what the
// streaming dispatcher uses to segment utterances. An optional Silero VAD
// classifier is available when built with the 'vad' tag and an ONNX-capable
// toolchain; it is a drop-in replacement selected via session configuration.
package vad

import (
	"github.com/streamtext-ai/streamtext/pkg/audio"
)

// Classifier decides whether a PCM window contains speech.
// Implementations need not be safe for concurrent use; each session owns its
// classifier the same way it owns its recognizer.
type Classifier interface {
	// Classify inspects a float32 PCM window and reports whether it is
	// voiced, along with a score. For the RMS classifier the score is the
	// window energy; for model-based classifiers it is a probability.
	Classify(window []byte) (voiced bool, score float32)

	// Reset clears any internal state carried across windows.
	Reset()

	// Close releases classifier resources.
	Close() error
}

// RMSClassifier classifies windows by comparing RMS energy to a fixed
// threshold. It is stateless.
type RMSClassifier struct {
	Threshold float32
}

// NewRMSClassifier creates an RMS threshold classifier.
func NewRMSClassifier(threshold float32) *RMSClassifier {
	return &RMSClassifier{Threshold: threshold}
}

func (c *RMSClassifier) Classify(window []byte) (bool, float32) {
	return audio.DetectVoiceActivity(window, c.Threshold)
}

func (c *RMSClassifier) Reset() {}

func (c *RMSClassifier) Close() error { return nil }

var _ Classifier = (*RMSClassifier)(nil)
