// Package recognizer provides a unified interface over speech recognition
// engines and a process-wide registry for selecting one at runtime.
//
// Three back-ends conform to the interface: a streaming transducer decoder
// with partial hypotheses (engine "kaldi-streaming"), a chunked buffering
// recognizer that emits only finals (engine "whisper"), and an
// OpenAI-compatible cloud HTTP recognizer (engine "cloud-http"). Engines
// with native-library prerequisites compile to stubs unless the matching
// build tag ('sherpa', 'whispercpp') is set, and report themselves
// unavailable; the registry's auto selection skips them.
package recognizer

import (
	"context"
	"time"
)

// Result is the outcome of a single ProcessAudio call.
type Result struct {
	// Text is the recognized text; may be empty.
	Text string

	// IsFinal marks a committed utterance. Partial (false) results may be
	// revised by later windows and only occur on engines that support them.
	IsFinal bool

	// Confidence score in [0, 1] when the engine provides one, otherwise 0.
	Confidence float32
}

// Segment is a time-aligned slice of a file transcription.
type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// FileResult is the outcome of transcribing a complete audio file.
type FileResult struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
	Language string    `json:"language"`
}

// Config carries the construction parameters common to all engines.
type Config struct {
	// SampleRate of the session audio in Hz.
	SampleRate int

	// Language code ("vi", "en", ...). Engines map it to their own
	// vocabulary where needed.
	Language string

	// Encoding is the declared wire encoding of inbound chunks, "float32"
	// or "int16". When empty, engines that need int16 fall back to a
	// length/amplitude probe.
	Encoding string

	// PartialResults enables interim hypotheses on engines that have them.
	PartialResults bool

	// ModelSize selects the model variant for local engines ("tiny",
	// "base", "small", "medium", "large").
	ModelSize string
}

// Recognizer converts PCM audio chunks into transcript results.
//
// Instances are owned by exactly one session and are not safe for concurrent
// use; only the owning dispatcher may call ProcessAudio. Chunks must be
// accepted in any supported PCM encoding; conversion to the engine's
// native int16/float32 format is the recognizer's responsibility.
type Recognizer interface {
	// ProcessAudio feeds one audio window to the engine. It may return an
	// empty-text result when the engine has nothing to say yet. Errors are
	// transient: the caller logs them and keeps the recognizer.
	ProcessAudio(chunk []byte) (Result, error)

	// Reset discards in-flight decoding state to force an utterance
	// boundary. The loaded model is kept.
	Reset()

	// IsAvailable reports whether the engine's runtime prerequisites are
	// met and initialization succeeded.
	IsAvailable() bool

	// EngineName returns the stable registry identifier of the engine.
	EngineName() string

	// Close releases engine resources. The recognizer must not be used
	// afterwards.
	Close() error
}

// FileTranscriber is implemented by engines that can transcribe a complete
// audio file in one call. Engines without file-mode support simply do not
// implement it.
type FileTranscriber interface {
	TranscribeFile(ctx context.Context, path string) (FileResult, error)
}

// ErrorCode classifies recognizer errors.
type ErrorCode int

const (
	ErrCodeUnknown ErrorCode = iota
	ErrCodeInvalidConfig
	ErrCodeInvalidAudio
	ErrCodeEngineUnavailable
	ErrCodeNetworkError
	ErrCodeProviderError
	ErrCodeUnsupported
)

// Error is the typed error for recognizer operations.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// defaultCloudTimeout bounds a single cloud recognition request.
const defaultCloudTimeout = 10 * time.Second
