package recognizer

import (
	"context"
	"os"
	"time"
)

// ChunkModel is the inference engine a ChunkedRecognizer buffers audio for.
// The production model is whisper.cpp behind the 'whispercpp' build tag.
type ChunkModel interface {
	// Transcribe runs one inference over a complete float32 sample buffer
	// and returns the recognized text.
	Transcribe(samples []float32, language string) (string, error)

	// TranscribeSegments runs one inference and returns time-aligned
	// segments, used for file transcription.
	TranscribeSegments(samples []float32, language string) ([]Segment, error)

	Close() error
}

// Chunked accumulation thresholds, in seconds. A buffer of at least
// minChunkSeconds triggers inference immediately; a smaller remainder above
// flushFloorSeconds is flushed once maxEmitGapSeconds have passed since the
// last inference, so trailing speech is not held forever.
const (
	minChunkSeconds   = 1.0
	flushFloorSeconds = 0.2
	maxEmitGapSeconds = 3.0
)

// ChunkedRecognizer adapts a whole-chunk model to the streaming Recognizer
// interface. Windows are accumulated into a float32 buffer and transcribed
// in batches; every emitted result is final, partial hypotheses are not
// supported by chunk-level inference.
type ChunkedRecognizer struct {
	model      ChunkModel
	sampleRate int
	language   string
	encoding   string

	buf      []float32
	lastEmit time.Time

	now func() time.Time // injectable for tests
}

// NewChunkedRecognizer wraps model. Ownership of model transfers to the
// recognizer; Close closes it.
func NewChunkedRecognizer(model ChunkModel, cfg Config) *ChunkedRecognizer {
	r := &ChunkedRecognizer{
		model:      model,
		sampleRate: cfg.SampleRate,
		language:   cfg.Language,
		encoding:   cfg.Encoding,
		now:        time.Now,
	}
	r.lastEmit = r.now()
	return r
}

func newChunkedFromConfig(cfg Config) (Recognizer, error) {
	model, err := newChunkModel(cfg)
	if err != nil {
		return nil, err
	}
	return NewChunkedRecognizer(model, cfg), nil
}

func (r *ChunkedRecognizer) ProcessAudio(chunk []byte) (Result, error) {
	if len(chunk) > 0 {
		samples, err := ensureFloat32(chunk, r.encoding)
		if err != nil {
			return Result{}, &Error{Code: ErrCodeInvalidAudio, Message: "decode chunk samples", Err: err}
		}
		r.buf = append(r.buf, samples...)
	}

	if !r.shouldTranscribe() {
		return Result{}, nil
	}

	samples := normalizeIfClipped(r.buf)
	r.buf = r.buf[:0]
	r.lastEmit = r.now()

	text, err := r.model.Transcribe(samples, r.language)
	if err != nil {
		return Result{}, &Error{Code: ErrCodeProviderError, Message: "chunk inference failed", Err: err}
	}
	if text == "" {
		return Result{}, nil
	}
	return Result{Text: text, IsFinal: true}, nil
}

// shouldTranscribe applies the accumulation thresholds.
func (r *ChunkedRecognizer) shouldTranscribe() bool {
	seconds := float64(len(r.buf)) / float64(r.sampleRate)
	if seconds >= minChunkSeconds {
		return true
	}
	if seconds > flushFloorSeconds && r.now().Sub(r.lastEmit).Seconds() > maxEmitGapSeconds {
		return true
	}
	return false
}

// normalizeIfClipped rescales samples into [-1, 1] only when the buffer
// actually exceeds full scale; correctly-scaled audio passes through
// untouched so quiet speech is not amplified.
func normalizeIfClipped(samples []float32) []float32 {
	var peak float32
	for _, s := range samples {
		if s > peak {
			peak = s
		} else if -s > peak {
			peak = -s
		}
	}
	if peak <= 1.0 {
		return samples
	}

	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = s / peak
	}
	return out
}

func (r *ChunkedRecognizer) Reset() {
	r.buf = r.buf[:0]
	r.lastEmit = r.now()
}

func (r *ChunkedRecognizer) IsAvailable() bool { return r.model != nil }

func (r *ChunkedRecognizer) EngineName() string { return EngineWhisper }

func (r *ChunkedRecognizer) Close() error {
	if r.model == nil {
		return nil
	}
	err := r.model.Close()
	r.model = nil
	return err
}

// TranscribeFile decodes a PCM WAV file and runs a single inference over
// the whole recording.
func (r *ChunkedRecognizer) TranscribeFile(ctx context.Context, path string) (FileResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileResult{}, &Error{Code: ErrCodeInvalidAudio, Message: "read audio file", Err: err}
	}

	samples, _, err := wavToFloat32(raw)
	if err != nil {
		return FileResult{}, &Error{Code: ErrCodeInvalidAudio, Message: "decode audio file", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return FileResult{}, err
	}

	segments, err := r.model.TranscribeSegments(normalizeIfClipped(samples), r.language)
	if err != nil {
		return FileResult{}, &Error{Code: ErrCodeProviderError, Message: "file inference failed", Err: err}
	}

	var text string
	for i, seg := range segments {
		if i > 0 {
			text += " "
		}
		text += seg.Text
	}
	return FileResult{Text: text, Segments: segments, Language: r.language}, nil
}

var (
	_ Recognizer      = (*ChunkedRecognizer)(nil)
	_ FileTranscriber = (*ChunkedRecognizer)(nil)
)
