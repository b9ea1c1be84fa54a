package recognizer

import (
	"log"
)

// Decoder is the low-level streaming decoder a StreamingRecognizer drives.
// Implementations wrap an online transducer/FST model; the production
// decoder is built from sherpa-onnx behind the 'sherpa' build tag.
type Decoder interface {
	// Accept feeds int16 little-endian PCM and reports whether the decoder
	// reached an utterance endpoint.
	Accept(pcm []byte) (endpoint bool, err error)

	// Result returns the committed text at an endpoint and starts a new
	// utterance inside the decoder.
	Result() string

	// Partial returns the current in-progress hypothesis.
	Partial() string

	// Reset abandons the current utterance.
	Reset()

	Close() error
}

// StreamingRecognizer adapts a streaming Decoder to the Recognizer
// interface: it feeds windows as they arrive, surfaces interim hypotheses
// when partial results are enabled, and commits a final when the decoder
// signals an endpoint.
type StreamingRecognizer struct {
	dec         Decoder
	encoding    string
	partials    bool
	lastPartial string
}

// NewStreamingRecognizer wraps dec. Ownership of dec transfers to the
// recognizer; Close closes it.
func NewStreamingRecognizer(dec Decoder, cfg Config) *StreamingRecognizer {
	return &StreamingRecognizer{
		dec:      dec,
		encoding: cfg.Encoding,
		partials: cfg.PartialResults,
	}
}

func newStreamingFromConfig(cfg Config) (Recognizer, error) {
	dec, err := newStreamingDecoder(cfg)
	if err != nil {
		return nil, err
	}
	return NewStreamingRecognizer(dec, cfg), nil
}

func (r *StreamingRecognizer) ProcessAudio(chunk []byte) (Result, error) {
	if len(chunk) == 0 {
		return Result{}, nil
	}

	pcm, err := ensureInt16(chunk, r.encoding)
	if err != nil {
		return Result{}, &Error{Code: ErrCodeInvalidAudio, Message: "convert chunk to int16", Err: err}
	}

	endpoint, err := r.dec.Accept(pcm)
	if err != nil {
		return Result{}, &Error{Code: ErrCodeProviderError, Message: "decoder rejected audio", Err: err}
	}

	if endpoint {
		text := r.dec.Result()
		r.lastPartial = ""
		if text == "" {
			return Result{}, nil
		}
		return Result{Text: text, IsFinal: true}, nil
	}

	if !r.partials {
		return Result{}, nil
	}

	partial := r.dec.Partial()
	if partial == "" || partial == r.lastPartial {
		return Result{}, nil
	}
	r.lastPartial = partial
	return Result{Text: partial, IsFinal: false}, nil
}

func (r *StreamingRecognizer) Reset() {
	r.lastPartial = ""
	r.dec.Reset()
}

func (r *StreamingRecognizer) IsAvailable() bool { return r.dec != nil }

func (r *StreamingRecognizer) EngineName() string { return EngineKaldiStreaming }

func (r *StreamingRecognizer) Close() error {
	if r.dec == nil {
		return nil
	}
	err := r.dec.Close()
	r.dec = nil
	if err != nil {
		log.Printf("[KaldiStreaming] decoder close: %v", err)
	}
	return err
}

var _ Recognizer = (*StreamingRecognizer)(nil)
