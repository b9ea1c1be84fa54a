//go:build !sherpa

package recognizer

// Streaming decoder stub for builds without the 'sherpa' tag. The engine
// registers but always probes unavailable.

func streamingDecoderAvailable() bool { return false }

func newStreamingDecoder(cfg Config) (Decoder, error) {
	return nil, &Error{
		Code:    ErrCodeEngineUnavailable,
		Message: "streaming decoder support is not enabled; rebuild with '-tags sherpa'",
	}
}
