//go:build sherpa

package recognizer

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"
)

// sherpaModelDir resolves the directory holding the online transducer model
// (encoder.onnx, decoder.onnx, joiner.onnx, tokens.txt).
func sherpaModelDir() string {
	if dir := os.Getenv("STREAMTEXT_KALDI_MODEL_DIR"); dir != "" {
		return dir
	}
	return "models/kaldi-streaming"
}

func streamingDecoderAvailable() bool {
	_, err := os.Stat(filepath.Join(sherpaModelDir(), "tokens.txt"))
	return err == nil
}

// sherpaDecoder drives a sherpa-onnx online recognizer stream.
type sherpaDecoder struct {
	rec        *sherpa.OnlineRecognizer
	stream     *sherpa.OnlineStream
	sampleRate int
}

func newStreamingDecoder(cfg Config) (Decoder, error) {
	dir := sherpaModelDir()
	for _, f := range []string{"encoder.onnx", "decoder.onnx", "joiner.onnx", "tokens.txt"} {
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			return nil, &Error{
				Code:    ErrCodeEngineUnavailable,
				Message: fmt.Sprintf("streaming model file missing: %s", filepath.Join(dir, f)),
				Err:     err,
			}
		}
	}

	conf := sherpa.OnlineRecognizerConfig{}
	conf.FeatConfig = sherpa.FeatureConfig{SampleRate: cfg.SampleRate, FeatureDim: 80}
	conf.ModelConfig = sherpa.OnlineModelConfig{
		Transducer: sherpa.OnlineTransducerModelConfig{
			Encoder: filepath.Join(dir, "encoder.onnx"),
			Decoder: filepath.Join(dir, "decoder.onnx"),
			Joiner:  filepath.Join(dir, "joiner.onnx"),
		},
		Tokens:     filepath.Join(dir, "tokens.txt"),
		NumThreads: 2,
		Provider:   "cpu",
	}
	conf.DecodingMethod = "greedy_search"
	conf.EnableEndpoint = 1
	conf.Rule1MinTrailingSilence = 2.4
	conf.Rule2MinTrailingSilence = 1.2
	conf.Rule3MinUtteranceLength = 20

	rec := sherpa.NewOnlineRecognizer(&conf)
	if rec == nil {
		return nil, &Error{Code: ErrCodeEngineUnavailable, Message: "failed to create online recognizer"}
	}
	stream := sherpa.NewOnlineStream(rec)
	if stream == nil {
		sherpa.DeleteOnlineRecognizer(rec)
		return nil, &Error{Code: ErrCodeEngineUnavailable, Message: "failed to create online stream"}
	}

	log.Printf("[KaldiStreaming] transducer loaded from %s (rate=%d)", dir, cfg.SampleRate)
	return &sherpaDecoder{rec: rec, stream: stream, sampleRate: cfg.SampleRate}, nil
}

func (d *sherpaDecoder) Accept(pcm []byte) (bool, error) {
	samples, err := int16ToFloat32Samples(pcm)
	if err != nil {
		return false, err
	}

	d.stream.AcceptWaveform(d.sampleRate, samples)
	for d.rec.IsReady(d.stream) {
		d.rec.Decode(d.stream)
	}
	return d.rec.IsEndpoint(d.stream), nil
}

func (d *sherpaDecoder) Result() string {
	text := d.rec.GetResult(d.stream).Text
	d.rec.Reset(d.stream)
	return text
}

func (d *sherpaDecoder) Partial() string {
	return d.rec.GetResult(d.stream).Text
}

func (d *sherpaDecoder) Reset() {
	d.rec.Reset(d.stream)
}

func (d *sherpaDecoder) Close() error {
	if d.stream != nil {
		sherpa.DeleteOnlineStream(d.stream)
		d.stream = nil
	}
	if d.rec != nil {
		sherpa.DeleteOnlineRecognizer(d.rec)
		d.rec = nil
	}
	return nil
}
