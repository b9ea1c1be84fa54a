package recognizer

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/sashabaranov/go-openai"
)

// cloudLanguages maps session language codes to the BCP-47 codes the cloud
// API expects. Unknown codes fall through to en-US.
var cloudLanguages = map[string]string{
	"vi": "vi-VN",
	"en": "en-US",
}

func mapCloudLanguage(code string) string {
	if mapped, ok := cloudLanguages[code]; ok {
		return mapped
	}
	return "en-US"
}

func cloudAPIKey() string {
	if key := os.Getenv("STT_CLOUD_API_KEY"); key != "" {
		return key
	}
	return os.Getenv("OPENAI_API_KEY")
}

func cloudAvailable() bool { return cloudAPIKey() != "" }

// CloudRecognizer sends each audio window to an OpenAI-compatible
// transcription endpoint. Audio is wrapped in a WAV envelope because the API
// expects a named file upload, not raw PCM.
type CloudRecognizer struct {
	client     *openai.Client
	model      string
	language   string
	sampleRate int
	encoding   string
	timeout    time.Duration
}

// NewCloudRecognizer builds the cloud back-end. The API key comes from
// STT_CLOUD_API_KEY, falling back to OPENAI_API_KEY; OPENAI_BASE_URL
// redirects to self-hosted compatible endpoints.
func NewCloudRecognizer(cfg Config) (*CloudRecognizer, error) {
	apiKey := cloudAPIKey()
	if apiKey == "" {
		return nil, &Error{
			Code:    ErrCodeInvalidConfig,
			Message: "cloud API key is required (STT_CLOUD_API_KEY or OPENAI_API_KEY)",
		}
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		clientConfig.BaseURL = baseURL
		log.Printf("[CloudHTTP] using BaseURL: %s", clientConfig.BaseURL)
	}

	model := os.Getenv("STT_CLOUD_MODEL")
	if model == "" {
		model = openai.Whisper1
	}

	return &CloudRecognizer{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      model,
		language:   mapCloudLanguage(cfg.Language),
		sampleRate: cfg.SampleRate,
		encoding:   cfg.Encoding,
		timeout:    defaultCloudTimeout,
	}, nil
}

func newCloudFromConfig(cfg Config) (Recognizer, error) {
	return NewCloudRecognizer(cfg)
}

// ProcessAudio submits one window for transcription. Network and provider
// failures are downgraded to an empty result with a log line so a flaky
// uplink degrades recognition instead of killing the session loop.
func (r *CloudRecognizer) ProcessAudio(chunk []byte) (Result, error) {
	if len(chunk) == 0 {
		return Result{}, nil
	}

	pcm, err := ensureInt16(chunk, r.encoding)
	if err != nil {
		return Result{}, &Error{Code: ErrCodeInvalidAudio, Message: "convert chunk to int16", Err: err}
	}

	wav, err := pcmToWAV(pcm, r.sampleRate, 1, 16)
	if err != nil {
		return Result{}, &Error{Code: ErrCodeInvalidAudio, Message: "build WAV envelope", Err: err}
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	resp, err := r.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    r.model,
		FilePath: "audio.wav", // filename hint for the multipart upload
		Reader:   bytes.NewReader(wav),
		Language: r.language,
	})
	if err != nil {
		log.Printf("[CloudHTTP] transcription request failed: %v", err)
		return Result{}, nil
	}

	if resp.Text == "" {
		return Result{}, nil
	}
	return Result{Text: resp.Text, IsFinal: true, Confidence: 1.0}, nil
}

// Reset is a no-op: the cloud back-end keeps no decoding state between
// windows.
func (r *CloudRecognizer) Reset() {}

func (r *CloudRecognizer) IsAvailable() bool { return r.client != nil }

func (r *CloudRecognizer) EngineName() string { return EngineCloudHTTP }

func (r *CloudRecognizer) Close() error { return nil }

// TranscribeFile submits a complete audio file in one request. The file is
// sent as-is; the API handles container formats itself.
func (r *CloudRecognizer) TranscribeFile(ctx context.Context, path string) (FileResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    r.model,
		FilePath: path,
		Language: r.language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return FileResult{}, &Error{
			Code:    ErrCodeNetworkError,
			Message: fmt.Sprintf("cloud transcription of %s failed", path),
			Err:     err,
		}
	}

	out := FileResult{Text: resp.Text, Language: resp.Language}
	for _, seg := range resp.Segments {
		out.Segments = append(out.Segments, Segment{
			ID:    seg.ID,
			Start: seg.Start,
			End:   seg.End,
			Text:  seg.Text,
		})
	}
	return out, nil
}

var (
	_ Recognizer      = (*CloudRecognizer)(nil)
	_ FileTranscriber = (*CloudRecognizer)(nil)
)
