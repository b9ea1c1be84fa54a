//go:build whispercpp

// This file contains the ChunkModel implementation backed by the whisper.cpp
// CGO bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package recognizer

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// whisperModelPath resolves the ggml model file for a model size, e.g.
// models/whisper/ggml-small.bin.
func whisperModelPath(modelSize string) string {
	if p := os.Getenv("STREAMTEXT_WHISPER_MODEL"); p != "" {
		return p
	}
	dir := os.Getenv("STREAMTEXT_WHISPER_MODEL_DIR")
	if dir == "" {
		dir = "models/whisper"
	}
	return filepath.Join(dir, fmt.Sprintf("ggml-%s.bin", modelSize))
}

func chunkModelAvailable() bool {
	_, err := os.Stat(whisperModelPath("small"))
	return err == nil
}

// whisperModel wraps a loaded whisper.cpp model. The model is shared-safe
// but contexts are not, so every inference creates a fresh context.
type whisperModel struct {
	model whisperlib.Model
}

func newChunkModel(cfg Config) (ChunkModel, error) {
	path := whisperModelPath(cfg.ModelSize)
	model, err := whisperlib.New(path)
	if err != nil {
		return nil, &Error{
			Code:    ErrCodeEngineUnavailable,
			Message: fmt.Sprintf("load whisper model %q", path),
			Err:     err,
		}
	}
	log.Printf("[Whisper] model %s loaded from %s", cfg.ModelSize, path)
	return &whisperModel{model: model}, nil
}

func (m *whisperModel) Transcribe(samples []float32, language string) (string, error) {
	segments, err := m.TranscribeSegments(samples, language)
	if err != nil {
		return "", err
	}

	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		parts = append(parts, seg.Text)
	}
	return strings.Join(parts, " "), nil
}

func (m *whisperModel) TranscribeSegments(samples []float32, language string) ([]Segment, error) {
	wctx, err := m.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("create whisper context: %w", err)
	}

	if err := wctx.SetLanguage(language); err != nil {
		log.Printf("[Whisper] set language %q failed, using model default: %v", language, err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper inference: %w", err)
	}

	var out []Segment
	for i := 0; ; i++ {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read whisper segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		out = append(out, Segment{
			ID:    i,
			Start: segment.Start.Seconds(),
			End:   segment.End.Seconds(),
			Text:  text,
		})
	}
	return out, nil
}

func (m *whisperModel) Close() error {
	if m.model != nil {
		err := m.model.Close()
		m.model = nil
		return err
	}
	return nil
}
