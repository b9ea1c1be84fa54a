package server

import (
	"time"

	"github.com/streamtext-ai/streamtext/pkg/session"
)

// Client frame types accepted on the stream socket.
const (
	msgTypePing     = "ping"
	msgTypeMetadata = "metadata"
	msgTypeConfig   = "config"
	msgTypeReset    = "reset"
)

// controlFields are the metadata and config fields a client may set.
// Everything is a pointer so a frame only overrides what it names.
type controlFields struct {
	// metadata fields
	SampleRate *int    `json:"sample_rate,omitempty"`
	Channels   *int    `json:"channels,omitempty"`
	Encoding   *string `json:"encoding,omitempty"`
	Language   *string `json:"language,omitempty"`

	// config fields
	Engine          *string  `json:"engine,omitempty"`
	ModelSize       *string  `json:"model_size,omitempty"`
	PartialResults  *bool    `json:"partial_results,omitempty"`
	VADEnabled      *bool    `json:"vad_enabled,omitempty"`
	VADThreshold    *float32 `json:"vad_threshold,omitempty"`
	SilenceDuration *float64 `json:"silence_duration,omitempty"`
	BufferOverlap   *float64 `json:"buffer_overlap,omitempty"`
	WindowSize      *float64 `json:"window_size,omitempty"`
}

func (f *controlFields) applyMetadata(cur session.Metadata) session.Metadata {
	if f.SampleRate != nil {
		cur.SampleRate = *f.SampleRate
	}
	if f.Channels != nil {
		cur.Channels = *f.Channels
	}
	if f.Encoding != nil {
		cur.Encoding = *f.Encoding
	}
	if f.Language != nil {
		cur.Language = *f.Language
	}
	return cur
}

func (f *controlFields) applyConfig(cur session.StreamConfig) session.StreamConfig {
	if f.Engine != nil {
		cur.Engine = *f.Engine
	}
	if f.ModelSize != nil {
		cur.ModelSize = *f.ModelSize
	}
	if f.PartialResults != nil {
		cur.PartialResults = *f.PartialResults
	}
	if f.VADEnabled != nil {
		cur.VADEnabled = *f.VADEnabled
	}
	if f.VADThreshold != nil {
		cur.VADThreshold = *f.VADThreshold
	}
	if f.SilenceDuration != nil {
		cur.SilenceDuration = *f.SilenceDuration
	}
	if f.BufferOverlap != nil {
		cur.BufferOverlap = *f.BufferOverlap
	}
	if f.WindowSize != nil {
		cur.WindowSize = *f.WindowSize
	}
	return cur
}

// clientMessage is the envelope of a text frame from the client. metadata
// and config frames carry their fields in a nested "data" object; fields at
// the top level are accepted too for older clients, with "data" winning
// when both are present.
type clientMessage struct {
	Type string         `json:"type"`
	Data *controlFields `json:"data,omitempty"`

	controlFields

	// ping payload, echoed back verbatim
	Timestamp *float64 `json:"timestamp,omitempty"`
}

// mergeMetadata applies the frame's metadata fields onto cur.
func (m *clientMessage) mergeMetadata(cur session.Metadata) session.Metadata {
	cur = m.controlFields.applyMetadata(cur)
	if m.Data != nil {
		cur = m.Data.applyMetadata(cur)
	}
	return cur
}

// mergeConfig applies the frame's config fields onto cur.
func (m *clientMessage) mergeConfig(cur session.StreamConfig) session.StreamConfig {
	cur = m.controlFields.applyConfig(cur)
	if m.Data != nil {
		cur = m.Data.applyConfig(cur)
	}
	return cur
}

// Server frame types pushed to the client.
const (
	msgTypeConnectionStatus = "connection_status"
	msgTypeTranscript       = "transcript"
	msgTypePong             = "pong"
	msgTypeStatus           = "status"
	msgTypeError            = "error"
)

// statusResetCompleted acknowledges a completed reset on a status frame.
const statusResetCompleted = "reset_completed"

type connectionStatusMessage struct {
	Type             string          `json:"type"`
	Status           string          `json:"status"`
	SessionID        string          `json:"session_id"`
	EnginesAvailable map[string]bool `json:"engines_available"`
	Timestamp        int64           `json:"timestamp"`
}

type transcriptMessage struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	IsFinal    bool    `json:"is_final"`
	Confidence float32 `json:"confidence,omitempty"`
	Engine     string  `json:"engine"`
	Timestamp  int64   `json:"timestamp"`
}

type pongMessage struct {
	Type      string   `json:"type"`
	Timestamp *float64 `json:"timestamp,omitempty"`
}

type statusMessage struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

type errorMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

func newErrorMessage(msg string) errorMessage {
	return errorMessage{Type: msgTypeError, Message: msg, Timestamp: timestampMs()}
}

// timestampMs is the wire timestamp format: milliseconds since the epoch.
func timestampMs() int64 {
	return time.Now().UnixMilli()
}
