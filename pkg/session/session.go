// Package session holds per-client transcription state: the audio stream
// buffer, the recognizer instance, accumulated transcripts and the VAD
// segmentation state driven by the dispatcher.
//
// A session outlives any single network connection. The manager keeps
// sessions addressable by ID until they are deleted explicitly or reaped
// after prolonged inactivity.
package session

import (
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/streamtext-ai/streamtext/pkg/audio"
	"github.com/streamtext-ai/streamtext/pkg/recognizer"
)

// maxBufferedSeconds caps the stream buffer so a stalled dispatcher cannot
// grow memory without bound.
const maxBufferedSeconds = 30

// Metadata describes the audio format a client sends.
type Metadata struct {
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language"`
}

// DefaultMetadata returns the assumed format when a client never sends a
// metadata frame: 16 kHz mono float32 Vietnamese.
func DefaultMetadata() Metadata {
	return Metadata{
		SampleRate: 16000,
		Channels:   1,
		Encoding:   recognizer.EncodingFloat32,
		Language:   "vi",
	}
}

// normalize fills zero fields from the defaults so a partial metadata frame
// only overrides what it names.
func (m Metadata) normalize() Metadata {
	def := DefaultMetadata()
	if m.SampleRate <= 0 {
		m.SampleRate = def.SampleRate
	}
	if m.Channels <= 0 {
		m.Channels = def.Channels
	}
	if m.Encoding == "" {
		m.Encoding = def.Encoding
	}
	if m.Language == "" {
		m.Language = def.Language
	}
	return m
}

// BytesPerSecond returns the wire byte rate of this format.
func (m Metadata) BytesPerSecond() int {
	return m.SampleRate * m.Channels * recognizer.BytesPerSample(m.Encoding)
}

// StreamConfig holds the tunable processing parameters of a session.
type StreamConfig struct {
	Engine          string  `json:"engine"`
	ModelSize       string  `json:"model_size"`
	PartialResults  bool    `json:"partial_results"`
	VADEnabled      bool    `json:"vad_enabled"`
	VADThreshold    float32 `json:"vad_threshold"`
	SilenceDuration float64 `json:"silence_duration"`
	BufferOverlap   float64 `json:"buffer_overlap"`
	WindowSize      float64 `json:"window_size"`
}

// DefaultStreamConfig returns the processing defaults.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Engine:          recognizer.EngineAuto,
		ModelSize:       "small",
		PartialResults:  true,
		VADEnabled:      true,
		VADThreshold:    0.3,
		SilenceDuration: 0.5,
		BufferOverlap:   0.25,
		WindowSize:      0.5,
	}
}

func (c StreamConfig) normalize() StreamConfig {
	def := DefaultStreamConfig()
	if c.Engine == "" {
		c.Engine = def.Engine
	}
	if c.ModelSize == "" {
		c.ModelSize = def.ModelSize
	}
	if c.VADThreshold <= 0 {
		c.VADThreshold = def.VADThreshold
	}
	if c.SilenceDuration <= 0 {
		c.SilenceDuration = def.SilenceDuration
	}
	if c.WindowSize <= 0 {
		c.WindowSize = def.WindowSize
	}
	if c.BufferOverlap < 0 || c.BufferOverlap >= c.WindowSize {
		c.BufferOverlap = def.BufferOverlap
		if c.BufferOverlap >= c.WindowSize {
			c.BufferOverlap = c.WindowSize / 2
		}
	}
	return c
}

// Transcript is one committed recognition result.
type Transcript struct {
	Text       string    `json:"text"`
	Confidence float32   `json:"confidence,omitempty"`
	Engine     string    `json:"engine"`
	Timestamp  time.Time `json:"timestamp"`
}

// Stats are the monotonically increasing counters of a session.
type Stats struct {
	ChunksReceived     uint64 `json:"chunks_received"`
	BytesReceived      uint64 `json:"bytes_received"`
	WindowsProcessed   uint64 `json:"windows_processed"`
	TranscriptsEmitted uint64 `json:"transcripts_emitted"`
	BytesDropped       uint64 `json:"bytes_dropped,omitempty"`
}

// Session is the unit of per-client state. All mutable fields are guarded
// by mu; the stream buffer has its own lock so AddChunk from the socket
// reader and ExtractWindow from the dispatcher do not contend on mu.
type Session struct {
	ID string

	mu          sync.Mutex
	meta        Metadata
	cfg         StreamConfig
	rec         recognizer.Recognizer
	transcripts []Transcript
	partial     string
	stats       Stats

	createdAt    time.Time
	lastActivity time.Time

	processing  bool
	connections int

	// VAD state mirrored from the dispatcher so /info can report it.
	speaking         bool
	silenceStartedAt time.Time
	totalAudioSecs   float64

	buf *audio.StreamBuffer

	now func() time.Time // injectable for tests
}

// New creates a session with normalized metadata and config. The recognizer
// is built lazily on first use.
func New(id string, meta Metadata, cfg StreamConfig) *Session {
	return newSession(id, meta, cfg, time.Now)
}

func newSession(id string, meta Metadata, cfg StreamConfig, now func() time.Time) *Session {
	s := &Session{
		ID:   id,
		meta: meta.normalize(),
		cfg:  cfg.normalize(),
		now:  now,
	}
	s.createdAt = s.now()
	s.lastActivity = s.createdAt
	s.buf = audio.NewStreamBuffer(maxBufferedSeconds * s.meta.BytesPerSecond())
	return s
}

// Metadata returns the current audio format.
func (s *Session) Metadata() Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

// Config returns the current processing parameters.
func (s *Session) Config() StreamConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// SetMetadata replaces the audio format and rebuilds the recognizer, since
// sample rate and encoding are baked into engine state.
func (s *Session) SetMetadata(meta Metadata) error {
	s.mu.Lock()
	s.meta = meta.normalize()
	s.lastActivity = s.now()
	s.mu.Unlock()
	return s.RebuildRecognizer()
}

// SetConfig replaces processing parameters without touching the recognizer.
// The dispatcher picks the new values up on its next window.
func (s *Session) SetConfig(cfg StreamConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg.normalize()
	s.lastActivity = s.now()
}

// AddChunk appends inbound audio to the stream buffer and updates counters.
func (s *Session) AddChunk(data []byte) {
	dropped := s.buf.Write(data)

	s.mu.Lock()
	s.stats.ChunksReceived++
	s.stats.BytesReceived += uint64(len(data))
	if dropped > 0 {
		s.stats.BytesDropped += uint64(dropped)
	}
	s.totalAudioSecs += float64(len(data)) / float64(s.meta.BytesPerSecond())
	s.lastActivity = s.now()
	s.mu.Unlock()

	if dropped > 0 {
		log.Printf("[session %s] buffer overflow, dropped %d oldest bytes", s.ID, dropped)
	}
}

// windowBytes returns the window and advance sizes in bytes for the current
// format, both rounded up to whole samples.
func (s *Session) windowBytes() (window, advance int) {
	s.mu.Lock()
	meta, cfg := s.meta, s.cfg
	s.mu.Unlock()

	rate := meta.BytesPerSecond()
	sample := meta.Channels * recognizer.BytesPerSample(meta.Encoding)

	window = alignUp(int(math.Ceil(cfg.WindowSize*float64(rate))), sample)
	advance = alignUp(int(math.Ceil((cfg.WindowSize-cfg.BufferOverlap)*float64(rate))), sample)
	if advance <= 0 {
		advance = sample
	}
	return window, advance
}

func alignUp(n, unit int) int {
	if unit <= 0 {
		return n
	}
	if rem := n % unit; rem != 0 {
		n += unit - rem
	}
	return n
}

// ExtractWindow returns the next analysis window from the head of the
// stream buffer, keeping the configured overlap for the following window.
// Returns false when not enough audio has accumulated.
func (s *Session) ExtractWindow() ([]byte, bool) {
	window, advance := s.windowBytes()

	out, ok := s.buf.Peek(window)
	if !ok {
		return nil, false
	}
	s.buf.Discard(advance)

	s.mu.Lock()
	s.stats.WindowsProcessed++
	s.mu.Unlock()
	return out, true
}

// Recognizer returns the session's engine, constructing it on first use.
func (s *Session) Recognizer() (recognizer.Recognizer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recognizerLocked()
}

func (s *Session) recognizerLocked() (recognizer.Recognizer, error) {
	if s.rec != nil {
		return s.rec, nil
	}

	rec, err := recognizer.New(s.cfg.Engine, recognizer.Config{
		SampleRate:     s.meta.SampleRate,
		Language:       s.meta.Language,
		Encoding:       s.meta.Encoding,
		PartialResults: s.cfg.PartialResults,
		ModelSize:      s.cfg.ModelSize,
	})
	if err != nil {
		return nil, fmt.Errorf("session %s: build recognizer: %w", s.ID, err)
	}
	s.rec = rec
	log.Printf("[session %s] recognizer ready: engine=%s", s.ID, rec.EngineName())
	return rec, nil
}

// RebuildRecognizer closes the current engine and constructs a fresh one
// from the current metadata and config.
func (s *Session) RebuildRecognizer() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec != nil {
		if err := s.rec.Close(); err != nil {
			log.Printf("[session %s] close recognizer: %v", s.ID, err)
		}
		s.rec = nil
	}
	_, err := s.recognizerLocked()
	return err
}

// AddResult folds a recognition result into the transcript state: finals
// are appended and clear the running partial, partials replace it.
func (s *Session) AddResult(res recognizer.Result, engine string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if res.IsFinal {
		text := strings.TrimSpace(res.Text)
		if text == "" {
			return
		}
		s.transcripts = append(s.transcripts, Transcript{
			Text:       text,
			Confidence: res.Confidence,
			Engine:     engine,
			Timestamp:  s.now(),
		})
		s.partial = ""
		s.stats.TranscriptsEmitted++
		return
	}
	s.partial = res.Text
}

// Transcripts returns a copy of the committed transcript list.
func (s *Session) Transcripts() []Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Transcript, len(s.transcripts))
	copy(out, s.transcripts)
	return out
}

// CurrentTranscript joins all committed text plus the running partial.
func (s *Session) CurrentTranscript() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	parts := make([]string, 0, len(s.transcripts)+1)
	for _, t := range s.transcripts {
		parts = append(parts, t.Text)
	}
	if s.partial != "" {
		parts = append(parts, s.partial)
	}
	return strings.Join(parts, " ")
}

// ResetBuffers clears buffered audio and the running partial. Committed
// transcripts survive a reset.
func (s *Session) ResetBuffers() {
	s.buf.Clear()
	s.mu.Lock()
	s.partial = ""
	s.mu.Unlock()
}

// Stats returns a snapshot of the counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// BufferedBytes returns the current stream buffer fill.
func (s *Session) BufferedBytes() int { return s.buf.Len() }

// SetProcessing marks whether a dispatcher is currently running.
func (s *Session) SetProcessing(on bool) {
	s.mu.Lock()
	s.processing = on
	s.mu.Unlock()
}

// IsProcessing reports whether a dispatcher is currently running.
func (s *Session) IsProcessing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// ConnectionOpened counts a new streaming connection.
func (s *Session) ConnectionOpened() {
	s.mu.Lock()
	s.connections++
	s.lastActivity = s.now()
	s.mu.Unlock()
}

// ConnectionClosed counts a dropped streaming connection.
func (s *Session) ConnectionClosed() {
	s.mu.Lock()
	if s.connections > 0 {
		s.connections--
	}
	s.lastActivity = s.now()
	s.mu.Unlock()
}

// ActiveConnections returns the number of open streaming connections.
func (s *Session) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections
}

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdAt
}

// setVADState mirrors the dispatcher's segmentation state. speaking and a
// non-zero silence start are mutually exclusive.
func (s *Session) setVADState(speaking bool, silenceStartedAt time.Time) {
	s.mu.Lock()
	s.speaking = speaking
	s.silenceStartedAt = silenceStartedAt
	s.mu.Unlock()
}

// IsSpeaking reports whether the dispatcher last classified the stream as
// voiced.
func (s *Session) IsSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// TotalAudioSeconds returns the seconds of audio received over the
// session's lifetime, per the declared format.
func (s *Session) TotalAudioSeconds() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalAudioSecs
}

// LastActivity returns the time of the last client interaction.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// IdleFor returns how long the session has gone without client activity.
func (s *Session) IdleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Sub(s.lastActivity)
}

// Touch refreshes the activity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = s.now()
	s.mu.Unlock()
}

// Close releases the recognizer and buffered audio.
func (s *Session) Close() error {
	s.buf.Clear()

	s.mu.Lock()
	rec := s.rec
	s.rec = nil
	s.mu.Unlock()

	if rec != nil {
		return rec.Close()
	}
	return nil
}
