package server

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/streamtext-ai/streamtext/pkg/recognizer"
	"github.com/streamtext-ai/streamtext/pkg/session"
	"github.com/streamtext-ai/streamtext/pkg/trace"
)

// maxUploadBytes caps file uploads at 100 MiB.
const maxUploadBytes = 100 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Server] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type sessionInfoResponse struct {
	SessionID         string               `json:"session_id"`
	CreatedAt         time.Time            `json:"created_at"`
	LastActivity      time.Time            `json:"last_activity"`
	IdleSeconds       float64              `json:"idle_seconds"`
	IsActive          bool                 `json:"is_active"`
	IsProcessing      bool                 `json:"is_processing"`
	IsSpeaking        bool                 `json:"is_speaking"`
	ActiveConnections int                  `json:"active_connections"`
	BufferedBytes     int                  `json:"buffered_bytes"`
	PacketsReceived   uint64               `json:"packets_received"`
	TotalAudioSeconds float64              `json:"total_audio_seconds"`
	Metadata          session.Metadata     `json:"metadata"`
	Config            session.StreamConfig `json:"config"`
	Stats             session.Stats        `json:"stats"`
	Transcript        []session.Transcript `json:"transcript"`
	CurrentTranscript string               `json:"current_transcript"`
}

// handleSessionInfo is GET /audio/{session_id}/info.
func (s *Server) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["session_id"]
	sess := s.sessions.Get(id)
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	transcript := sess.Transcripts()
	if transcript == nil {
		transcript = []session.Transcript{}
	}
	writeJSON(w, http.StatusOK, sessionInfoResponse{
		SessionID:         sess.ID,
		CreatedAt:         sess.CreatedAt(),
		LastActivity:      sess.LastActivity(),
		IdleSeconds:       sess.IdleFor().Seconds(),
		IsActive:          sess.ActiveConnections() > 0,
		IsProcessing:      sess.IsProcessing(),
		IsSpeaking:        sess.IsSpeaking(),
		ActiveConnections: sess.ActiveConnections(),
		BufferedBytes:     sess.BufferedBytes(),
		PacketsReceived:   sess.Stats().ChunksReceived,
		TotalAudioSeconds: sess.TotalAudioSeconds(),
		Metadata:          sess.Metadata(),
		Config:            sess.Config(),
		Stats:             sess.Stats(),
		Transcript:        transcript,
		CurrentTranscript: sess.CurrentTranscript(),
	})
}

type transcriptResponse struct {
	SessionID         string               `json:"session_id"`
	TranscriptHistory []session.Transcript `json:"transcript_history"`
	CurrentTranscript string               `json:"current_transcript"`
}

// handleSessionTranscript is GET /audio/{session_id}/transcript.
func (s *Server) handleSessionTranscript(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["session_id"]
	sess := s.sessions.Get(id)
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	transcripts := sess.Transcripts()
	if transcripts == nil {
		transcripts = []session.Transcript{}
	}
	writeJSON(w, http.StatusOK, transcriptResponse{
		SessionID:         sess.ID,
		TranscriptHistory: transcripts,
		CurrentTranscript: sess.CurrentTranscript(),
	})
}

// handleDeleteSession is DELETE /audio/{session_id}.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["session_id"]

	s.stopDispatcher(id)
	if !s.sessions.Delete(id) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": "deleted"})
}

// handleHealth is GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":             "ok",
		"timestamp":          timestampMs(),
		"active_sessions":    s.sessions.Len(),
		"active_connections": s.sessions.ActiveConnections(),
		"engines_available":  recognizer.EnginesAvailable(),
	})
}

// handleTranscribeFile is POST /transcribe: multipart upload of a complete
// audio file, transcribed in one shot with a pooled recognizer.
func (s *Server) handleTranscribeFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	engine := r.FormValue("engine")
	if engine == "" {
		engine = recognizer.EngineAuto
	}
	cfg := recognizer.Config{
		Language:  r.FormValue("language"),
		ModelSize: r.FormValue("model_size"),
	}

	// Persist the upload so file-oriented back-ends can read it by path.
	tmpPath := filepath.Join(os.TempDir(), "streamtext-"+uuid.New().String()+filepath.Ext(header.Filename))
	tmp, err := os.Create(tmpPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store upload: "+err.Error())
		return
	}
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		writeError(w, http.StatusInternalServerError, "store upload: "+err.Error())
		return
	}
	tmp.Close()

	rec, err := s.pool.Acquire(engine, cfg)
	if err != nil {
		// A specifically requested engine that cannot serve is a client
		// error; only the auto fallback exhausting every engine is 503.
		status := http.StatusServiceUnavailable
		if recognizer.NormalizeEngine(engine) != recognizer.EngineAuto {
			status = http.StatusBadRequest
		}
		writeError(w, status, "no recognition engine available: "+err.Error())
		return
	}
	defer s.pool.Release(engine, cfg, rec)

	ft, ok := rec.(recognizer.FileTranscriber)
	if !ok {
		writeError(w, http.StatusNotImplemented,
			"engine "+rec.EngineName()+" does not support file transcription")
		return
	}

	ctx, span := trace.StartSpan(r.Context(), "transcribe.file")
	span.SetAttributes(trace.SessionAttributes("", rec.EngineName(), cfg.Language, cfg.SampleRate)...)
	defer span.End()

	start := time.Now()
	result, err := ft.TranscribeFile(ctx, tmpPath)
	if err != nil {
		trace.RecordError(span, err)
		writeError(w, http.StatusInternalServerError, "transcription failed: "+err.Error())
		return
	}

	log.Printf("[Server] transcribed %s via %s in %s", header.Filename, rec.EngineName(), time.Since(start).Round(time.Millisecond))

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"engine":   rec.EngineName(),
		"filename": header.Filename,
		"text":     result.Text,
		"segments": result.Segments,
		"language": result.Language,
	})
}
