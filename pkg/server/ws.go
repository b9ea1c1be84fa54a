package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/streamtext-ai/streamtext/pkg/recognizer"
	"github.com/streamtext-ai/streamtext/pkg/session"
	"github.com/streamtext-ai/streamtext/pkg/trace"
)

// handleStream is the WebSocket endpoint GET /audio/{session_id}/stream.
//
// Binary frames carry PCM audio; text frames carry JSON control messages.
// The processing loop starts lazily on the first binary frame so a client
// can send metadata and config before any audio flows. A disconnect stops
// processing but keeps the session and its transcripts addressable.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]

	sess, created := s.sessions.GetOrCreate(sessionID, s.config.DefaultMetadata, s.config.DefaultStreamConfig)
	if !created {
		log.Printf("[session %s] client reattached from %s", sessionID, getClientIP(r))
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[session %s] WebSocket upgrade failed: %v", sessionID, err)
		return
	}

	_, span := trace.StartSpan(r.Context(), "session.stream")
	meta := sess.Metadata()
	span.SetAttributes(trace.SessionAttributes(sessionID, sess.Config().Engine, meta.Language, meta.SampleRate)...)

	transport := newWSTransport(conn)
	sess.ConnectionOpened()
	defer func() {
		s.stopDispatcher(sessionID)
		sess.ConnectionClosed()
		transport.Close()
		span.End()
		log.Printf("[session %s] stream closed", sessionID)
	}()

	if err := transport.SendJSON(connectionStatusMessage{
		Type:             msgTypeConnectionStatus,
		Status:           "connected",
		SessionID:        sessionID,
		EnginesAvailable: recognizer.EnginesAvailable(),
		Timestamp:        timestampMs(),
	}); err != nil {
		log.Printf("[session %s] send connection status: %v", sessionID, err)
		return
	}

	sink := func(res recognizer.Result, engine string) {
		msg := transcriptMessage{
			Type:       msgTypeTranscript,
			Text:       res.Text,
			IsFinal:    res.IsFinal,
			Confidence: res.Confidence,
			Engine:     engine,
			Timestamp:  timestampMs(),
		}
		if err := transport.SendJSON(msg); err != nil {
			log.Printf("[session %s] send transcript: %v", sessionID, err)
		}
	}

	streaming := false
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[session %s] WebSocket read error: %v", sessionID, err)
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if !streaming {
				streaming = true
				trace.AddEvent(span, "audio.streaming_started")
			}
			sess.AddChunk(data)
			s.dispatcherFor(sess, sink)

		case websocket.TextMessage:
			s.handleControlMessage(sess, transport, sink, data)
		}
	}
}

// handleControlMessage processes one JSON text frame. Malformed JSON and
// unknown message types are logged and skipped; the stream stays up.
func (s *Server) handleControlMessage(sess *session.Session, transport *wsTransport, sink func(recognizer.Result, string), data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("[session %s] invalid control frame: %v", sess.ID, err)
		return
	}

	switch msg.Type {
	case msgTypePing:
		if err := transport.SendJSON(pongMessage{Type: msgTypePong, Timestamp: msg.Timestamp}); err != nil {
			log.Printf("[session %s] send pong: %v", sess.ID, err)
		}

	case msgTypeMetadata:
		meta := msg.mergeMetadata(sess.Metadata())
		// The rebuild swaps the recognizer, so the dispatcher must not be
		// mid-window while it happens.
		wasRunning := s.stopDispatcher(sess.ID)
		err := sess.SetMetadata(meta)
		if wasRunning {
			s.dispatcherFor(sess, sink)
		}
		if err != nil {
			log.Printf("[session %s] apply metadata: %v", sess.ID, err)
			transport.SendJSON(newErrorMessage("failed to apply metadata: " + err.Error()))
			return
		}
		log.Printf("[session %s] metadata updated: rate=%d enc=%s lang=%s",
			sess.ID, meta.SampleRate, meta.Encoding, meta.Language)

	case msgTypeConfig:
		cfg := msg.mergeConfig(sess.Config())
		sess.SetConfig(cfg)
		log.Printf("[session %s] config updated: engine=%s vad=%v threshold=%.2f",
			sess.ID, cfg.Engine, cfg.VADEnabled, cfg.VADThreshold)

	case msgTypeReset:
		s.resetSession(sess, transport, sink)

	default:
		log.Printf("[session %s] ignoring unknown message type %q", sess.ID, msg.Type)
	}
}

// resetSession cancels processing, clears buffered audio and the running
// partial, rebuilds the recognizer and restarts the loop before
// acknowledging.
func (s *Server) resetSession(sess *session.Session, transport *wsTransport, sink func(recognizer.Result, string)) {
	s.stopDispatcher(sess.ID)
	sess.ResetBuffers()

	if err := sess.RebuildRecognizer(); err != nil {
		log.Printf("[session %s] rebuild recognizer on reset: %v", sess.ID, err)
	}

	s.dispatcherFor(sess, sink)

	if err := transport.SendJSON(statusMessage{
		Type:      msgTypeStatus,
		Status:    statusResetCompleted,
		Timestamp: timestampMs(),
	}); err != nil {
		log.Printf("[session %s] send reset ack: %v", sess.ID, err)
	}
	log.Printf("[session %s] reset completed", sess.ID)
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return strings.Split(r.RemoteAddr, ":")[0]
}
