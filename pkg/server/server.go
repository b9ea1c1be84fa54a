// Package server exposes the transcription service over HTTP: a WebSocket
// streaming channel per session plus REST endpoints for session inspection,
// one-shot file transcription and health.
package server

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/streamtext-ai/streamtext/pkg/recognizer"
	"github.com/streamtext-ai/streamtext/pkg/session"
)

// ServerConfig holds the configuration of the HTTP front-end.
type ServerConfig struct {
	// Addr is the address to listen on (e.g. ":8000").
	Addr string

	// ReadBufferSize is the WebSocket read buffer size.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	WriteBufferSize int

	// ShutdownGrace bounds how long Stop waits for in-flight requests.
	ShutdownGrace time.Duration

	// DefaultMetadata is the audio format assumed for new sessions.
	DefaultMetadata session.Metadata

	// DefaultStreamConfig is the processing setup for new sessions.
	DefaultStreamConfig session.StreamConfig
}

// DefaultServerConfig returns the default front-end configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:                ":8000",
		ReadBufferSize:      4096,
		WriteBufferSize:     4096,
		ShutdownGrace:       2 * time.Second,
		DefaultMetadata:     session.DefaultMetadata(),
		DefaultStreamConfig: session.DefaultStreamConfig(),
	}
}

// Server is the transcription HTTP server.
type Server struct {
	config   ServerConfig
	sessions *session.Manager
	pool     *recognizer.SharedPool

	// One dispatcher per session with an open stream.
	dispatchers   map[string]*session.Dispatcher
	dispatchersMu sync.Mutex

	httpServer *http.Server
	upgrader   websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a server around an existing session manager.
func NewServer(config ServerConfig, sessions *session.Manager) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		config:      config,
		sessions:    sessions,
		pool:        recognizer.NewSharedPool(),
		dispatchers: make(map[string]*session.Dispatcher),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true // allow all origins; customize for production
			},
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/audio/{session_id}/stream", s.handleStream)
	r.HandleFunc("/audio/{session_id}/info", s.handleSessionInfo).Methods(http.MethodGet)
	r.HandleFunc("/audio/{session_id}/transcript", s.handleSessionTranscript).Methods(http.MethodGet)
	r.HandleFunc("/audio/{session_id}", s.handleDeleteSession).Methods(http.MethodDelete)
	r.HandleFunc("/transcribe", s.handleTranscribeFile).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	return r
}

// Start begins serving. It returns once the listener is up.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.config.Addr,
		Handler: s.Handler(),
	}

	log.Printf("[Server] listening on %s", s.config.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop drains connections within the shutdown grace period, stops every
// dispatcher and releases pooled recognizers.
func (s *Server) Stop() error {
	s.cancel()

	s.dispatchersMu.Lock()
	for id, d := range s.dispatchers {
		d.Stop()
		delete(s.dispatchers, id)
	}
	s.dispatchersMu.Unlock()

	if err := s.pool.Close(); err != nil {
		log.Printf("[Server] recognizer pool close: %v", err)
	}

	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownGrace)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// dispatcherFor returns the running dispatcher for a session, starting one
// with the given sink when none is running. Restarts cover dispatchers that
// exited after a disconnect or reset.
func (s *Server) dispatcherFor(sess *session.Session, sink func(recognizer.Result, string)) *session.Dispatcher {
	s.dispatchersMu.Lock()
	defer s.dispatchersMu.Unlock()

	if d, ok := s.dispatchers[sess.ID]; ok && d.Running() {
		return d
	}

	d := session.NewDispatcher(sess, sink)
	d.Start(s.ctx)
	s.dispatchers[sess.ID] = d
	return d
}

// stopDispatcher halts the session's dispatcher if one is running and
// reports whether there was one to stop.
func (s *Server) stopDispatcher(sessionID string) bool {
	s.dispatchersMu.Lock()
	d, ok := s.dispatchers[sessionID]
	delete(s.dispatchers, sessionID)
	s.dispatchersMu.Unlock()

	if ok {
		d.Stop()
	}
	return ok
}
