package server

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamtext-ai/streamtext/pkg/recognizer"
	"github.com/streamtext-ai/streamtext/pkg/session"
)

// scriptedEngine returns one queued result per ProcessAudio call.
type scriptedEngine struct {
	mu     sync.Mutex
	queue  []recognizer.Result
	chunks int
	resets int
}

func (e *scriptedEngine) ProcessAudio(chunk []byte) (recognizer.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.chunks++
	if len(e.queue) == 0 {
		return recognizer.Result{}, nil
	}
	res := e.queue[0]
	e.queue = e.queue[1:]
	return res, nil
}

func (e *scriptedEngine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resets++
}

func (e *scriptedEngine) Enqueue(results ...recognizer.Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue = append(e.queue, results...)
}

func (e *scriptedEngine) IsAvailable() bool  { return true }
func (e *scriptedEngine) EngineName() string { return "scripted" }
func (e *scriptedEngine) Close() error       { return nil }

// engineHolder tracks the most recently constructed scripted engine.
// Construction happens on the dispatcher goroutine, so access is guarded.
type engineHolder struct {
	mu   sync.Mutex
	last *scriptedEngine
}

func (h *engineHolder) set(e *scriptedEngine) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = e
}

func (h *engineHolder) get() *scriptedEngine {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// newTestServer registers the scripted engine and returns a running
// httptest server plus a handle on the constructed engine.
func newTestServer(t *testing.T) (*httptest.Server, *Server, *engineHolder) {
	t.Helper()

	holder := &engineHolder{}
	recognizer.Register("scripted",
		func(cfg recognizer.Config) (recognizer.Recognizer, error) {
			e := &scriptedEngine{}
			holder.set(e)
			return e, nil
		}, nil)

	cfg := DefaultServerConfig()
	cfg.DefaultStreamConfig.Engine = "scripted"

	manager := session.NewManager()
	srv := NewServer(cfg, manager)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		manager.Stop()
	})
	return ts, srv, holder
}

func dialStream(t *testing.T, ts *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/audio/" + sessionID + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

// readFrameOfType skips frames until one of the wanted type arrives.
func readFrameOfType(t *testing.T, conn *websocket.Conn, wantType string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		frame := readFrame(t, conn)
		if frame["type"] == wantType {
			return frame
		}
	}
	t.Fatalf("no %q frame before deadline", wantType)
	return nil
}

func voicedAudio(seconds float64) []byte {
	n := int(seconds * 16000)
	out := make([]byte, n*4)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(0.8))
	}
	return out
}

func TestStreamHappyPath(t *testing.T) {
	ts, _, engine := newTestServer(t)
	conn := dialStream(t, ts, "happy")

	status := readFrame(t, conn)
	assert.Equal(t, "connection_status", status["type"])
	assert.Equal(t, "connected", status["status"])
	assert.Equal(t, "happy", status["session_id"])
	assert.Contains(t, status, "engines_available")
	assert.Contains(t, status, "timestamp")

	// First audio frame starts the dispatcher and builds the engine.
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, voicedAudio(1.0)))
	require.Eventually(t, func() bool { return engine.get() != nil },
		2*time.Second, 10*time.Millisecond)

	engine.get().Enqueue(
		recognizer.Result{Text: "xin chào", IsFinal: false},
		recognizer.Result{Text: "xin chào các bạn", IsFinal: true, Confidence: 0.9},
	)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, voicedAudio(1.5)))

	partial := readFrameOfType(t, conn, "transcript")
	assert.Equal(t, "xin chào", partial["text"])
	assert.Equal(t, false, partial["is_final"])
	assert.Equal(t, "scripted", partial["engine"])
	ts1, ok := partial["timestamp"].(float64)
	require.True(t, ok, "transcript timestamp is numeric")
	assert.Greater(t, ts1, float64(1e12), "milliseconds since the epoch")

	final := readFrameOfType(t, conn, "transcript")
	assert.Equal(t, "xin chào các bạn", final["text"])
	assert.Equal(t, true, final["is_final"])
	assert.InDelta(t, 0.9, final["confidence"], 1e-6)
}

func TestStreamPingPong(t *testing.T) {
	ts, _, _ := newTestServer(t)
	conn := dialStream(t, ts, "ping")
	readFrame(t, conn) // connection_status

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":      "ping",
		"timestamp": 1234.5,
	}))

	pong := readFrameOfType(t, conn, "pong")
	assert.InDelta(t, 1234.5, pong["timestamp"], 1e-9)
}

func TestStreamInvalidJSONIsIgnored(t *testing.T) {
	ts, _, _ := newTestServer(t)
	conn := dialStream(t, ts, "garbled")
	readFrame(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"no-such-type"}`)))

	// The stream is still alive afterwards.
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "ping"}))
	pong := readFrameOfType(t, conn, "pong")
	assert.Equal(t, "pong", pong["type"])
}

func TestStreamResetDuringStreaming(t *testing.T) {
	ts, srv, engine := newTestServer(t)
	conn := dialStream(t, ts, "reset")
	readFrame(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, voicedAudio(1.0)))
	require.Eventually(t, func() bool { return engine.get() != nil },
		2*time.Second, 10*time.Millisecond)
	first := engine.get()

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "reset"}))
	ack := readFrameOfType(t, conn, "status")
	assert.Equal(t, "reset_completed", ack["status"])
	_, ok := ack["timestamp"].(float64)
	assert.True(t, ok, "status timestamp is numeric")

	sess := srv.sessions.Get("reset")
	require.NotNil(t, sess)
	assert.NotSame(t, first, engine.get(), "reset rebuilds the recognizer")
	assert.True(t, sess.IsProcessing(), "dispatcher restarted after reset")
}

func TestStreamMetadataRebuildsEngine(t *testing.T) {
	ts, srv, engine := newTestServer(t)
	conn := dialStream(t, ts, "meta")
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "metadata",
		"data": map[string]interface{}{
			"sample_rate": 8000,
			"encoding":    "int16",
			"language":    "en",
		},
	}))

	require.Eventually(t, func() bool {
		sess := srv.sessions.Get("meta")
		return sess != nil && sess.Metadata().SampleRate == 8000
	}, 2*time.Second, 10*time.Millisecond)

	sess := srv.sessions.Get("meta")
	assert.Equal(t, "int16", sess.Metadata().Encoding)
	assert.Equal(t, "en", sess.Metadata().Language)
	assert.NotNil(t, engine.get(), "metadata change constructs the engine eagerly")
}

func TestStreamMetadataTopLevelFieldsAccepted(t *testing.T) {
	ts, srv, _ := newTestServer(t)
	conn := dialStream(t, ts, "flatmeta")
	readFrame(t, conn)

	// Older clients put the fields next to "type" instead of under "data".
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":        "metadata",
		"sample_rate": 8000,
	}))

	require.Eventually(t, func() bool {
		sess := srv.sessions.Get("flatmeta")
		return sess != nil && sess.Metadata().SampleRate == 8000
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStreamConfigUpdate(t *testing.T) {
	ts, srv, engine := newTestServer(t)
	conn := dialStream(t, ts, "cfg")
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "config",
		"data": map[string]interface{}{
			"vad_threshold": 0.7,
			"vad_enabled":   false,
		},
	}))

	require.Eventually(t, func() bool {
		sess := srv.sessions.Get("cfg")
		return sess != nil && !sess.Config().VADEnabled
	}, 2*time.Second, 10*time.Millisecond)

	sess := srv.sessions.Get("cfg")
	assert.InDelta(t, 0.7, sess.Config().VADThreshold, 1e-6)
	assert.Nil(t, engine.get(), "config change alone does not build an engine")
}

// engineEvents records the order of recognizer lifecycle events across
// goroutines.
type engineEvents struct {
	mu     sync.Mutex
	events []string
}

func (r *engineEvents) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *engineEvents) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// blockingEngine parks in ProcessAudio until released.
type blockingEngine struct {
	rec       *engineEvents
	entered   chan struct{}
	release   chan struct{}
	enterOnce sync.Once
}

func (e *blockingEngine) ProcessAudio(chunk []byte) (recognizer.Result, error) {
	e.rec.add("process_enter")
	e.enterOnce.Do(func() { close(e.entered) })
	<-e.release
	e.rec.add("process_exit")
	return recognizer.Result{}, nil
}

func (e *blockingEngine) Reset()             {}
func (e *blockingEngine) IsAvailable() bool  { return true }
func (e *blockingEngine) EngineName() string { return "blocking" }
func (e *blockingEngine) Close() error {
	e.rec.add("close")
	return nil
}

func TestMetadataRebuildWaitsForInFlightRecognition(t *testing.T) {
	events := &engineEvents{}
	first := &blockingEngine{rec: events, entered: make(chan struct{}), release: make(chan struct{})}

	var buildMu sync.Mutex
	builds := 0
	recognizer.Register("blocking",
		func(cfg recognizer.Config) (recognizer.Recognizer, error) {
			buildMu.Lock()
			defer buildMu.Unlock()
			builds++
			if builds == 1 {
				return first, nil
			}
			return &scriptedEngine{}, nil
		}, nil)

	cfg := DefaultServerConfig()
	cfg.DefaultStreamConfig.Engine = "blocking"
	manager := session.NewManager()
	srv := NewServer(cfg, manager)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		manager.Stop()
	})

	conn := dialStream(t, ts, "inflight")
	readFrame(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, voicedAudio(1.0)))
	select {
	case <-first.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("engine never saw audio")
	}

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "metadata",
		"data": map[string]interface{}{"language": "en"},
	}))

	// The rebuild must not close the engine while a window is in flight.
	time.Sleep(150 * time.Millisecond)
	assert.NotContains(t, events.snapshot(), "close")

	close(first.release)

	require.Eventually(t, func() bool {
		evs := events.snapshot()
		return len(evs) > 0 && evs[len(evs)-1] == "close"
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"process_enter", "process_exit", "close"}, events.snapshot())
}

func TestDisconnectKeepsSession(t *testing.T) {
	ts, srv, _ := newTestServer(t)
	conn := dialStream(t, ts, "linger")
	readFrame(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, voicedAudio(0.5)))
	conn.Close()

	require.Eventually(t, func() bool {
		sess := srv.sessions.Get("linger")
		return sess != nil && sess.ActiveConnections() == 0 && !sess.IsProcessing()
	}, 2*time.Second, 10*time.Millisecond)

	assert.NotNil(t, srv.sessions.Get("linger"), "session survives disconnect")
}

func TestSessionInfoEndpoint(t *testing.T) {
	ts, srv, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/audio/nope/info")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	sess, _ := srv.sessions.GetOrCreate("known", session.DefaultMetadata(), session.DefaultStreamConfig())
	sess.AddChunk(make([]byte, 64000))
	sess.AddResult(recognizer.Result{Text: "xin chào", IsFinal: true}, "scripted")

	resp, err = http.Get(ts.URL + "/audio/known/info")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info sessionInfoResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, "known", info.SessionID)
	assert.Equal(t, 16000, info.Metadata.SampleRate)
	assert.False(t, info.IsActive)
	assert.False(t, info.IsSpeaking)
	assert.False(t, info.LastActivity.IsZero())
	assert.Equal(t, uint64(1), info.PacketsReceived)
	assert.InDelta(t, 1.0, info.TotalAudioSeconds, 1e-9)
	require.Len(t, info.Transcript, 1)
	assert.Equal(t, "xin chào", info.Transcript[0].Text)
}

func TestTranscriptEndpoint(t *testing.T) {
	ts, srv, _ := newTestServer(t)

	sess, _ := srv.sessions.GetOrCreate("tr", session.DefaultMetadata(), session.DefaultStreamConfig())
	sess.AddResult(recognizer.Result{Text: "một", IsFinal: true}, "scripted")
	sess.AddResult(recognizer.Result{Text: "hai", IsFinal: false}, "scripted")

	resp, err := http.Get(ts.URL + "/audio/tr/transcript")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tr transcriptResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tr))
	require.Len(t, tr.TranscriptHistory, 1)
	assert.Equal(t, "một", tr.TranscriptHistory[0].Text)
	assert.Equal(t, "một hai", tr.CurrentTranscript)
}

func TestDeleteSessionEndpoint(t *testing.T) {
	ts, srv, _ := newTestServer(t)
	srv.sessions.GetOrCreate("gone", session.DefaultMetadata(), session.DefaultStreamConfig())

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/audio/gone", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, srv.sessions.Get("gone"))

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
	assert.Contains(t, health, "engines_available")
	assert.Equal(t, float64(0), health["active_connections"])
	ms, ok := health["timestamp"].(float64)
	require.True(t, ok, "health timestamp is numeric")
	assert.Greater(t, ms, float64(1e12))
}

func TestTranscribeFileMissingFile(t *testing.T) {
	ts, _, _ := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("engine", "scripted"))
	require.NoError(t, mw.Close())

	resp, err := http.Post(ts.URL+"/transcribe", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTranscribeFileUnknownEngineIsClientError(t *testing.T) {
	ts, _, _ := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "clip.wav")
	require.NoError(t, err)
	_, err = fw.Write([]byte("RIFF fake payload"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("engine", "no-such-engine"))
	require.NoError(t, mw.Close())

	resp, err := http.Post(ts.URL+"/transcribe", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTranscribeFileUnsupportedEngine(t *testing.T) {
	ts, _, _ := newTestServer(t)

	// The scripted engine has no file-transcription support.
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "clip.wav")
	require.NoError(t, err)
	_, err = fw.Write([]byte("RIFF fake payload"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("engine", "scripted"))
	require.NoError(t, mw.Close())

	resp, err := http.Post(ts.URL+"/transcribe", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}
