package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamtext-ai/streamtext/pkg/recognizer"
)

func newDispatcherSession(t *testing.T) (*Session, **stubRecognizer) {
	t.Helper()
	last := registerStub(t)

	cfg := DefaultStreamConfig()
	cfg.Engine = "stub"
	s := New("disp", DefaultMetadata(), cfg)
	return s, last
}

// feedWindows pushes n windows' worth of audio at the given amplitude and
// runs the dispatcher's window step directly, bypassing the loop pacing.
func feedWindows(t *testing.T, d *Dispatcher, s *Session, n int, amplitude float32) {
	t.Helper()
	for i := 0; i < n; i++ {
		s.AddChunk(floatChunk(8000, amplitude)) // 0.5 s window, 0.25 s advance
		for {
			w, ok := s.ExtractWindow()
			if !ok {
				break
			}
			d.processWindow(context.Background(), w)
		}
	}
}

func TestDispatcherSkipsPreSpeechSilence(t *testing.T) {
	s, last := newDispatcherSession(t)
	d := NewDispatcher(s, nil)
	d.now = func() time.Time { return time.Unix(0, 0) }

	feedWindows(t, d, s, 4, 0.0)

	assert.Nil(t, *last, "silence before speech never reaches the engine")
	assert.Equal(t, stateIdle, d.state)
}

func TestDispatcherSpeechFlowsToRecognizer(t *testing.T) {
	s, last := newDispatcherSession(t)

	var emitted []recognizer.Result
	d := NewDispatcher(s, func(res recognizer.Result, engine string) {
		emitted = append(emitted, res)
	})
	d.now = func() time.Time { return time.Unix(0, 0) }

	feedWindows(t, d, s, 2, 0.8)

	require.NotNil(t, *last)
	assert.Positive(t, (*last).Chunks())
	assert.Equal(t, stateSpeaking, d.state)
	assert.Empty(t, emitted, "stub returned no text, nothing emitted")
}

func TestDispatcherEmitsResults(t *testing.T) {
	s, last := newDispatcherSession(t)

	var emitted []recognizer.Result
	d := NewDispatcher(s, func(res recognizer.Result, engine string) {
		emitted = append(emitted, res)
	})
	d.now = func() time.Time { return time.Unix(0, 0) }

	// First build the engine via a voiced window, then script its output.
	feedWindows(t, d, s, 1, 0.8)
	require.NotNil(t, *last)
	(*last).results = []recognizer.Result{
		{Text: "xin chào", IsFinal: false},
		{Text: "xin chào các bạn", IsFinal: true},
	}

	feedWindows(t, d, s, 2, 0.8)

	require.Len(t, emitted, 2)
	assert.False(t, emitted[0].IsFinal)
	assert.True(t, emitted[1].IsFinal)
	assert.Equal(t, "xin chào các bạn", s.CurrentTranscript())
}

func TestSilenceSegmentationResetsEngineOnce(t *testing.T) {
	s, last := newDispatcherSession(t)
	d := NewDispatcher(s, nil)

	now := time.Unix(0, 0)
	d.now = func() time.Time { return now }

	// Speech, then sustained silence past the 0.5 s threshold.
	feedWindows(t, d, s, 2, 0.8)
	require.NotNil(t, *last)
	require.Equal(t, stateSpeaking, d.state)

	feedWindows(t, d, s, 1, 0.0)
	assert.Equal(t, stateTrailingSilence, d.state)
	assert.Zero(t, (*last).Resets())

	now = now.Add(600 * time.Millisecond)
	feedWindows(t, d, s, 1, 0.0)
	assert.Equal(t, stateIdle, d.state)
	assert.Equal(t, 1, (*last).Resets(), "one reset per utterance boundary")

	// Further silence stays idle and does not reset again.
	now = now.Add(5 * time.Second)
	feedWindows(t, d, s, 3, 0.0)
	assert.Equal(t, 1, (*last).Resets())
}

func TestSilenceExactlyAtThresholdStaysTrailing(t *testing.T) {
	s, last := newDispatcherSession(t)
	d := NewDispatcher(s, nil)

	now := time.Unix(0, 0)
	d.now = func() time.Time { return now }

	feedWindows(t, d, s, 1, 0.8)
	feedWindows(t, d, s, 1, 0.0)
	require.Equal(t, stateTrailingSilence, d.state)

	// The boundary fires only once elapsed silence exceeds the threshold.
	now = now.Add(500 * time.Millisecond)
	feedWindows(t, d, s, 1, 0.0)
	assert.Equal(t, stateTrailingSilence, d.state)
	assert.Zero(t, (*last).Resets())

	now = now.Add(time.Millisecond)
	feedWindows(t, d, s, 1, 0.0)
	assert.Equal(t, stateIdle, d.state)
	assert.Equal(t, 1, (*last).Resets())
}

func TestSessionMirrorsSpeakingState(t *testing.T) {
	s, _ := newDispatcherSession(t)
	d := NewDispatcher(s, nil)

	now := time.Unix(0, 0)
	d.now = func() time.Time { return now }

	assert.False(t, s.IsSpeaking())

	feedWindows(t, d, s, 2, 0.8)
	assert.True(t, s.IsSpeaking())

	feedWindows(t, d, s, 1, 0.0)
	assert.False(t, s.IsSpeaking(), "trailing silence is not speech")

	now = now.Add(600 * time.Millisecond)
	feedWindows(t, d, s, 1, 0.0)
	assert.False(t, s.IsSpeaking())

	feedWindows(t, d, s, 1, 0.8)
	assert.True(t, s.IsSpeaking())
}

func TestStoppedDispatcherSuppressesLateResult(t *testing.T) {
	s, last := newDispatcherSession(t)

	var emitted []recognizer.Result
	d := NewDispatcher(s, func(res recognizer.Result, engine string) {
		emitted = append(emitted, res)
	})
	d.now = func() time.Time { return time.Unix(0, 0) }

	feedWindows(t, d, s, 1, 0.8)
	require.NotNil(t, *last)
	(*last).results = []recognizer.Result{{Text: "muộn rồi", IsFinal: true}}

	// A window processed under a cancelled context still reaches the engine,
	// but its result is discarded.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s.AddChunk(floatChunk(8000, 0.8))
	w, ok := s.ExtractWindow()
	require.True(t, ok)
	d.processWindow(ctx, w)

	assert.Empty(t, emitted)
	assert.Empty(t, s.Transcripts())
	assert.Empty(t, s.CurrentTranscript())
}

func TestSpeechResumesFromTrailingSilence(t *testing.T) {
	s, _ := newDispatcherSession(t)
	d := NewDispatcher(s, nil)

	now := time.Unix(0, 0)
	d.now = func() time.Time { return now }

	feedWindows(t, d, s, 1, 0.8)
	feedWindows(t, d, s, 1, 0.0)
	require.Equal(t, stateTrailingSilence, d.state)

	// Voice returns before the silence threshold elapses.
	now = now.Add(200 * time.Millisecond)
	feedWindows(t, d, s, 1, 0.8)
	assert.Equal(t, stateSpeaking, d.state)
}

func TestVADDisabledProcessesEverything(t *testing.T) {
	last := registerStub(t)

	cfg := DefaultStreamConfig()
	cfg.Engine = "stub"
	cfg.VADEnabled = false
	s := New("novad", DefaultMetadata(), cfg)

	d := NewDispatcher(s, nil)
	feedWindows(t, d, s, 2, 0.0)

	require.NotNil(t, *last)
	assert.Positive(t, (*last).Chunks(), "silence is processed when VAD is off")
}

func TestDispatcherStartStop(t *testing.T) {
	s, _ := newDispatcherSession(t)
	d := NewDispatcher(s, nil)

	d.Start(context.Background())
	assert.True(t, d.Running())
	assert.True(t, s.IsProcessing())

	d.Stop()
	assert.False(t, d.Running())
	assert.False(t, s.IsProcessing())
}

func TestDispatcherStopsWithParentContext(t *testing.T) {
	s, _ := newDispatcherSession(t)
	d := NewDispatcher(s, nil)

	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	cancel()

	require.Eventually(t, func() bool { return !d.Running() },
		time.Second, 10*time.Millisecond)
	assert.False(t, s.IsProcessing())
}
