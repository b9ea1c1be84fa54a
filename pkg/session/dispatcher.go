package session

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/streamtext-ai/streamtext/pkg/recognizer"
	"github.com/streamtext-ai/streamtext/pkg/vad"
)

// Segmentation states of the dispatcher's VAD machine.
type vadState int

const (
	stateIdle vadState = iota
	stateSpeaking
	stateTrailingSilence
)

func (st vadState) String() string {
	switch st {
	case stateSpeaking:
		return "speaking"
	case stateTrailingSilence:
		return "trailing_silence"
	default:
		return "idle"
	}
}

// Pacing of the dispatch loop: a short breath between processed windows and
// a longer wait when the buffer has not filled a window yet.
const (
	processInterval = 50 * time.Millisecond
	idleWait        = 100 * time.Millisecond
)

// Dispatcher is the per-session processing loop. It pulls fixed windows
// from the session's stream buffer, runs voice-activity segmentation,
// feeds voiced audio to the recognizer and hands results to the sink.
//
// Exactly one dispatcher runs per session at a time; the session's
// recognizer is only ever touched from this goroutine.
type Dispatcher struct {
	sess       *Session
	classifier vad.Classifier
	sink       func(recognizer.Result, string)

	cancel context.CancelFunc
	done   chan struct{}

	state        vadState
	silenceSince time.Time

	now   func() time.Time // injectable for tests
	sleep func(context.Context, time.Duration)
}

// NewDispatcher prepares a dispatcher for sess. sink receives every
// non-empty recognition result together with the engine name; it runs on
// the dispatcher goroutine and must not block for long.
func NewDispatcher(sess *Session, sink func(recognizer.Result, string)) *Dispatcher {
	return &Dispatcher{
		sess:       sess,
		classifier: newClassifier(sess),
		sink:       sink,
		state:      stateIdle,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

// newClassifier picks the Silero model when one is configured and compiled
// in, otherwise the RMS threshold classifier.
func newClassifier(sess *Session) vad.Classifier {
	if modelPath := os.Getenv("STREAMTEXT_SILERO_MODEL"); modelPath != "" && vad.SileroAvailable() {
		c, err := vad.NewSileroClassifier(vad.SileroConfig{
			ModelPath:  modelPath,
			SampleRate: sess.Metadata().SampleRate,
			Threshold:  sess.Config().VADThreshold,
		})
		if err == nil {
			return c
		}
		log.Printf("[session %s] silero classifier unavailable, falling back to RMS: %v", sess.ID, err)
	}
	return vad.NewRMSClassifier(sess.Config().VADThreshold)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Start launches the processing loop. It returns immediately; the loop
// stops when Stop is called or parent is cancelled.
func (d *Dispatcher) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.sess.SetProcessing(true)

	go d.run(ctx)
}

// Stop cancels the loop and waits for it to exit.
func (d *Dispatcher) Stop() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
}

// Running reports whether the loop goroutine is still alive.
func (d *Dispatcher) Running() bool {
	if d.done == nil {
		return false
	}
	select {
	case <-d.done:
		return false
	default:
		return true
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	defer d.sess.SetProcessing(false)

	log.Printf("[session %s] dispatcher started", d.sess.ID)
	defer log.Printf("[session %s] dispatcher stopped", d.sess.ID)

	for {
		if ctx.Err() != nil {
			return
		}

		window, ok := d.sess.ExtractWindow()
		if !ok {
			d.sleep(ctx, idleWait)
			continue
		}

		d.processWindow(ctx, window)
		d.sleep(ctx, processInterval)
	}
}

// processWindow advances the VAD machine for one window and runs
// recognition unless the window is pre-speech silence.
func (d *Dispatcher) processWindow(ctx context.Context, window []byte) {
	cfg := d.sess.Config()

	skip := false
	if cfg.VADEnabled {
		d.classifier = syncThreshold(d.classifier, cfg.VADThreshold)
		voiced, _ := d.classifier.Classify(window)
		skip = !d.advanceState(voiced, cfg.SilenceDuration)
	}
	if skip {
		return
	}

	rec, err := d.sess.Recognizer()
	if err != nil {
		log.Printf("[session %s] recognizer unavailable: %v", d.sess.ID, err)
		return
	}

	res, err := rec.ProcessAudio(window)
	if err != nil {
		log.Printf("[session %s] recognition error: %v", d.sess.ID, err)
		return
	}
	// Stopped while the engine was busy; a late result must not surface.
	if ctx.Err() != nil {
		return
	}
	if res.Text == "" {
		return
	}

	d.sess.AddResult(res, rec.EngineName())
	if d.sink != nil {
		d.sink(res, rec.EngineName())
	}
}

// advanceState updates the segmentation machine and reports whether the
// current window should be fed to the recognizer. Only pre-speech silence
// (idle and unvoiced) is skipped; trailing silence still flows through so
// the engine can detect the endpoint itself.
func (d *Dispatcher) advanceState(voiced bool, silenceDuration float64) bool {
	switch d.state {
	case stateIdle:
		if voiced {
			d.setState(stateSpeaking)
			return true
		}
		return false

	case stateSpeaking:
		if !voiced {
			d.silenceSince = d.now()
			d.setState(stateTrailingSilence)
		}
		return true

	case stateTrailingSilence:
		if voiced {
			d.setState(stateSpeaking)
			return true
		}
		if d.now().Sub(d.silenceSince).Seconds() > silenceDuration {
			d.setState(stateIdle)
			// Utterance over: force the engine to commit and start fresh.
			if rec, err := d.sess.Recognizer(); err == nil {
				rec.Reset()
			}
			return false
		}
		return true
	}
	return true
}

func (d *Dispatcher) setState(next vadState) {
	if next == d.state {
		return
	}
	log.Printf("[session %s] vad %s -> %s", d.sess.ID, d.state, next)
	d.state = next

	switch next {
	case stateSpeaking:
		d.sess.setVADState(true, time.Time{})
	case stateTrailingSilence:
		d.sess.setVADState(false, d.silenceSince)
	default:
		d.sess.setVADState(false, time.Time{})
	}
}

// syncThreshold rebuilds the RMS classifier when live config changed its
// threshold. Non-RMS classifiers are left alone.
func syncThreshold(c vad.Classifier, threshold float32) vad.Classifier {
	if rms, ok := c.(*vad.RMSClassifier); ok && rms.Threshold != threshold {
		return vad.NewRMSClassifier(threshold)
	}
	return c
}
