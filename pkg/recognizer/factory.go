package recognizer

import (
	"fmt"
	"strings"
	"sync"
)

// engineAliases maps legacy engine names still used by existing clients to
// the registry names. "vosk" predates the transducer back-end and
// "speechrecognition"/"sr" predate the direct cloud client.
var engineAliases = map[string]string{
	"vosk":              EngineKaldiStreaming,
	"speechrecognition": EngineCloudHTTP,
	"sr":                EngineCloudHTTP,
}

// NormalizeEngine lower-cases an engine name and resolves aliases. Empty
// input becomes EngineAuto.
func NormalizeEngine(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return EngineAuto
	}
	if canonical, ok := engineAliases[name]; ok {
		return canonical
	}
	return name
}

// New builds a recognizer for the given engine name, applying alias
// resolution and config defaults. This is the entry point sessions use; it
// always returns a fresh instance because session recognizers carry
// per-utterance state.
func New(engine string, cfg Config) (Recognizer, error) {
	applyDefaults(&cfg)
	return Create(NormalizeEngine(engine), cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Language == "" {
		cfg.Language = "vi"
	}
	if cfg.ModelSize == "" {
		cfg.ModelSize = "small"
	}
}

// SharedPool memoizes recognizer instances by their construction parameters
// so stateless one-shot work (file transcription) can reuse loaded models
// instead of paying model load on every request.
//
// Pooled instances are handed out to one caller at a time; Release returns
// them for reuse.
type SharedPool struct {
	mu    sync.Mutex
	idle  map[string][]Recognizer
	inUse int
}

// NewSharedPool creates an empty pool.
func NewSharedPool() *SharedPool {
	return &SharedPool{idle: make(map[string][]Recognizer)}
}

func poolKey(engine string, cfg Config) string {
	return fmt.Sprintf("%s|%s|%d|%s", engine, cfg.Language, cfg.SampleRate, cfg.ModelSize)
}

// Acquire returns an idle recognizer matching the parameters, constructing
// one when none is cached.
func (p *SharedPool) Acquire(engine string, cfg Config) (Recognizer, error) {
	applyDefaults(&cfg)
	engine = NormalizeEngine(engine)
	key := poolKey(engine, cfg)

	p.mu.Lock()
	if cached := p.idle[key]; len(cached) > 0 {
		rec := cached[len(cached)-1]
		p.idle[key] = cached[:len(cached)-1]
		p.inUse++
		p.mu.Unlock()
		return rec, nil
	}
	p.mu.Unlock()

	rec, err := Create(engine, cfg)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.inUse++
	p.mu.Unlock()
	return rec, nil
}

// Release resets the recognizer and returns it to the pool for reuse.
func (p *SharedPool) Release(engine string, cfg Config, rec Recognizer) {
	if rec == nil {
		return
	}
	applyDefaults(&cfg)
	rec.Reset()

	key := poolKey(NormalizeEngine(engine), cfg)
	p.mu.Lock()
	p.idle[key] = append(p.idle[key], rec)
	p.inUse--
	p.mu.Unlock()
}

// Close releases every idle recognizer. In-use instances are the caller's
// responsibility.
func (p *SharedPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for key, cached := range p.idle {
		for _, rec := range cached {
			if err := rec.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		delete(p.idle, key)
	}
	return firstErr
}
