package recognizer

import (
	"fmt"
	"log"
	"sync"
)

// Constructor builds a recognizer instance from a config.
type Constructor func(cfg Config) (Recognizer, error)

// Probe reports whether an engine's prerequisites (native libraries, model
// files, credentials) are satisfied without constructing it.
type Probe func() bool

type registration struct {
	construct Constructor
	probe     Probe
}

// EngineAuto asks the registry to pick the best available engine.
const EngineAuto = "auto"

// Engine names of the built-in back-ends.
const (
	EngineWhisper        = "whisper"
	EngineKaldiStreaming = "kaldi-streaming"
	EngineCloudHTTP      = "cloud-http"
)

// autoPriority is the preference order used when the caller requests "auto":
// local chunked first, then local streaming, then the network fallback.
var autoPriority = []string{EngineWhisper, EngineKaldiStreaming, EngineCloudHTTP}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]registration)
)

// Register adds an engine under name. Registering the same name twice
// replaces the earlier entry; a nil probe means always available.
func Register(name string, construct Constructor, probe Probe) {
	if probe == nil {
		probe = func() bool { return true }
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = registration{construct: construct, probe: probe}
}

// Create instantiates the named engine, or the highest-priority available
// engine when name is EngineAuto. Unknown names and engines whose probe
// fails yield an ErrCodeEngineUnavailable error.
func Create(name string, cfg Config) (Recognizer, error) {
	if name == EngineAuto {
		return createAuto(cfg)
	}

	registryMu.RLock()
	reg, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, &Error{
			Code:    ErrCodeEngineUnavailable,
			Message: fmt.Sprintf("unknown engine %q", name),
		}
	}
	if !reg.probe() {
		return nil, &Error{
			Code:    ErrCodeEngineUnavailable,
			Message: fmt.Sprintf("engine %q is not available in this environment", name),
		}
	}

	rec, err := reg.construct(cfg)
	if err != nil {
		return nil, err
	}
	if !rec.IsAvailable() {
		rec.Close()
		return nil, &Error{
			Code:    ErrCodeEngineUnavailable,
			Message: fmt.Sprintf("engine %q constructed but reports unavailable", name),
		}
	}
	return rec, nil
}

func createAuto(cfg Config) (Recognizer, error) {
	for _, name := range autoPriority {
		registryMu.RLock()
		reg, ok := registry[name]
		registryMu.RUnlock()
		if !ok || !reg.probe() {
			continue
		}

		rec, err := reg.construct(cfg)
		if err != nil {
			log.Printf("[Registry] engine %q probed available but failed to construct: %v", name, err)
			continue
		}
		if !rec.IsAvailable() {
			log.Printf("[Registry] engine %q constructed but reports unavailable", name)
			rec.Close()
			continue
		}
		log.Printf("[Registry] auto selected engine %q", name)
		return rec, nil
	}
	return nil, &Error{
		Code:    ErrCodeEngineUnavailable,
		Message: "no speech recognition engine is available",
	}
}

// EnginesAvailable returns a snapshot of every registered engine name mapped
// to its probe result. The map is fresh on every call; probes run inline.
func EnginesAvailable() map[string]bool {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make(map[string]bool, len(registry))
	for name, reg := range registry {
		out[name] = reg.probe()
	}
	return out
}

// resetRegistry clears all registrations. Test helper.
func resetRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]registration)
}
