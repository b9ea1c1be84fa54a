package session

import (
	"log"
	"sync"
	"time"
)

// Reaper defaults: sessions idle past maxAge are removed on each sweep.
const (
	DefaultMaxAge       = 30 * time.Minute
	DefaultReapInterval = 60 * time.Second
)

// Manager owns the session table and the background reaper that evicts
// sessions abandoned by their clients.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	maxAge       time.Duration
	reapInterval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	now func() time.Time // injectable for tests
}

// NewManager creates a manager. Call StartReaper to enable eviction.
func NewManager() *Manager {
	return &Manager{
		sessions:     make(map[string]*Session),
		maxAge:       DefaultMaxAge,
		reapInterval: DefaultReapInterval,
		stopCh:       make(chan struct{}),
		now:          time.Now,
	}
}

// GetOrCreate returns the session with the given ID, creating it with the
// supplied metadata and config when it does not exist. Creation is
// idempotent: an existing session is returned untouched, so a client
// reconnecting with different parameters must send a metadata frame to
// change them.
func (m *Manager) GetOrCreate(id string, meta Metadata, cfg StreamConfig) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		return s, false
	}

	s := newSession(id, meta, cfg, m.now)
	m.sessions[id] = s
	log.Printf("[session %s] created (rate=%d, lang=%s, engine=%s)",
		id, s.Metadata().SampleRate, s.Metadata().Language, s.Config().Engine)
	return s, true
}

// Get returns the session with the given ID, or nil.
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// Delete removes and closes a session. Returns false when no such session
// exists.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return false
	}
	if err := s.Close(); err != nil {
		log.Printf("[session %s] close: %v", id, err)
	}
	log.Printf("[session %s] deleted", id)
	return true
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// ActiveConnections sums the open streaming connections across all
// sessions.
func (m *Manager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, s := range m.sessions {
		total += s.ActiveConnections()
	}
	return total
}

// IDs returns a snapshot of live session IDs.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	return out
}

// StartReaper launches the background eviction loop.
func (m *Manager) StartReaper() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.reapInterval)
		defer ticker.Stop()

		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.reapOnce()
			}
		}
	}()
}

// reapOnce evicts every session idle for longer than maxAge. Sessions with
// an open connection are never reaped; activity timestamps keep them fresh
// anyway, this guards against clock skew on silent connections.
func (m *Manager) reapOnce() {
	m.mu.RLock()
	var expired []string
	for id, s := range m.sessions {
		if s.ActiveConnections() == 0 && s.IdleFor() > m.maxAge {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		log.Printf("[session %s] idle beyond %s, reaping", id, m.maxAge)
		m.Delete(id)
	}
}

// Stop halts the reaper and closes every session.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()

	for _, id := range m.IDs() {
		m.Delete(id)
	}
}
