package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Jakey-Jakey/Bearsum/internal/registry"
)

// Session tracks what one browser currently owns: at most one in-flight task
// per kind, plus the raw text of the last consumed result so the download
// endpoint can serve it.
type Session struct {
	ID             string
	Bindings       map[registry.Kind]string
	Artifacts      map[registry.Kind]string
	LastActivityAt time.Time
}

// Manager holds per-browser state in process memory, keyed by the opaque id
// carried in the signed cookie. A binding pointing at a task the Registry no
// longer knows is an orphan, cleared on the next page render.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	idleTimeout time.Duration
}

func NewManager(idleTimeout time.Duration) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = time.Hour
	}
	return &Manager{
		sessions:    make(map[string]*Session),
		idleTimeout: idleTimeout,
	}
}

// Ensure returns the session for id, creating one when id is empty or
// unknown. The returned id is what the cookie layer should persist.
func (m *Manager) Ensure(id string) string {
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.LastActivityAt = now
		return id
	}
	fresh := uuid.NewString()
	m.sessions[fresh] = &Session{
		ID:             fresh,
		Bindings:       make(map[registry.Kind]string),
		Artifacts:      make(map[registry.Kind]string),
		LastActivityAt: now,
	}
	return fresh
}

// Bind points the kind slot at a task id. Last writer wins: a second
// submission of the same kind supersedes tracking of the first, which keeps
// running and stays in the Registry until consumed or swept.
func (m *Manager) Bind(sessionID string, kind registry.Kind, taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	s.Bindings[kind] = taskID
	s.LastActivityAt = time.Now().UTC()
}

// Peek returns the task id bound to the kind slot, if any.
func (m *Manager) Peek(sessionID string, kind registry.Kind) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return "", false
	}
	id, ok := s.Bindings[kind]
	return id, ok && id != ""
}

func (m *Manager) Unbind(sessionID string, kind registry.Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		delete(s.Bindings, kind)
	}
}

// PutArtifact caches the raw text of a consumed result for download.
func (m *Manager) PutArtifact(sessionID string, kind registry.Kind, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		s.Artifacts[kind] = text
	}
}

func (m *Manager) Artifact(sessionID string, kind registry.Kind) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return "", false
	}
	text, ok := s.Artifacts[kind]
	return text, ok && text != ""
}

func (m *Manager) DropArtifact(sessionID string, kind registry.Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		delete(s.Artifacts, kind)
	}
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// StartJanitor expires sessions idle beyond the timeout.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireIdle()
			}
		}
	}()
}

func (m *Manager) expireIdle() {
	now := time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if now.Sub(s.LastActivityAt) >= m.idleTimeout {
			delete(m.sessions, id)
		}
	}
}
