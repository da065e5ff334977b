package notes

import (
	"sync"

	"github.com/sah-anshu/wa2fa-meta/ports"
)

// MemoryProvider keeps session notes in process memory. It is the default
// backing for single-instance deployments and for tests.
type MemoryProvider struct {
	mu       sync.Mutex
	sessions map[string]map[string]string
}

// NewMemoryProvider creates an empty provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{sessions: make(map[string]map[string]string)}
}

// ForSession returns the notes view for a session, creating it on first use.
func (p *MemoryProvider) ForSession(sessionID string) ports.Notes {
	return &memoryNotes{provider: p, sessionID: sessionID}
}

// DropSession removes all notes for a session, e.g. when the login attempt ends.
func (p *MemoryProvider) DropSession(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, sessionID)
}

type memoryNotes struct {
	provider  *MemoryProvider
	sessionID string
}

func (n *memoryNotes) Get(key string) string {
	n.provider.mu.Lock()
	defer n.provider.mu.Unlock()
	return n.provider.sessions[n.sessionID][key]
}

func (n *memoryNotes) Set(key, value string) {
	n.provider.mu.Lock()
	defer n.provider.mu.Unlock()
	session, ok := n.provider.sessions[n.sessionID]
	if !ok {
		session = make(map[string]string)
		n.provider.sessions[n.sessionID] = session
	}
	session[key] = value
}

func (n *memoryNotes) Remove(key string) {
	n.provider.mu.Lock()
	defer n.provider.mu.Unlock()
	if session, ok := n.provider.sessions[n.sessionID]; ok {
		delete(session, key)
		if len(session) == 0 {
			delete(n.provider.sessions, n.sessionID)
		}
	}
}
