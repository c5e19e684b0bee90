package sessionlog

import "sync"

// SessionBufferStore is the registry of live session buffers
type SessionBufferStore interface {
	// GetOrCreate returns the buffer for id, calling create when none exists.
	// created reports whether create was used.
	GetOrCreate(id string, create func() *SessionBuffer) (buf *SessionBuffer, created bool)
	Get(id string) (*SessionBuffer, bool)
	// Evict removes the buffer for id and returns it
	Evict(id string) (*SessionBuffer, bool)
	// Range calls fn for each buffer until fn returns false
	Range(fn func(*SessionBuffer) bool)
	Len() int
}

// MemoryStore keeps session buffers in a map for the process lifetime
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*SessionBuffer
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*SessionBuffer)}
}

func (m *MemoryStore) GetOrCreate(id string, create func() *SessionBuffer) (*SessionBuffer, bool) {
	m.mu.RLock()
	buf, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return buf, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if buf, ok := m.sessions[id]; ok {
		return buf, false
	}
	buf = create()
	m.sessions[id] = buf
	return buf, true
}

func (m *MemoryStore) Get(id string) (*SessionBuffer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	buf, ok := m.sessions[id]
	return buf, ok
}

func (m *MemoryStore) Evict(id string) (*SessionBuffer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	return buf, ok
}

// Range iterates over a snapshot so fn may call back into the store
func (m *MemoryStore) Range(fn func(*SessionBuffer) bool) {
	m.mu.RLock()
	snapshot := make([]*SessionBuffer, 0, len(m.sessions))
	for _, buf := range m.sessions {
		snapshot = append(snapshot, buf)
	}
	m.mu.RUnlock()

	for _, buf := range snapshot {
		if !fn(buf) {
			return
		}
	}
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
