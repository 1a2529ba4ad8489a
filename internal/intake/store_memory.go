package intake

import (
	"context"
	"sync"
)

// MemoryStateStore keeps conversation records in memory. Used by tests and
// local development; it honors the same version condition as DynamoDB.
type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[string]*State

	// SaveErr, when set, fails the next Save. Lets tests exercise the
	// storage-failure path.
	SaveErr error
}

// NewMemoryStateStore creates an empty in-memory store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]*State)}
}

var _ StateStore = (*MemoryStateStore)(nil)

func (m *MemoryStateStore) Load(_ context.Context, sessionID string) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return st.Clone(), nil
}

func (m *MemoryStateStore) Save(_ context.Context, st *State) error {
	if m.SaveErr != nil {
		err := m.SaveErr
		m.SaveErr = nil
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.states[st.SessionID]
	if ok && existing.Version != st.Version {
		return ErrVersionConflict
	}
	if !ok && st.Version != 0 {
		return ErrVersionConflict
	}
	st.Version++
	m.states[st.SessionID] = st.Clone()
	return nil
}

func (m *MemoryStateStore) FindByResumeToken(_ context.Context, token string) (*State, error) {
	if token == "" {
		return nil, ErrInvalidResumeToken
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, st := range m.states {
		if st.ResumeToken == token {
			return st.Clone(), nil
		}
	}
	return nil, ErrInvalidResumeToken
}

func (m *MemoryStateStore) ListByFirm(_ context.Context, firmID string) ([]State, error) {
	if firmID == "" {
		return nil, ErrMissingFirmID
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []State
	for _, st := range m.states {
		if st.FirmID == firmID {
			out = append(out, *st.Clone())
		}
	}
	return out, nil
}
