package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"hookahplus/internal/domain"
)

// Memory is an in-process store with the same contract as Repo. It is used
// for ephemeral lounges and tests.
type Memory struct {
	mu       sync.RWMutex
	order    []string
	sessions map[string]domain.Session
	events   []domain.WorkflowEvent
	seq      int64
	keys     map[string]domain.StaffKey
}

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]domain.Session),
		keys:     make(map[string]domain.StaffKey),
	}
}

func (m *Memory) CreateSession(_ context.Context, s domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.SessionID]; ok {
		return fmt.Errorf("session %s: %w", s.SessionID, ErrSessionExists)
	}
	m.sessions[s.SessionID] = s.Clone()
	m.order = append(m.order, s.SessionID)
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.Session{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return s.Clone(), nil
}

func (m *Memory) ListSessions(_ context.Context) ([]domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Session, 0, len(m.order))
	for _, id := range m.order {
		res = append(res, m.sessions[id].Clone())
	}
	return res, nil
}

func (m *Memory) ApplyTransition(_ context.Context, s domain.Session, evt domain.WorkflowEvent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.SessionID]; !ok {
		return 0, fmt.Errorf("session %s: %w", s.SessionID, ErrNotFound)
	}
	m.sessions[s.SessionID] = s.Clone()
	m.seq++
	evt = evt.Clone()
	evt.Seq = m.seq
	m.events = append(m.events, evt)
	return m.seq, nil
}

func (m *Memory) ListEvents(_ context.Context, sessionID string) ([]domain.WorkflowEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.WorkflowEvent
	for _, evt := range m.events {
		if sessionID == "" || evt.SessionID == sessionID {
			res = append(res, evt.Clone())
		}
	}
	return res, nil
}

func (m *Memory) EventsAfter(_ context.Context, cursor int64, limit int) ([]domain.WorkflowEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.WorkflowEvent
	for _, evt := range m.events {
		if evt.Seq <= cursor {
			continue
		}
		res = append(res, evt.Clone())
		if len(res) == limit {
			break
		}
	}
	return res, nil
}

func (m *Memory) LatestEventSeq(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.events) == 0 {
		return 0, nil
	}
	return m.events[len(m.events)-1].Seq, nil
}

// Reset clears sessions and events. The sequence counter is kept.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]domain.Session)
	m.order = nil
	m.events = nil
	return nil
}

func (m *Memory) InsertStaffKey(_ context.Context, key domain.StaffKey) error {
	if err := validateStaffKey(key); err != nil {
		return err
	}
	if key.CreatedAt == "" {
		key.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.KeyHash == key.KeyHash {
			return fmt.Errorf("staff key hash already registered")
		}
	}
	if _, ok := m.keys[key.ID]; ok {
		return fmt.Errorf("staff key %s already exists", key.ID)
	}
	m.keys[key.ID] = key
	return nil
}

func (m *Memory) GetStaffKeyByHash(_ context.Context, hash string) (domain.StaffKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, k := range m.keys {
		if k.KeyHash == hash {
			return k, nil
		}
	}
	return domain.StaffKey{}, ErrNotFound
}

func (m *Memory) ListStaffKeys(_ context.Context, staffID string) ([]domain.StaffKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []domain.StaffKey
	for _, k := range m.keys {
		if staffID == "" || k.StaffID == staffID {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CreatedAt != keys[j].CreatedAt {
			return keys[i].CreatedAt > keys[j].CreatedAt
		}
		return keys[i].ID < keys[j].ID
	})
	return keys, nil
}

func (m *Memory) DeleteStaffKey(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[id]; !ok {
		return ErrNotFound
	}
	delete(m.keys, id)
	return nil
}
