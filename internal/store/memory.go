package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/focusforge/internal/domain"
)

// MemoryStore implements Repository in process memory. It backs dry runs
// and replays where nothing should be written to disk.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]*domain.User
	sessions map[string]*domain.FocusSession
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*domain.User),
		sessions: make(map[string]*domain.FocusSession),
	}
}

// GetUser returns a copy of the user, or nil when absent.
func (m *MemoryStore) GetUser(_ context.Context, userID string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	cp := *user
	return &cp, nil
}

// UpsertUser stores profile fields, keeping existing totals.
func (m *MemoryStore) UpsertUser(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.users[user.UserID]; ok {
		existing.Username = user.Username
		existing.LastSeenAt = user.LastSeenAt
		existing.UpdatedAt = user.UpdatedAt
		return nil
	}
	cp := *user
	cp.TotalFocusTime, cp.SleepIncidents, cp.TotalSleepTime = 0, 0, 0
	m.users[user.UserID] = &cp
	return nil
}

// UpdateLastSeen updates the user's last activity time.
func (m *MemoryStore) UpdateLastSeen(_ context.Context, userID string, lastSeen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.users[userID]; ok {
		user.LastSeenAt = lastSeen
		user.UpdatedAt = time.Now()
	}
	return nil
}

// ApplyUserStatsDelta adds delta to the user's totals.
func (m *MemoryStore) ApplyUserStatsDelta(_ context.Context, userID string, delta domain.StatsDelta) error {
	if err := delta.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("apply stats delta for %s: %w", userID, domain.ErrUserNotFound)
	}
	user.TotalFocusTime += delta.FocusTimeDelta
	user.SleepIncidents += delta.SleepIncidentsDelta
	user.TotalSleepTime += delta.SleepTimeDelta
	user.UpdatedAt = time.Now()
	return nil
}

// CreateSession stores a copy of the session.
func (m *MemoryStore) CreateSession(_ context.Context, session *domain.FocusSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[session.ID]; exists {
		return fmt.Errorf("create session: duplicate id %s", session.ID)
	}
	if session.IsActive {
		for _, s := range m.sessions {
			if s.UserID == session.UserID && s.IsActive {
				return fmt.Errorf("create session: user %s already has active session %s", session.UserID, s.ID)
			}
		}
	}
	cp := *session
	m.sessions[session.ID] = &cp
	return nil
}

// UpdateSession merges update into the stored session.
func (m *MemoryStore) UpdateSession(_ context.Context, sessionID string, update domain.SessionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("update session %s: %w", sessionID, domain.ErrSessionNotFound)
	}
	update.Apply(session)
	return nil
}

// GetSession returns a copy of the session.
func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (*domain.FocusSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("get session %s: %w", sessionID, domain.ErrSessionNotFound)
	}
	cp := *session
	return &cp, nil
}

// ListSessions returns the user's sessions, newest first.
func (m *MemoryStore) ListSessions(_ context.Context, userID string, limit int) ([]*domain.FocusSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.FocusSession
	for _, s := range m.sessions {
		if s.UserID == userID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CloseOrphanedSessions ends every active session.
func (m *MemoryStore) CloseOrphanedSessions(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.sessions {
		if s.IsActive {
			end := s.StartTime.Add(time.Duration(s.Duration * float64(time.Second)))
			s.EndTime = &end
			s.IsActive = false
			n++
		}
	}
	return n, nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

var _ Repository = (*MemoryStore)(nil)
