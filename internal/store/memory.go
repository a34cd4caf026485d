package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/example/star-supply/internal/game"
)

// Memory keeps everything in process. Records are copied in and out so
// callers never share state with the store.
type Memory struct {
	mu       sync.RWMutex
	users    map[string]*game.User
	sessions map[string]*game.Session
}

func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]*game.User),
		sessions: make(map[string]*game.Session),
	}
}

func (m *Memory) FindUser(_ context.Context, id string) (*game.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", game.ErrNotFound, id)
	}
	return u.Clone(), nil
}

func (m *Memory) FindUserByName(_ context.Context, username string) (*game.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			return u.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: user %s", game.ErrNotFound, username)
}

func (m *Memory) SaveUser(_ context.Context, u *game.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u.Clone()
	return nil
}

func (m *Memory) FindSessionByUser(_ context.Context, userID string) (*game.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.UserID == userID {
			return s.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: no game for user %s", game.ErrNotFound, userID)
}

func (m *Memory) ListSessions(_ context.Context) ([]*game.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*game.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *Memory) SaveSession(_ context.Context, s *game.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.sessions {
		if existing.UserID == s.UserID && id != s.ID {
			return fmt.Errorf("%w: user %s already has game %s", game.ErrConflict, s.UserID, id)
		}
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *Memory) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *Memory) Close() error { return nil }
