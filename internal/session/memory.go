package session

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store. Expired records are ignored on read and
// removed by Sweep.
type Memory struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[int64]Session
	now      func() time.Time
}

// NewMemory returns an empty in-memory store whose records expire after ttl.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:      ttl,
		sessions: make(map[int64]Session),
		now:      time.Now,
	}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, chatID int64) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(chatID), nil
}

// Update implements Store.
func (m *Memory) Update(_ context.Context, chatID int64, fn func(*Session) error) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.load(chatID)
	if err := fn(&s); err != nil {
		return Session{}, err
	}
	s = normalize(s)
	if s.Idle() {
		delete(m.sessions, chatID)
		return s, nil
	}
	s.UpdatedAt = m.now()
	m.sessions[chatID] = s
	return s, nil
}

// Sweep drops expired records and returns how many were removed.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		if m.expired(s) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *Memory) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Len returns the number of stored records, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Memory) load(chatID int64) Session {
	s, ok := m.sessions[chatID]
	if !ok || m.expired(s) {
		return Session{Step: StepIdle}
	}
	return s
}

func (m *Memory) expired(s Session) bool {
	return m.now().Sub(s.UpdatedAt) > m.ttl
}
