package ledger

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-memory session store for dev mode and tests. A single
// mutex makes the existence check and the insert one critical section, so
// concurrent submissions for the same (teacher, date) cannot both land.
type Memory struct {
	mu       sync.Mutex
	sessions []Session
	byKey    map[string]struct{}
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{byKey: make(map[string]struct{})}
}

var _ Store = (*Memory)(nil)

func key(teacherID, date string) string {
	return teacherID + "|" + date
}

// CreateSession stores a session, rejecting duplicates per (teacher, date).
func (m *Memory) CreateSession(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(s.TeacherID, s.Date)
	if _, ok := m.byKey[k]; ok {
		return ErrAlreadySubmitted
	}
	m.byKey[k] = struct{}{}
	m.sessions = append(m.sessions, s)
	return nil
}

// SessionExists probes for a session with the given teacher and date.
func (m *Memory) SessionExists(_ context.Context, teacherID, date string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byKey[key(teacherID, date)]
	return ok, nil
}

// ListSessions returns all sessions, newest first.
func (m *Memory) ListSessions(_ context.Context) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, len(m.sessions))
	copy(out, m.sessions)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
