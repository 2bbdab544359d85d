// Package session holds per-conversation turn logs. A Manager hands out one
// Session per external key (a chat id, an HTTP session header) and evicts
// sessions that have been idle longer than its TTL.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hray3182/calpilot/internal/models"
)

const DefaultTTL = 2 * time.Hour

// Session is one conversation. The turn lock serializes turns; the log
// itself is guarded separately so readers never wait on a running turn.
type Session struct {
	ID  string
	Key string

	turn sync.Mutex

	mu       sync.RWMutex
	turns    []models.ConversationTurn
	lastUsed time.Time
}

func New(key string) *Session {
	return &Session{ID: uuid.NewString(), Key: key, lastUsed: time.Now()}
}

// Lock acquires the turn lock. Callers hold it for a whole turn.
func (s *Session) Lock() { s.turn.Lock() }

func (s *Session) Unlock() { s.turn.Unlock() }

// Append adds turns to the log, stamping CreatedAt when unset.
func (s *Session) Append(turns ...models.ConversationTurn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, t := range turns {
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		s.turns = append(s.turns, t)
	}
}

// Turns returns a copy of the log.
func (s *Session) Turns() []models.ConversationTurn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ConversationTurn, len(s.turns))
	copy(out, s.turns)
	return out
}

func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Clear drops the log but keeps the session id.
func (s *Session) Clear() {
	s.mu.Lock()
	s.turns = nil
	s.mu.Unlock()
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastUsed = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUsed
}

type Option func(*Manager)

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

type Manager struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager returns a manager evicting sessions idle for ttl. A
// non-positive ttl uses DefaultTTL.
func NewManager(ttl time.Duration, opts ...Option) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Manager{ttl: ttl, now: time.Now, sessions: make(map[string]*Session)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the live session for key, starting a fresh one if none
// exists or the previous one expired.
func (m *Manager) Get(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if s, ok := m.sessions[key]; ok && now.Sub(s.idleSince()) < m.ttl {
		s.touch(now)
		return s
	}
	s := New(key)
	s.lastUsed = now
	m.sessions[key] = s
	return s
}

// Lookup returns the session for key without creating one.
func (m *Manager) Lookup(key string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok || m.now().Sub(s.idleSince()) >= m.ttl {
		return nil, false
	}
	return s, true
}

// Reset forgets the session for key. The next Get starts over.
func (m *Manager) Reset(key string) {
	m.mu.Lock()
	delete(m.sessions, key)
	m.mu.Unlock()
}

// Sweep evicts expired sessions and returns how many were removed.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for key, s := range m.sessions {
		if now.Sub(s.idleSince()) >= m.ttl {
			delete(m.sessions, key)
			n++
		}
	}
	return n
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
