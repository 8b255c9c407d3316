package agent

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/austindbirch/harbor_agent/internal/llm"
	"github.com/austindbirch/harbor_agent/internal/logging"
)

// Session is the chat memory of one conversation. Hold mu while reading or extending History.
type Session struct {
	mu       sync.Mutex
	History  []llm.Message
	lastUsed time.Time
}

// SessionStore keeps chat memory per session id and forgets sessions idle longer than ttl
type SessionStore struct {
	system string
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionStore seeds every new session with the system prompt. A ttl <= 0 keeps sessions forever.
func NewSessionStore(system string, ttl time.Duration) *SessionStore {
	return &SessionStore{
		system:   system,
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Acquire returns the locked session for id, creating it if needed. Call the returned func to release it.
func (s *SessionStore) Acquire(id string) (*Session, func()) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = &Session{History: []llm.Message{llm.System(s.system)}}
		s.sessions[id] = sess
	}
	sess.lastUsed = s.now()
	s.mu.Unlock()

	sess.mu.Lock()
	return sess, sess.mu.Unlock
}

// Snapshot returns a copy of the history for id, or nil when the session does not exist
func (s *SessionStore) Snapshot(id string) []llm.Message {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return slices.Clone(sess.History)
}

func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops sessions idle for longer than the ttl and returns how many it dropped
func (s *SessionStore) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if sess.lastUsed.Before(cutoff) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done
func (s *SessionStore) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || s.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				logging.Plain().WithFields(map[string]any{
					"evicted":   n,
					"remaining": s.Len(),
				}).Debug("swept idle sessions")
			}
		}
	}
}
