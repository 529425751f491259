package session

import (
	"sync"
	"time"
)

// Store holds one session per Telegram user id. Entries are created lazily
// on first access and live for the process lifetime.
type Store struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[int64]*Session)}
}

// Load returns a copy of the user's session, creating an idle one if the
// user is new. Callers operate on the copy and commit changes with Update.
func (s *Store) Load(telegramID int64) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.locked(telegramID)
}

// Update applies fn to the user's session under the store lock. fn must not
// block on I/O.
func (s *Store) Update(telegramID int64, fn func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.locked(telegramID)
	fn(sess)
	sess.LastActivity = time.Now()
}

// Len returns the number of tracked sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// PruneIdle resets sessions whose last activity is older than the cutoff
// back to idle, and reports how many were reset. Rate counters survive the
// reset so a prune cannot be used to dodge the request limit.
func (s *Store) PruneIdle(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, sess := range s.sessions {
		if sess.State != StateIdle && sess.LastActivity.Before(cutoff) {
			sess.Reset()
			n++
		}
	}
	return n
}

func (s *Store) locked(telegramID int64) *Session {
	sess, ok := s.sessions[telegramID]
	if !ok {
		sess = &Session{
			TelegramID:   telegramID,
			State:        StateIdle,
			LastActivity: time.Now(),
		}
		s.sessions[telegramID] = sess
	}
	return sess
}
