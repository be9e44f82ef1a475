package survey

import (
	"sync"
	"time"
)

// Sessions holds the branch each conversation picked last.
type Sessions struct {
	mu  sync.Mutex
	m   map[int64]Session
	ttl time.Duration
}

func NewSessions(ttl time.Duration) *Sessions {
	return &Sessions{m: make(map[int64]Session), ttl: ttl}
}

func (s *Sessions) Set(conv int64, sess Session) {
	s.mu.Lock()
	s.m[conv] = sess
	s.mu.Unlock()
}

func (s *Sessions) Get(conv int64) (Session, bool) {
	s.mu.Lock()
	sess, ok := s.m[conv]
	s.mu.Unlock()
	return sess, ok
}

func (s *Sessions) Delete(conv int64) {
	s.mu.Lock()
	delete(s.m, conv)
	s.mu.Unlock()
}

// DeleteIfPoll removes the session only while it still points at pollID.
func (s *Sessions) DeleteIfPoll(conv int64, pollID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[conv]
	if !ok || sess.PollID != pollID {
		return false
	}
	delete(s.m, conv)
	return true
}

func (s *Sessions) Sweep(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := now.Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for conv, sess := range s.m {
		if sess.UpdatedAt.Before(cutoff) {
			delete(s.m, conv)
			n++
		}
	}
	return n
}
