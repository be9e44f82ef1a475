package survey

import (
	"sync"
	"time"
)

// Registry maps platform poll ids to the polls this process created.
// Records older than ttl are removed by Sweep; a zero ttl keeps them forever.
type Registry struct {
	mu    sync.RWMutex
	polls map[string]PollRecord
	ttl   time.Duration
}

func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{polls: make(map[string]PollRecord), ttl: ttl}
}

func (r *Registry) Put(rec PollRecord) {
	r.mu.Lock()
	r.polls[rec.PollID] = rec
	r.mu.Unlock()
}

func (r *Registry) Get(pollID string) (PollRecord, bool) {
	r.mu.RLock()
	rec, ok := r.polls[pollID]
	r.mu.RUnlock()
	return rec, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.polls)
}

// Sweep drops expired records and returns how many were removed.
func (r *Registry) Sweep(now time.Time) int {
	if r.ttl <= 0 {
		return 0
	}
	cutoff := now.Add(-r.ttl)

	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, rec := range r.polls {
		if rec.CreatedAt.Before(cutoff) {
			delete(r.polls, id)
			n++
		}
	}
	return n
}
