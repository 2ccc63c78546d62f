package session

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"
)

const DefaultTTL = 300 * time.Second

// Store is the in-memory session table. Expired sessions are never returned.
type Store struct {
	mu       sync.Mutex
	sessions map[string]Session
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{sessions: map[string]Session{}, now: time.Now}
}

// Save writes s under s.ID, replacing any previous value.
func (st *Store) Save(s Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[s.ID] = s
}

// Get returns the session for id. An expired session is evicted and reported as missing.
func (st *Store) Get(id string) (Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return Session{}, false
	}
	if s.Expired(st.now()) {
		st.removeLocked(id)
		return Session{}, false
	}
	return s, true
}

// Delete removes id and wipes its handshake secrets.
func (st *Store) Delete(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.removeLocked(id)
}

// Sweep evicts every session expired at now and returns how many were removed.
func (st *Store) Sweep(now time.Time) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	removed := 0
	for id, s := range st.sessions {
		if s.Expired(now) {
			st.removeLocked(id)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (st *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st.Sweep(st.now())
		}
	}
}

func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

func (st *Store) removeLocked(id string) {
	s, ok := st.sessions[id]
	if !ok {
		return
	}
	s.Phantom.Wipe()
	st.sessions[id] = s
	delete(st.sessions, id)
}

func zero(b []byte) {
	if len(b) == 0 {
		return
	}
	subtle.ConstantTimeCopy(1, b, make([]byte, len(b)))
}
