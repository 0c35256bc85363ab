package api

import (
	"sync"
	"time"
)

// loginState is what the login page remembers until the provider calls back.
type loginState struct {
	nonce    string // expected ID token nonce
	redirect string // local path to return to after sign-in
}

// loginStateStore is a thread-safe in-memory store of pending logins keyed by
// the CSRF token carried in the OAuth state parameter. Entries expire after ttl.
type loginStateStore struct {
	mu      sync.Mutex
	entries map[string]loginEntry
	ttl     time.Duration
	now     func() time.Time
}

type loginEntry struct {
	state     loginState
	expiresAt time.Time
}

func newLoginStateStore(ttl time.Duration) *loginStateStore {
	return &loginStateStore{
		entries: make(map[string]loginEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Put stores st under key, replacing any existing entry.
func (s *loginStateStore) Put(key string, st loginState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpiredLocked()
	s.entries[key] = loginEntry{state: st, expiresAt: s.now().Add(s.ttl)}
}

// Take returns and removes the entry for key. An entry can be taken once.
func (s *loginStateStore) Take(key string) (loginState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpiredLocked()
	entry, ok := s.entries[key]
	if !ok {
		return loginState{}, false
	}
	delete(s.entries, key)
	return entry.state, true
}

// Len returns the number of pending logins.
func (s *loginStateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpiredLocked()
	return len(s.entries)
}

// evictExpiredLocked removes expired entries. Caller must hold mu.
func (s *loginStateStore) evictExpiredLocked() {
	now := s.now()
	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, k)
		}
	}
}
