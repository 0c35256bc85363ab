package session

import "sync"

// Store holds the current session. Any goroutine may read it; only the
// Synchronizer in this package writes it, through set and clear.
type Store struct {
	mu      sync.RWMutex
	current *Session

	// writeMu serializes writes with their notifications so that subscribers
	// observe every write, in write order.
	writeMu sync.Mutex

	subMu  sync.Mutex
	nextID uint64
	subs   map[uint64]func(Snapshot)
}

// NewStore returns an empty, unauthenticated store.
func NewStore() *Store {
	return &Store{subs: make(map[uint64]func(Snapshot))}
}

// IsAuthenticated reports whether a session is present.
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil
}

// Current returns a copy of the current session, or nil when signed out.
func (s *Store) Current() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Snapshot returns the authentication flag and session read together.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{IsAuthenticated: s.current != nil, Current: s.current.Clone()}
}

// Subscribe registers fn to be called after every write with the resulting
// snapshot. Calls happen synchronously on the writing goroutine, so fn must
// not block for long and must not call back into the Synchronizer. The
// returned function removes the subscription; it is safe to call more than once.
func (s *Store) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

// set replaces the current session with a copy of sess and marks the store
// authenticated. A nil sess is treated as clear.
func (s *Store) set(sess *Session) {
	if sess == nil {
		s.clear()
		return
	}
	s.write(sess.Clone())
}

// clear removes the current session and marks the store unauthenticated.
func (s *Store) clear() {
	s.write(nil)
}

func (s *Store) write(sess *Session) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.current = sess
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
}

// notify runs outside mu so subscribers can read the store.
func (s *Store) notify(snap Snapshot) {
	s.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		cp := snap
		cp.Current = snap.Current.Clone()
		fn(cp)
	}
}
