package verification

import (
	"sync"
	"time"
)

// codeEntry is one outstanding verification code, stored hashed
type codeEntry struct {
	hash         []byte
	expiresAt    time.Time
	attemptsLeft int
}

// CodeStore holds outstanding verification codes keyed by identifier
// (phone number). Operations on different identifiers never contend: each
// identifier has its own lock, and check-and-consume runs as one atomic
// step under it.
type CodeStore struct {
	mu      sync.Mutex
	entries map[string]*codeEntry
	locks   map[string]*sync.Mutex
}

// NewCodeStore creates an empty code store
func NewCodeStore() *CodeStore {
	return &CodeStore{
		entries: make(map[string]*codeEntry),
		locks:   make(map[string]*sync.Mutex),
	}
}

// lock acquires the per-identifier lock and returns its release func
func (s *CodeStore) lock(identifier string) func() {
	s.mu.Lock()
	l, ok := s.locks[identifier]
	if !ok {
		l = &sync.Mutex{}
		s.locks[identifier] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// put replaces any outstanding code for the identifier
func (s *CodeStore) put(identifier string, entry codeEntry) {
	unlock := s.lock(identifier)
	defer unlock()

	s.mu.Lock()
	s.entries[identifier] = &entry
	s.mu.Unlock()
}

// remove drops the outstanding code, if any
func (s *CodeStore) remove(identifier string) {
	unlock := s.lock(identifier)
	defer unlock()

	s.mu.Lock()
	delete(s.entries, identifier)
	s.mu.Unlock()
}

// consume runs fn against the identifier's entry under its lock. fn
// returns whether the entry should be dropped; a nil entry means no code
// is outstanding.
func (s *CodeStore) consume(identifier string, fn func(entry *codeEntry) (drop bool, err error)) error {
	unlock := s.lock(identifier)
	defer unlock()

	s.mu.Lock()
	entry := s.entries[identifier]
	s.mu.Unlock()

	drop, err := fn(entry)
	if drop {
		s.mu.Lock()
		delete(s.entries, identifier)
		s.mu.Unlock()
	}
	return err
}
